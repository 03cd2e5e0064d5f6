package shell

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if !LookPath("sh") {
		t.Skip("sh not found")
	}
}

func TestExecuteSuccess(t *testing.T) {
	requireShell(t)
	res := Execute(context.Background(), time.Second, "sh", "-c", "echo out; echo err 1>&2")
	if !res.OK() || res.ExitCode != 0 {
		t.Fatalf("res = %+v", res)
	}
	if res.Output != "out\nerr\n" {
		t.Errorf("output = %q", res.Output)
	}
	if res.Text() != res.Output {
		t.Errorf("Text() = %q", res.Text())
	}
	if res.Command != "sh -c 'echo out; echo err 1>&2'" {
		t.Errorf("command = %q", res.Command)
	}
}

func TestExecuteExitCode(t *testing.T) {
	requireShell(t)
	res := Execute(context.Background(), time.Second, "sh", "-c", "echo partial; exit 3")
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
	var exitErr *exec.ExitError
	if !errors.As(res.Err, &exitErr) {
		t.Errorf("err = %v, want ExitError", res.Err)
	}
	if !strings.HasPrefix(res.Text(), "[CMD ERROR] partial") {
		t.Errorf("Text() = %q", res.Text())
	}
}

func TestExecuteMissingBinary(t *testing.T) {
	res := Execute(context.Background(), time.Second, "definitely-not-a-real-binary-xyz")
	if res.Err == nil || res.ExitCode != -1 {
		t.Fatalf("res = %+v", res)
	}
	if !strings.HasPrefix(res.Text(), "[CMD FAILURE]") {
		t.Errorf("Text() = %q", res.Text())
	}
}

func TestExecuteTimeout(t *testing.T) {
	requireShell(t)
	start := time.Now()
	res := Execute(context.Background(), 100*time.Millisecond, "sh", "-c", "sleep 5 & sleep 5")
	if !errors.Is(res.Err, ErrTimeout) || !res.Timeout() {
		t.Fatalf("err = %v, want ErrTimeout", res.Err)
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
	if time.Since(start) > 4*time.Second {
		t.Error("process group was not killed in time")
	}
}

func TestExecuteParentDeadline(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res := Execute(ctx, time.Hour, "sleep", "5")
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", res.Err)
	}
	if res.Timeout() || strings.Contains(res.Err.Error(), "1h0m0s") {
		t.Errorf("parent deadline reported as command timeout: %v", res.Err)
	}
}

func TestExecuteInput(t *testing.T) {
	requireShell(t)
	res := ExecuteInput(context.Background(), time.Second, []byte("hello"), "sh", "-c", "cat; echo warn >&2")
	if !res.OK() {
		t.Fatalf("res = %+v", res)
	}
	if res.Stdout != "hello" || res.Stderr != "warn\n" {
		t.Errorf("stdout = %q, stderr = %q", res.Stdout, res.Stderr)
	}
}

func TestExecuteInputKillsBackgroundChildren(t *testing.T) {
	requireShell(t)
	marker := filepath.Join(t.TempDir(), "marker")
	start := time.Now()
	res := ExecuteInput(context.Background(), 200*time.Millisecond, []byte("{}"),
		"sh", "-c", "(sleep 1; touch "+marker+") & sleep 3")
	if !res.Timeout() {
		t.Fatalf("err = %v, want timeout", res.Err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("command outlived its timeout")
	}
	time.Sleep(1500 * time.Millisecond)
	if _, err := os.Stat(marker); err == nil {
		t.Error("background child survived the timeout")
	}
}

func TestExecuteEmpty(t *testing.T) {
	if res := Execute(context.Background(), 0); res.Err == nil {
		t.Error("empty argv accepted")
	}
}

func TestJoin(t *testing.T) {
	got := Join([]string{"curl", "-H", "X-A: b", "it's", ""})
	want := `curl -H 'X-A: b' 'it'\''s' ''`
	if got != want {
		t.Errorf("Join = %s, want %s", got, want)
	}
}
