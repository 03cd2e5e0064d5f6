// Package shell 封装外部命令执行，供探测插件调用 curl、dig、nmap 等工具
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout 未指定超时时使用
const DefaultTimeout = 30 * time.Second

var ErrTimeout = errors.New("command timed out")

// Result 是一次命令执行的完整结果。Err 为 nil 表示退出码为 0。
type Result struct {
	Command string
	// Output 为 Stdout 与 Stderr 依次拼接
	Output   string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	Duration time.Duration
}

// OK 命令成功执行且退出码为 0
func (r Result) OK() bool { return r.Err == nil }

// Seconds 耗时秒数，保留三位小数
func (r Result) Seconds() float64 {
	return math.Round(r.Duration.Seconds()*1000) / 1000
}

// Timeout 是否因超时被终止
func (r Result) Timeout() bool { return errors.Is(r.Err, ErrTimeout) }

// Text 返回带标记的文本：非零退出为 [CMD ERROR] + 输出，其余失败为 [CMD FAILURE] + 原因
func (r Result) Text() string {
	if r.Err == nil {
		return r.Output
	}
	var exitErr *exec.ExitError
	if errors.As(r.Err, &exitErr) {
		return "[CMD ERROR] " + r.Output
	}
	return "[CMD FAILURE] " + r.Err.Error()
}

// Execute 直接执行 argv（不经过 shell），stdout 与 stderr 依次拼接到 Output。
// 不会 panic，所有失败都体现在 Result.Err 中。
func Execute(ctx context.Context, timeout time.Duration, argv ...string) Result {
	return run(ctx, timeout, nil, argv)
}

// ExecuteInput 与 Execute 相同，并把 stdin 写入子进程标准输入
func ExecuteInput(ctx context.Context, timeout time.Duration, stdin []byte, argv ...string) Result {
	return run(ctx, timeout, stdin, argv)
}

func run(ctx context.Context, timeout time.Duration, stdin []byte, argv []string) Result {
	res := Result{Command: Join(argv), ExitCode: -1}
	if len(argv) == 0 || argv[0] == "" {
		res.Err = errors.New("empty command")
		return res
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // 命令由插件构造
	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	setProcessGroup(cmd)
	cmd.WaitDelay = 2 * time.Second
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Output = res.Stdout + res.Stderr

	if err == nil {
		res.ExitCode = 0
		return res
	}

	// 上层 context 先结束时（运行截止或取消）报告上层的原因，而不是本命令的超时
	if parentErr := ctx.Err(); parentErr != nil {
		res.Err = fmt.Errorf("%s: %w", res.Command, parentErr)
		return res
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		res.Err = fmt.Errorf("%w after %v: %s", ErrTimeout, timeout, res.Command)
		return res
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		res.ExitCode = exitErr.ExitCode()
		res.Err = fmt.Errorf("%s: %w", res.Command, exitErr)
		return res
	}
	res.Err = fmt.Errorf("%s: %w", res.Command, err)
	return res
}

// LookPath 判断工具是否在 PATH 中
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Join 把 argv 拼成可复制粘贴的命令行
func Join(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = quote(a)
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
