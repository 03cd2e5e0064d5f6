package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/25smoking/Panoptes/internal/core"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestResolverPrefersExactMatch(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"curl_headers.json":      `{"which":"exact"}`,
		"curl_headers_full.json": `{"which":"prefix"}`,
	})
	r := NewResolver(dir, nil)

	cfg := r.Resolve("curl_headers", nil)
	if cfg.String("which", "") != "exact" {
		t.Errorf("cfg = %v", cfg)
	}
	file, s := r.Match("Curl-Headers", nil)
	if file != "curl_headers.json" || s != MatchExact {
		t.Errorf("Match = %s, %d", file, s)
	}
}

func TestResolverStrengths(t *testing.T) {
	tests := []struct {
		key, stem string
		want      int
	}{
		{"curlheaders", "curlheaders", MatchExact},
		{"curl", "curlheaders", MatchAffix},
		{"headers", "curlheaders", MatchAffix},
		{"curlheadersextended", "curlheaders", MatchAffix},
		{"rlhea", "curlheaders", MatchSubstring},
		{"nmap", "curlheaders", MatchNone},
		{"", "curlheaders", MatchNone},
	}
	for _, tt := range tests {
		if got := strength(tt.key, tt.stem); got != tt.want {
			t.Errorf("strength(%q, %q) = %d, want %d", tt.key, tt.stem, got, tt.want)
		}
	}
}

func TestResolverTieBreak(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"nmap_top_ports_b.json": `{"which":"long"}`,
		"nmap_top_b.json":       `{"which":"short-b"}`,
		"nmap_top_a.json":       `{"which":"short-a"}`,
	})
	r := NewResolver(dir, nil)
	file, s := r.Match("nmap", nil)
	if s != MatchAffix || file != "nmap_top_a.json" {
		t.Errorf("Match = %s, %d", file, s)
	}
}

func TestResolverAliases(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"spf.json": `{"which":"alias"}`})
	r := NewResolver(dir, nil)
	cfg := r.Resolve("spf_dmarc_check", []string{"spf"})
	if cfg.String("which", "") != "alias" {
		t.Errorf("cfg = %v", cfg)
	}
}

func TestResolverEmptyResults(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"broken.json": `{not json`,
		"list.json":   `[1, 2, 3]`,
		"notes.txt":   `{"which":"ignored"}`,
	})
	r := NewResolver(dir, nil)

	for _, name := range []string{"broken", "list", "notes", "unrelated"} {
		cfg := r.Resolve(name, nil)
		if cfg == nil || len(cfg) != 0 {
			t.Errorf("Resolve(%q) = %v, want empty", name, cfg)
		}
	}

	missing := NewResolver(filepath.Join(dir, "does-not-exist"), nil)
	if cfg := missing.Resolve("anything", nil); cfg == nil || len(cfg) != 0 {
		t.Errorf("missing dir cfg = %v", cfg)
	}
	empty := NewResolver("", nil)
	if cfg := empty.Resolve("anything", nil); cfg == nil || len(cfg) != 0 {
		t.Errorf("empty dir cfg = %v", cfg)
	}
}

func TestResolverReturnsIndependentCopies(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"crawler.json": `{"paths":["/a"]}`})
	r := NewResolver(dir, nil)

	a := r.Resolve("crawler", nil)
	a["paths"] = []any{"/mutated"}
	b := r.Resolve("crawler", nil)
	if got := b.Strings("paths", nil); len(got) != 1 || got[0] != "/a" {
		t.Errorf("second resolve saw mutation: %v", got)
	}
}

// timeoutEcho 把解析到的 timeout 写进结果，用于观察插件实际拿到的配置
type timeoutEcho struct{}

func (timeoutEcho) Info() core.Info {
	return core.Info{ID: "slow_check", Name: "SlowCheck", Aliases: []string{"slow"}}
}

func (timeoutEcho) Run(_ context.Context, _ string, _ core.Notify, cfg core.Config) (*core.Block, error) {
	return &core.Block{Plugin: "SlowCheck", Result: []core.Finding{
		{Result: fmt.Sprintf("timeout=%d", cfg.Int("timeout", 12))},
	}}, nil
}

func TestRunnerWithEmptyConfigDirUsesDefaults(t *testing.T) {
	r := &core.Runner{Workers: 1, Configs: NewResolver(t.TempDir(), nil)}
	run := r.Run(context.Background(), "https://example.com", []core.Plugin{timeoutEcho{}})
	if len(run.Blocks) != 1 || run.Blocks[0].Error != "" {
		t.Fatalf("blocks = %+v", run.Blocks)
	}
	if got := run.Blocks[0].Result[0].Result; got != "timeout=12" {
		t.Errorf("result = %q, want plugin default timeout=12", got)
	}
}
