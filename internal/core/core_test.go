package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func nopLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

// fakePlugin 是测试用的可配置插件
type fakePlugin struct {
	info  Info
	run   func(ctx context.Context, target string, notify Notify, cfg Config) (*Block, error)
	calls atomic.Int32
}

func (f *fakePlugin) Info() Info { return f.info }

func (f *fakePlugin) Run(ctx context.Context, target string, notify Notify, cfg Config) (*Block, error) {
	f.calls.Add(1)
	return f.run(ctx, target, notify, cfg)
}

func okPlugin(id string, findings ...Finding) *fakePlugin {
	return &fakePlugin{
		info: Info{ID: id, Name: id},
		run: func(context.Context, string, Notify, Config) (*Block, error) {
			res := append([]Finding{}, findings...)
			return &Block{Plugin: id, Result: res}, nil
		},
	}
}

func errPlugin(id string, err error) *fakePlugin {
	return &fakePlugin{
		info: Info{ID: id, Name: id},
		run: func(context.Context, string, Notify, Config) (*Block, error) {
			return nil, err
		},
	}
}

func panicPlugin(id string) *fakePlugin {
	return &fakePlugin{
		info: Info{ID: id, Name: id},
		run: func(context.Context, string, Notify, Config) (*Block, error) {
			panic("boom")
		},
	}
}

func blockNames(blocks []*Block) []string {
	names := make([]string, 0, len(blocks))
	for _, b := range blocks {
		names = append(names, b.Plugin)
	}
	return names
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"high", SeverityHigh},
		{"HIGH", SeverityHigh},
		{" medium ", SeverityMedium},
		{"low", SeverityLow},
		{"info", SeverityInfo},
		{"critical", SeverityInfo},
		{"", SeverityInfo},
	}
	for _, tt := range tests {
		if got := ParseSeverity(tt.in); got != tt.want {
			t.Errorf("ParseSeverity(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSeverityJSON(t *testing.T) {
	var f Finding
	if err := json.Unmarshal([]byte(`{"result":"x","severity":42}`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Severity != SeverityInfo {
		t.Errorf("numeric severity decoded as %v, want info", f.Severity)
	}

	data, err := json.Marshal(Finding{Result: "x", Severity: SeverityHigh})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"severity":"high"`) {
		t.Errorf("encoded finding = %s", data)
	}
}

func TestCountFindings(t *testing.T) {
	pred := PrefixPredicate("Nenhum achado", "No findings")
	blocks := []*Block{
		{Plugin: "a", Result: []Finding{
			{Result: "X", Severity: SeverityHigh},
			{Result: "Nenhum achado relevante", Severity: SeverityMedium},
		}},
		{Plugin: "b", Result: []Finding{
			{Result: "banner", Severity: SeverityInfo},
			{Result: "open port", Severity: SeverityLow},
		}},
		{Plugin: "c", Result: []Finding{}, Error: "boom"},
	}
	if got := CountFindings(blocks, pred); got != 2 {
		t.Errorf("CountFindings = %d, want 2", got)
	}
	if got := CountFindings(blocks, nil); got != 3 {
		t.Errorf("CountFindings without predicate = %d, want 3", got)
	}

	counts := SeverityCounts(blocks)
	if counts["high"] != 1 || counts["medium"] != 1 || counts["low"] != 1 || counts["info"] != 1 {
		t.Errorf("SeverityCounts = %v", counts)
	}
}

func TestCountFindingsSingleBlock(t *testing.T) {
	blocks := []*Block{{Plugin: "p", Result: []Finding{
		{Result: "X", Severity: SeverityHigh},
		{Result: "Nenhum achado relevante", Severity: SeverityMedium},
	}}}
	if got := CountFindings(blocks, PrefixPredicate("Nenhum achado")); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}

func TestValidateRaw(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		ok   bool
	}{
		{"valid bytes", []byte(`{"plugin":"p","result":[{"result":"r","severity":"weird"}]}`), true},
		{"valid map", map[string]any{"plugin": "p", "result": []any{}}, true},
		{"missing result", map[string]any{"plugin": "p"}, false},
		{"result not array", map[string]any{"plugin": "p", "result": "nope"}, false},
		{"missing plugin", map[string]any{"result": []any{}}, false},
		{"empty plugin", map[string]any{"plugin": "", "result": []any{}}, true},
		{"plugin not string", map[string]any{"plugin": 3, "result": []any{}}, false},
		{"not object", []any{1, 2}, false},
		{"bad json", []byte(`{`), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ValidateRaw(tt.raw)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok {
				if !errors.Is(err, ErrInvalidBlock) {
					t.Fatalf("err = %v, want ErrInvalidBlock", err)
				}
				return
			}
			for _, f := range b.Result {
				if f.Severity != SeverityInfo {
					t.Errorf("unknown severity not normalized: %v", f.Severity)
				}
			}
		})
	}
}

func TestValidateBlock(t *testing.T) {
	if err := ValidateBlock(nil); err == nil {
		t.Error("nil block accepted")
	}
	if err := ValidateBlock(&Block{Plugin: "p"}); err == nil {
		t.Error("block without result accepted")
	}
	if err := ValidateBlock(&Block{Result: []Finding{}}); err != nil {
		t.Errorf("block with empty plugin name rejected: %v", err)
	}
	if err := ValidateBlock(&Block{Plugin: "p", Result: []Finding{}}); err != nil {
		t.Errorf("empty result rejected: %v", err)
	}
}

func TestSafeRun(t *testing.T) {
	info := Info{ID: "p", Name: "Plugin P", UUID: "u-1", Description: "d"}

	b := SafeRun(context.Background(), &fakePlugin{info: info, run: func(context.Context, string, Notify, Config) (*Block, error) {
		return nil, errors.New("boom")
	}}, "t", disabledNotify, Config{}, nopLogger())
	if b.Error != "boom" || b.Plugin != "Plugin P" || len(b.Result) != 0 || b.Result == nil {
		t.Errorf("error block = %+v", b)
	}
	if b.PluginUUID != "u-1" || b.FileName != "p" {
		t.Errorf("metadata not filled: %+v", b)
	}

	b = SafeRun(context.Background(), &fakePlugin{info: info, run: func(context.Context, string, Notify, Config) (*Block, error) {
		panic(fmt.Errorf("kaput"))
	}}, "t", disabledNotify, Config{}, nopLogger())
	if b.Error != "panic: kaput" {
		t.Errorf("panic block error = %q", b.Error)
	}
}

func TestRunnerIsolation(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			plugins := []Plugin{
				okPlugin("a", Finding{Result: "x", Severity: SeverityLow}),
				errPlugin("b", errors.New("boom")),
				panicPlugin("c"),
				okPlugin("d"),
			}
			r := &Runner{Workers: workers}
			res := r.Run(context.Background(), "http://t", plugins)

			if len(res.Blocks) != len(plugins) {
				t.Fatalf("got %d blocks, want %d", len(res.Blocks), len(plugins))
			}
			errs := map[string]string{}
			for _, b := range res.Blocks {
				errs[b.Plugin] = b.Error
			}
			if errs["b"] != "boom" {
				t.Errorf("b error = %q", errs["b"])
			}
			if errs["c"] != "panic: boom" {
				t.Errorf("c error = %q", errs["c"])
			}
			if errs["a"] != "" || errs["d"] != "" {
				t.Errorf("healthy plugins got errors: %v", errs)
			}
			if r.State() != StateDone {
				t.Errorf("state = %v, want done", r.State())
			}
		})
	}
}

func TestRunnerDiscardsInvalid(t *testing.T) {
	invalid := &fakePlugin{
		info: Info{ID: "bad"},
		run: func(context.Context, string, Notify, Config) (*Block, error) {
			return &Block{Plugin: "bad"}, nil
		},
	}
	r := &Runner{Workers: 1}
	res := r.Run(context.Background(), "t", []Plugin{invalid, okPlugin("good")})
	if len(res.Blocks) != 1 || res.Blocks[0].Plugin != "good" {
		t.Fatalf("blocks = %v", blockNames(res.Blocks))
	}
	if res.Discarded != 1 {
		t.Errorf("discarded = %d, want 1", res.Discarded)
	}
}

func TestRunnerSequentialOrder(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		okPlugin("z_check", Finding{Result: "z", Severity: SeverityHigh}),
		okPlugin("a_check", Finding{Result: "a", Severity: SeverityLow}),
	)
	r := &Runner{Workers: 1}
	res := r.Run(context.Background(), "t", reg.Plugins(Filter{}))

	got := blockNames(res.Blocks)
	if strings.Join(got, ",") != "a_check,z_check" {
		t.Errorf("order = %v", got)
	}
	if n := CountFindings(res.Blocks, PrefixPredicate("No findings")); n != 2 {
		t.Errorf("finding count = %d, want 2", n)
	}
}

func TestRunnerConcurrentMatchesSequential(t *testing.T) {
	build := func() []Plugin {
		var ps []Plugin
		for i := 0; i < 8; i++ {
			id := fmt.Sprintf("p%02d", i)
			ps = append(ps, okPlugin(id, Finding{Result: id, Severity: Severity(i % 4)}))
		}
		return ps
	}
	seq := (&Runner{Workers: 1}).Run(context.Background(), "t", build())
	con := (&Runner{Workers: 3}).Run(context.Background(), "t", build())

	a, b := blockNames(seq.Blocks), blockNames(con.Blocks)
	sort.Strings(a)
	sort.Strings(b)
	if strings.Join(a, ",") != strings.Join(b, ",") {
		t.Errorf("sequential %v != concurrent %v", a, b)
	}
	if CountFindings(seq.Blocks, nil) != CountFindings(con.Blocks, nil) {
		t.Error("finding counts differ")
	}
}

type mapSource map[string]Config

func (m mapSource) Resolve(name string, _ []string) Config {
	if c, ok := m[name]; ok {
		return c.Clone()
	}
	return Config{}
}

func TestRunnerPassesIndependentConfig(t *testing.T) {
	src := mapSource{"cfgp": {"timeout": float64(5), "paths": []any{"/a"}}}
	mutate := &fakePlugin{
		info: Info{ID: "cfgp", Name: "cfgp"},
		run: func(_ context.Context, _ string, _ Notify, cfg Config) (*Block, error) {
			if cfg.Int("timeout", 0) != 5 {
				return nil, errors.New("config not resolved")
			}
			cfg["timeout"] = float64(99)
			return &Block{Plugin: "cfgp", Result: []Finding{}}, nil
		},
	}
	r := &Runner{Workers: 1, Configs: src}
	for i := 0; i < 2; i++ {
		res := r.Run(context.Background(), "t", []Plugin{mutate})
		if res.Blocks[0].Error != "" {
			t.Fatalf("run %d: %s", i, res.Blocks[0].Error)
		}
	}
}

func TestRunnerDeadline(t *testing.T) {
	slow := &fakePlugin{
		info: Info{ID: "a_slow", Name: "slow"},
		run: func(ctx context.Context, _ string, _ Notify, _ Config) (*Block, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	late := okPlugin("b_late")
	r := &Runner{Workers: 1, Deadline: 20 * time.Millisecond}
	res := r.Run(context.Background(), "t", []Plugin{slow, late})

	if len(res.Blocks) != 2 {
		t.Fatalf("got %d blocks", len(res.Blocks))
	}
	for _, b := range res.Blocks {
		if !strings.Contains(b.Error, "deadline exceeded") {
			t.Errorf("%s: error = %q", b.Plugin, b.Error)
		}
	}
	if late.calls.Load() != 0 {
		t.Error("plugin dispatched after deadline")
	}
}

func TestRunnerNotify(t *testing.T) {
	var seen string
	p := &fakePlugin{
		info: Info{ID: "n"},
		run: func(ctx context.Context, target string, notify Notify, _ Config) (*Block, error) {
			a := notify(ctx, "n", "item-1", "evidence")
			return &Block{Plugin: "n", Result: []Finding{{Result: target, AnalysisAI: a.Text}}}, nil
		},
	}
	r := &Runner{Workers: 1, OnComplete: func(b *Block, _ time.Duration) { seen = b.Plugin }}
	res := r.Run(context.Background(), "target-x", []Plugin{p})
	f := res.Blocks[0].Result[0]
	if f.AnalysisAI != AIDisabled || f.Result != "target-x" {
		t.Errorf("finding = %+v", f)
	}
	if seen != "n" {
		t.Errorf("OnComplete saw %q", seen)
	}
}

func TestFilter(t *testing.T) {
	tests := []struct {
		f    Filter
		id   string
		want bool
	}{
		{Filter{}, "any", true},
		{Filter{Include: []string{"Curl_Headers"}}, "curl_headers", true},
		{Filter{Include: []string{"curl_headers"}}, "nmap", false},
		{Filter{Include: []string{"x"}, Exclude: []string{"X"}}, "x", false},
		{Filter{Exclude: []string{"nmap"}}, "curl", true},
	}
	for _, tt := range tests {
		if got := tt.f.Allows(tt.id); got != tt.want {
			t.Errorf("%+v.Allows(%q) = %v, want %v", tt.f, tt.id, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(okPlugin("one")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(okPlugin("ONE")); !errors.Is(err, ErrDuplicatePlugin) {
		t.Errorf("duplicate err = %v", err)
	}
	if err := reg.Register(okPlugin("a/b")); err == nil {
		t.Error("id with separator accepted")
	}
	if reg.Len() != 1 {
		t.Errorf("len = %d", reg.Len())
	}

	merged := Merge([]Plugin{okPlugin("b")}, []Plugin{okPlugin("a"), okPlugin("B")}, nopLogger())
	var ids []string
	for _, p := range merged {
		ids = append(ids, p.Info().ID)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Errorf("merged = %v", ids)
	}
}

func TestConfigAccessors(t *testing.T) {
	var cfg Config
	if err := json.Unmarshal([]byte(`{"n":3,"s":"x","b":true,"l":["a","b"],"d":"2s","nested":{"k":1}}`), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Int("n", 0) != 3 || cfg.String("s", "") != "x" || !cfg.Bool("b", false) {
		t.Errorf("scalar accessors failed: %v", cfg)
	}
	if got := cfg.Strings("l", nil); len(got) != 2 {
		t.Errorf("Strings = %v", got)
	}
	if cfg.Duration("d", 0) != 2*time.Second || cfg.Duration("n", 0) != 3*time.Second {
		t.Error("Duration accessor failed")
	}
	if cfg.Int("missing", 7) != 7 {
		t.Error("default not used")
	}

	cp := cfg.Clone()
	cp["nested"].(map[string]any)["k"] = 2
	if cfg["nested"].(map[string]any)["k"].(float64) != 1 {
		t.Error("Clone shares nested maps")
	}
}

func TestMeasure(t *testing.T) {
	var elapsed float64 = -1
	err := Measure(&elapsed, func() error {
		time.Sleep(5 * time.Millisecond)
		return errors.New("body failed")
	})
	if err == nil || err.Error() != "body failed" {
		t.Errorf("err = %v", err)
	}
	if elapsed <= 0 {
		t.Errorf("elapsed = %v", elapsed)
	}

	elapsed = -1
	func() {
		defer func() { _ = recover() }()
		_ = Measure(&elapsed, func() error { panic("x") })
	}()
	if elapsed < 0 {
		t.Error("duration not recorded on panic")
	}
}

func TestAssembleAndPersist(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := RunResult{
		Blocks: []*Block{{Plugin: "p", Result: []Finding{
			{Result: "X", Severity: SeverityHigh},
			{Result: "No findings here", Severity: SeverityLow},
		}}},
		Started:  now,
		Finished: now.Add(1500 * time.Millisecond),
	}
	meta := RunMeta{Target: "https://example.com", Name: "demo", ClientKey: "k"}
	rep := Assemble(meta, run, PrefixPredicate("No findings"))

	if rep.FindingCount != 1 || rep.Duration != 1.5 || rep.RunID == "" {
		t.Errorf("report = %+v", rep)
	}

	dir := t.TempDir()
	path := DefaultReportPath(filepath.Join(dir, "out"), now)
	if filepath.Base(path) != "scan_result_20240501_120000.json" {
		t.Errorf("path = %s", path)
	}
	if err := Persist(rep, path); err != nil {
		t.Fatalf("persist: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Persist(rep, path); err != nil {
		t.Fatalf("second persist: %v", err)
	}
	second, _ := os.ReadFile(path)
	if string(first) != string(second) {
		t.Error("persist is not idempotent")
	}

	var decoded map[string]any
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if decoded["target"] != "https://example.com" || decoded["cliente_api"] != "k" {
		t.Errorf("decoded = %v", decoded)
	}
	if _, ok := decoded["analysis"]; !ok {
		t.Error("analysis key missing")
	}
	if !strings.HasPrefix(string(first), "{\n  \"run_id\"") {
		t.Errorf("unexpected indentation: %.40q", first)
	}
}

func TestAssembleEmptyRun(t *testing.T) {
	rep := Assemble(RunMeta{Target: "t"}, RunResult{}, nil)
	if rep.ScanResults == nil || rep.FindingCount != 0 {
		t.Errorf("report = %+v", rep)
	}
	data, _ := json.Marshal(rep)
	if !strings.Contains(string(data), `"scan_results":[]`) {
		t.Errorf("scan_results not an empty list: %s", data)
	}
}

func TestRunAndAssembleMixedPlugins(t *testing.T) {
	plugins := []Plugin{
		okPlugin("headers",
			Finding{Result: "CSP missing", Severity: SeverityHigh},
			Finding{Result: "banner hidden", Severity: SeverityInfo},
		),
		okPlugin("quiet"),
		errPlugin("broken", errors.New("tool not installed")),
	}
	for _, workers := range []int{1, 3} {
		run := (&Runner{Workers: workers, Log: nopLogger()}).Run(context.Background(), "https://example.com", plugins)
		rep := Assemble(RunMeta{Target: "https://example.com"}, run, PrefixPredicate("No findings"))

		if len(rep.ScanResults) != 3 {
			t.Fatalf("workers=%d: blocks = %v", workers, blockNames(rep.ScanResults))
		}
		if rep.FindingCount != 1 {
			t.Errorf("workers=%d: finding_count = %d, want 1", workers, rep.FindingCount)
		}
		var errored []string
		for _, b := range rep.ScanResults {
			if b.Error != "" {
				errored = append(errored, b.Plugin)
				if len(b.Result) != 0 {
					t.Errorf("error block has findings: %+v", b)
				}
			}
		}
		if len(errored) != 1 || errored[0] != "broken" {
			t.Errorf("workers=%d: error blocks = %v", workers, errored)
		}
		if rep.SeverityCounts["high"] != 1 || rep.SeverityCounts["info"] != 1 {
			t.Errorf("workers=%d: severity counts = %v", workers, rep.SeverityCounts)
		}
	}
}
