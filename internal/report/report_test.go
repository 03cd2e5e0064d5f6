package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/25smoking/Panoptes/internal/core"
)

func sampleReport() *core.Report {
	noFindings := core.PrefixPredicate("No findings")
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	run := core.RunResult{
		Started:  start,
		Finished: start.Add(1500 * time.Millisecond),
		Blocks: []*core.Block{
			{Plugin: "CurlHeaders", Category: "headers", Result: []core.Finding{
				{ScanItemUUID: "uuid-018", ItemName: "Security headers", Result: "- Content-Security-Policy missing <script>", Severity: core.SeverityMedium, AnalysisAI: core.AIDisabled},
				{ScanItemUUID: "uuid-019", ItemName: "Server banner", Result: "No findings for server banner disclosure", Severity: core.SeverityInfo},
			}},
			{Plugin: "NmapTopPorts", Error: "nmap not found in PATH", Result: []core.Finding{}},
		},
	}
	return core.Assemble(core.RunMeta{Target: "https://e.com", Name: "Nightly"}, run, noFindings)
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false, core.PrefixPredicate("No findings"))
	r := sampleReport()

	c.PluginStart(core.Info{ID: "curl_headers", Name: "CurlHeaders"})
	c.PluginComplete(r.ScanResults[0], 1200*time.Millisecond)
	c.PluginComplete(r.ScanResults[1], 0)
	c.Results(r)
	c.Summary(r, "out/scan.json")

	out := buf.String()
	for _, want := range []string{
		"[CurlHeaders] 启动扫描",
		"[CurlHeaders] 完成 - 用时 1.20s - 发现 1 项",
		"[NmapTopPorts] 失败",
		"(1/1) [CurlHeaders] Security headers",
		"nmap not found in PATH",
		"out/scan.json",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("colors written with color disabled")
	}
	if strings.Contains(out, "Server banner") {
		t.Error("no-findings item listed as a finding")
	}
}

func TestGenerateHTML(t *testing.T) {
	r := sampleReport().WithAnalysis("overall fine")
	path := filepath.Join(t.TempDir(), "nested", "scan.html")
	if err := GenerateHTML(r, path, core.PrefixPredicate("No findings")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	html := string(data)
	for _, want := range []string{"CurlHeaders", "nmap not found in PATH", "overall fine", "&lt;script&gt;", "finding-body open"} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q", want)
		}
	}
	if strings.Contains(html, core.AIDisabled) {
		t.Error("disabled AI marker rendered")
	}
	if got := HTMLPath("out/scan_result_1.json"); got != "out/scan_result_1.html" {
		t.Errorf("HTMLPath = %q", got)
	}
}

func TestSignFile(t *testing.T) {
	dir := t.TempDir()
	entity, err := openpgp.NewEntity("Panoptes Test", "", "test@example.com", nil)
	if err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(dir, "key.asc")
	var keyBuf bytes.Buffer
	w, err := armor.Encode(&keyBuf, openpgp.PrivateKeyType, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		t.Fatal(err)
	}
	w.Close()
	if err := os.WriteFile(keyPath, keyBuf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}

	reportPath := filepath.Join(dir, "scan.json")
	if err := os.WriteFile(reportPath, []byte(`{"run_id":"x"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	signer, err := LoadSigner(keyPath, "")
	if err != nil {
		t.Fatal(err)
	}
	sigPath, err := SignFile(reportPath, signer)
	if err != nil {
		t.Fatal(err)
	}
	if sigPath != reportPath+SignatureSuffix {
		t.Errorf("sigPath = %q", sigPath)
	}

	data, _ := os.Open(reportPath)
	defer data.Close()
	sig, _ := os.Open(sigPath)
	defer sig.Close()
	if _, err := openpgp.CheckArmoredDetachedSignature(openpgp.EntityList{entity}, data, sig, nil); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}

	if _, err := LoadSigner(filepath.Join(dir, "missing.asc"), ""); err == nil {
		t.Error("expected error for missing key")
	}
}
