// Package plugins 包含内置的 Web 探测插件
package plugins

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/25smoking/Panoptes/internal/core"
)

// Options 是构造内置插件时需要的进程级参数
type Options struct {
	// RulesDir 为空或不存在时使用内嵌签名规则
	RulesDir string
}

// All 返回全部内置插件
func All(opts Options) []core.Plugin {
	return []core.Plugin{
		&CurlHeadersPlugin{},
		&HeadersPoliciesPlugin{},
		&SensitiveFilesPlugin{},
		&SPFDMARCPlugin{},
		&CertDatesPlugin{},
		&NmapTopPortsPlugin{},
		&CrawlerPlugin{},
		&BodySignaturesPlugin{RulesDir: opts.RulesDir},
	}
}

// NewRegistry 注册全部内置插件
func NewRegistry(opts Options) *core.Registry {
	reg := core.NewRegistry()
	reg.MustRegister(All(opts)...)
	return reg
}

// Tools 列出内置插件依赖的外部命令
func Tools() map[string][]string {
	return map[string][]string{
		"curl_headers":       {"curl"},
		"spf_dmarc_check":    {"dig"},
		"openssl_cert_dates": {"bash", "openssl"},
		"nmap_top_ports":     {"nmap"},
	}
}

// summarize 把证据行整理成列表；没有证据时返回 "No findings for ..."
func summarize(lines []string, checklist string, max int) string {
	if len(lines) == 0 {
		return "No findings for " + checklist
	}
	if max <= 0 || max > len(lines) {
		max = len(lines)
	}
	var b strings.Builder
	for i, l := range lines[:max] {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(l)
	}
	if extra := len(lines) - max; extra > 0 {
		fmt.Fprintf(&b, "\n... +%d more", extra)
	}
	return b.String()
}

// item 构造一条自动发现项，并通过 notify 请求分析
func item(ctx context.Context, notify core.Notify, plugin, uuid, name, result string, sev core.Severity, duration float64) core.Finding {
	f := core.Finding{
		ScanItemUUID: uuid,
		PluginUUID:   uuid,
		ItemName:     name,
		Result:       result,
		Severity:     sev,
		Duration:     duration,
		Auto:         true,
	}
	if notify != nil {
		f.AnalysisAI = notify(ctx, plugin, uuid, result).Text
	}
	return f
}

func maxSeverity(a, b core.Severity) core.Severity {
	if a > b {
		return a
	}
	return b
}

// parseHeaders 解析 curl -I 的输出；有重定向时取最后一个响应
func parseHeaders(raw string) (string, http.Header) {
	status := ""
	h := http.Header{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(strings.ToUpper(line), "HTTP/") {
			status = strings.TrimSpace(line)
			h = http.Header{}
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok && status != "" {
			h.Add(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
	return status, h
}
