package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/25smoking/Panoptes/internal/core"
	"github.com/25smoking/Panoptes/internal/plugins/httpx"
	"github.com/25smoking/Panoptes/internal/shell"
)

const (
	uuidSecurityHeaders = "uuid-018-security-headers"
	uuidServerBanner    = "uuid-019-server-banner"
)

var reVersion = regexp.MustCompile(`\d+(\.\d+)+`)

// CurlHeadersPlugin 用 curl 获取响应头并检查常见安全头
type CurlHeadersPlugin struct{}

func (p *CurlHeadersPlugin) Info() core.Info {
	return core.Info{
		ID:          "curl_headers",
		Name:        "CurlHeaders",
		Description: "Fetches the HTTP response headers with curl and checks common security headers.",
		Category:    "headers",
		ConfigName:  "curl_headers",
		Aliases:     []string{"security_headers", "headers"},
	}
}

func (p *CurlHeadersPlugin) Run(ctx context.Context, target string, notify core.Notify, cfg core.Config) (*core.Block, error) {
	if !shell.LookPath("curl") {
		return nil, errors.New("curl not found in PATH")
	}
	timeout := cfg.Duration("timeout", 20*time.Second)
	url := httpx.NormalizeTarget(target)
	name := p.Info().Name

	argv := []string{"curl", "-sS", "-I", "-L", "-m", fmt.Sprint(int(timeout.Seconds()))}
	if cfg.Bool("insecure", true) {
		argv = append(argv, "-k")
	}
	argv = append(argv, url)

	t := core.StartTimer()
	res := shell.Execute(ctx, timeout+2*time.Second, argv...)
	duration := t.Stop()

	status, headers := parseHeaders(res.Output)
	if status == "" {
		f := item(ctx, notify, name, uuidSecurityHeaders, "Security headers",
			"Could not read response headers: "+res.Text(), core.SeverityInfo, duration)
		f.Command = res.Command
		return &core.Block{Plugin: name, Result: []core.Finding{f}}, nil
	}

	missing, sev := checkSecurityHeaders(url, headers)
	text := summarize(missing, "missing security headers", 0)
	if len(missing) == 0 {
		text += " (" + status + ")"
	} else {
		text = status + "\n" + text
	}
	secItem := item(ctx, notify, name, uuidSecurityHeaders, "Security headers", text, sev, duration)
	secItem.Command = res.Command

	banner, bannerSev := serverBanner(headers)
	bannerItem := item(ctx, notify, name, uuidServerBanner, "Server banner", banner, bannerSev, duration)
	bannerItem.Command = res.Command

	return &core.Block{
		Plugin:   name,
		Category: "headers",
		Result:   []core.Finding{secItem, bannerItem},
	}, nil
}

// checkSecurityHeaders HSTS/CSP 缺失为 medium，其余为 low
func checkSecurityHeaders(url string, h http.Header) ([]string, core.Severity) {
	var missing []string
	sev := core.SeverityInfo

	if strings.HasPrefix(url, "https://") && h.Get("Strict-Transport-Security") == "" {
		missing = append(missing, "Strict-Transport-Security missing")
		sev = maxSeverity(sev, core.SeverityMedium)
	}
	csp := h.Get("Content-Security-Policy")
	if csp == "" {
		missing = append(missing, "Content-Security-Policy missing")
		sev = maxSeverity(sev, core.SeverityMedium)
	}
	if h.Get("X-Frame-Options") == "" && !strings.Contains(strings.ToLower(csp), "frame-ancestors") {
		missing = append(missing, "X-Frame-Options missing (and no CSP frame-ancestors)")
		sev = maxSeverity(sev, core.SeverityLow)
	}
	if !strings.EqualFold(h.Get("X-Content-Type-Options"), "nosniff") {
		missing = append(missing, "X-Content-Type-Options: nosniff missing")
		sev = maxSeverity(sev, core.SeverityLow)
	}
	return missing, sev
}

// serverBanner 带版本号的 Server/X-Powered-By 视为 low
func serverBanner(h http.Header) (string, core.Severity) {
	var parts []string
	sev := core.SeverityInfo
	for _, k := range []string{"Server", "X-Powered-By", "X-AspNet-Version"} {
		v := h.Get(k)
		if v == "" {
			continue
		}
		parts = append(parts, k+": "+v)
		if reVersion.MatchString(v) {
			sev = core.SeverityLow
		}
	}
	if len(parts) == 0 {
		return "No findings for server banner disclosure", core.SeverityInfo
	}
	return strings.Join(parts, "\n"), sev
}
