package plugins

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/25smoking/Panoptes/internal/core"
	"github.com/25smoking/Panoptes/internal/plugins/httpx"
	"github.com/25smoking/Panoptes/internal/shell"
)

const (
	uuidCertExpiry  = "uuid-077-cert-expiry"
	uuidCertSubject = "uuid-078-cert-subject"

	opensslDateLayout = "Jan _2 15:04:05 2006 MST"
)

// CertDatesPlugin 读取目标 TLS 证书的有效期、主体和签发者
type CertDatesPlugin struct {
	// now 仅用于测试
	now func() time.Time
}

func (p *CertDatesPlugin) Info() core.Info {
	return core.Info{
		ID:          "openssl_cert_dates",
		Name:        "OpenSSLCertDates",
		Description: "Reads the TLS certificate validity dates, subject and issuer with openssl.",
		Category:    "tls",
		ConfigName:  "openssl_cert_dates",
		Aliases:     []string{"cert_dates", "tls_cert"},
	}
}

// CertInfo 是 openssl x509 -dates -subject -issuer 的解析结果
type CertInfo struct {
	NotBefore time.Time
	NotAfter  time.Time
	Subject   string
	Issuer    string
}

// ParseCertDates 解析 openssl x509 的键值输出，缺少 notAfter 时报错
func ParseCertDates(out string) (CertInfo, error) {
	var ci CertInfo
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "notbefore":
			if t, err := time.Parse(opensslDateLayout, v); err == nil {
				ci.NotBefore = t
			}
		case "notafter":
			t, err := time.Parse(opensslDateLayout, v)
			if err != nil {
				return ci, fmt.Errorf("parse notAfter %q: %w", v, err)
			}
			ci.NotAfter = t
		case "subject":
			ci.Subject = v
		case "issuer":
			ci.Issuer = v
		}
	}
	if ci.NotAfter.IsZero() {
		return ci, errors.New("notAfter not found in openssl output")
	}
	return ci, nil
}

// expiryFinding 过期为 high，warnDays 天内到期为 low
func expiryFinding(ci CertInfo, now time.Time, warnDays int) (string, core.Severity) {
	days := int(ci.NotAfter.Sub(now).Hours() / 24)
	expires := ci.NotAfter.UTC().Format(time.RFC3339)
	switch {
	case now.After(ci.NotAfter):
		return fmt.Sprintf("Certificate expired on %s (%d days ago)", expires, -days), core.SeverityHigh
	case days <= warnDays:
		return fmt.Sprintf("Certificate expires on %s (in %d days)", expires, days), core.SeverityLow
	}
	return fmt.Sprintf("No findings for certificate expiry: valid until %s (%d days left)", expires, days), core.SeverityInfo
}

func (p *CertDatesPlugin) Run(ctx context.Context, target string, notify core.Notify, cfg core.Config) (*core.Block, error) {
	if !shell.LookPath("openssl") || !shell.LookPath("bash") {
		return nil, errors.New("openssl/bash not found in PATH")
	}
	name := p.Info().Name
	host := httpx.Host(target)
	port := cfg.Int("port", 443)
	timeout := cfg.Duration("timeout", 20*time.Second)
	warnDays := cfg.Int("warn_days", 30)

	script := fmt.Sprintf(
		"echo | openssl s_client -servername %s -connect %s 2>/dev/null | openssl x509 -noout -dates -subject -issuer",
		shell.Join([]string{host}), shell.Join([]string{fmt.Sprintf("%s:%d", host, port)}),
	)
	res := shell.Execute(ctx, timeout, "bash", "-lc", script)

	ci, err := ParseCertDates(res.Output)
	if err != nil {
		text := "Could not read certificate: " + err.Error()
		if !res.OK() {
			text = "Could not read certificate: " + res.Text()
		}
		f := item(ctx, notify, name, uuidCertExpiry, "Certificate validity", text, core.SeverityInfo, res.Seconds())
		f.Command = res.Command
		return &core.Block{Plugin: name, Category: "tls", Result: []core.Finding{f}}, nil
	}

	now := time.Now()
	if p.now != nil {
		now = p.now()
	}
	text, sev := expiryFinding(ci, now, warnDays)
	expiry := item(ctx, notify, name, uuidCertExpiry, "Certificate validity", text, sev, res.Seconds())
	expiry.Command = res.Command

	subject := item(ctx, notify, name, uuidCertSubject, "Certificate subject/issuer",
		fmt.Sprintf("Subject: %s\nIssuer: %s\nNot before: %s", ci.Subject, ci.Issuer, ci.NotBefore.UTC().Format(time.RFC3339)),
		core.SeverityInfo, res.Seconds())
	subject.Command = res.Command

	return &core.Block{
		Plugin:   name,
		Category: "tls",
		Result:   []core.Finding{expiry, subject},
	}, nil
}
