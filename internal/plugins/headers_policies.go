package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/25smoking/Panoptes/internal/core"
	"github.com/25smoking/Panoptes/internal/plugins/httpx"
)

const (
	uuidCacheHeaders  = "uuid-021"
	uuidPolicyHeaders = "uuid-029"
)

var sensitiveHints = []string{
	"login", "signin", "account", "profile", "checkout", "cart", "payment",
	"admin", "reset", "2fa", "mfa", "settings", "invoice", "token",
}

// HeadersPoliciesPlugin 检查敏感页面的缓存头以及 Referrer-Policy / Permissions-Policy
type HeadersPoliciesPlugin struct{}

func (p *HeadersPoliciesPlugin) Info() core.Info {
	return core.Info{
		ID:          "headers_policies",
		Name:        "HeadersPolicies",
		Description: "Checks cache headers on sensitive pages and Referrer-Policy / Permissions-Policy.",
		Category:    "headers",
		ConfigName:  "headers_policies",
		Aliases:     []string{"referrer_permissions", "cache_headers"},
	}
}

func isSensitivePath(u string) bool {
	u = strings.ToLower(u)
	for _, h := range sensitiveHints {
		if strings.Contains(u, h) {
			return true
		}
	}
	return false
}

func (p *HeadersPoliciesPlugin) Run(ctx context.Context, target string, notify core.Notify, cfg core.Config) (*core.Block, error) {
	name := p.Info().Name
	client := httpx.New(cfg)
	allSensitive := cfg.Bool("treat_all_as_sensitive", false)

	var urls []string
	for _, path := range cfg.Strings("paths", []string{"/", "/login", "/account"}) {
		urls = append(urls, httpx.Join(target, path))
	}
	urls = append(urls, cfg.Strings("extra_urls", nil)...)

	var cacheEvid, policyEvid []string
	cacheSev, policySev := core.SeverityInfo, core.SeverityInfo

	t := core.StartTimer()
	for _, u := range urls {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := client.Head(ctx, u)
		if err != nil {
			continue
		}
		h := resp.Header

		if allSensitive || isSensitivePath(u) {
			cc, pragma := h.Get("Cache-Control"), h.Get("Pragma")
			var miss []string
			if cc == "" {
				miss = append(miss, "Cache-Control missing")
			} else {
				low := strings.ToLower(cc)
				if !strings.Contains(low, "no-store") {
					miss = append(miss, "no-store missing")
				}
				if !strings.Contains(low, "no-cache") {
					miss = append(miss, "no-cache missing")
				}
				if !strings.Contains(low, "must-revalidate") && !strings.Contains(low, "private") {
					miss = append(miss, "must-revalidate/private missing")
				}
			}
			if pragma == "" {
				miss = append(miss, "Pragma missing (no-cache)")
			}
			if len(miss) > 0 {
				cacheEvid = append(cacheEvid, fmt.Sprintf("%s :: %s", u, strings.Join(miss, ", ")))
				cacheSev = core.SeverityMedium
			} else {
				cacheEvid = append(cacheEvid, fmt.Sprintf("%s :: cache OK (%s; Pragma: %s)", u, cc, pragma))
			}
		}

		var parts []string
		if rp := h.Get("Referrer-Policy"); rp == "" {
			parts = append(parts, "Referrer-Policy missing")
			policySev = core.SeverityLow
		} else {
			parts = append(parts, "Referrer-Policy: "+rp)
		}
		if pp := h.Get("Permissions-Policy"); pp == "" {
			parts = append(parts, "Permissions-Policy missing")
			policySev = core.SeverityLow
		} else {
			parts = append(parts, "Permissions-Policy: "+pp)
		}
		policyEvid = append(policyEvid, u+" :: "+strings.Join(parts, " | "))
	}
	duration := t.Stop()

	return &core.Block{
		Plugin:   name,
		Category: "headers",
		Result: []core.Finding{
			item(ctx, notify, name, uuidCacheHeaders, "Cache-Control/Pragma on sensitive content",
				summarize(cacheEvid, "Cache-Control/Pragma on sensitive content", 20), cacheSev, duration),
			item(ctx, notify, name, uuidPolicyHeaders, "Referrer-Policy / Permissions-Policy",
				summarize(policyEvid, "Referrer-Policy / Permissions-Policy headers", 20), policySev, duration),
		},
	}, nil
}
