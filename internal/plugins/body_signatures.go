package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/25smoking/Panoptes/internal/config"
	"github.com/25smoking/Panoptes/internal/core"
	"github.com/25smoking/Panoptes/internal/pkg/yara_lite"
	"github.com/25smoking/Panoptes/internal/plugins/httpx"
)

const uuidBodySignatures = "uuid-040-body-signatures"

// BodySignaturesPlugin 用 YARA-Lite 规则匹配响应头与响应体，发现信息泄露
type BodySignaturesPlugin struct {
	RulesDir string
}

func (p *BodySignaturesPlugin) Info() core.Info {
	return core.Info{
		ID:          "body_signatures",
		Name:        "BodySignatures",
		Description: "Matches response headers and bodies against YARA-Lite signatures for information disclosure.",
		Category:    "disclosure",
		ConfigName:  "body_signatures",
		Aliases:     []string{"signatures", "yara"},
	}
}

func (p *BodySignaturesPlugin) Run(ctx context.Context, target string, notify core.Notify, cfg core.Config) (*core.Block, error) {
	name := p.Info().Name
	fsys, dir := config.RulesFS(cfg.String("rules_dir", p.RulesDir))
	scanner, err := yara_lite.NewScanner(fsys, dir)
	if scanner == nil {
		return nil, fmt.Errorf("load signatures: %w", err)
	}
	if len(scanner.Rules) == 0 {
		return nil, fmt.Errorf("no signatures loaded from %s: %v", dir, err)
	}

	client := httpx.New(cfg)
	type hit struct {
		match yara_lite.Match
		urls  []string
	}
	hits := map[string]*hit{}

	t := core.StartTimer()
	for _, path := range cfg.Strings("paths", []string{"/"}) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		u := httpx.Join(target, path)
		resp, err := client.Get(ctx, u)
		if err != nil {
			continue
		}
		var buf strings.Builder
		buf.WriteString(resp.StatusLine)
		buf.WriteByte('\n')
		_ = resp.Header.Write(&buf)
		buf.WriteByte('\n')
		buf.Write(resp.Body)

		for _, m := range scanner.Scan([]byte(buf.String())) {
			h, ok := hits[m.Rule]
			if !ok {
				h = &hit{match: m}
				hits[m.Rule] = h
			}
			h.urls = append(h.urls, resp.URL)
		}
	}
	duration := t.Stop()

	if len(hits) == 0 {
		f := item(ctx, notify, name, uuidBodySignatures, "Response signatures",
			fmt.Sprintf("No findings for response signatures (%d rules)", len(scanner.Rules)), core.SeverityInfo, duration)
		return &core.Block{Plugin: name, Category: "disclosure", Result: []core.Finding{f}}, nil
	}

	rules := make([]string, 0, len(hits))
	for r := range hits {
		rules = append(rules, r)
	}
	sort.Strings(rules)

	results := make([]core.Finding, 0, len(rules))
	for _, r := range rules {
		h := hits[r]
		lines := []string{"URLs: " + strings.Join(h.urls, ", ")}
		if h.match.Description != "" {
			lines = append(lines, h.match.Description)
		}
		for i, s := range h.match.Strings {
			lines = append(lines, fmt.Sprintf("%s: %s", s, h.match.Snippets[i]))
		}
		results = append(results, item(ctx, notify, name, uuidBodySignatures+"-"+strings.ToLower(r), r,
			strings.Join(lines, "\n"), core.ParseSeverity(h.match.Severity), duration))
	}
	return &core.Block{Plugin: name, Category: "disclosure", Result: results}, nil
}
