package plugins

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/25smoking/Panoptes/internal/core"
	"github.com/25smoking/Panoptes/internal/plugins/httpx"
)

const (
	uuidCrawlerEndpoints = "uuid-008-crawler_endpoints"
	uuidCrawlerInputs    = "uuid-009-crawler_inputs"
)

// CrawlerPlugin 在同一主机内做有限深度的广度优先爬取，列出端点与输入点
type CrawlerPlugin struct{}

func (p *CrawlerPlugin) Info() core.Info {
	return core.Info{
		ID:          "crawler_endpoints",
		Name:        "CrawlerEndpoints",
		Description: "Crawls same-host links up to a fixed depth and lists endpoints, query parameters and forms.",
		Category:    "discovery",
		ConfigName:  "crawler_endpoints",
		Aliases:     []string{"crawler", "endpoints"},
	}
}

// Page 是一次抓取中提取的链接与表单
type Page struct {
	Links []string
	Forms []string
}

// ExtractPage 解析 HTML，返回相对 base 解析后的链接和表单描述
func ExtractPage(base *url.URL, body []byte) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, err
	}
	var page Page
	resolve := func(ref string) (string, bool) {
		ref = strings.TrimSpace(ref)
		if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "javascript:") || strings.HasPrefix(strings.ToLower(ref), "mailto:") {
			return "", false
		}
		u, err := base.Parse(ref)
		if err != nil {
			return "", false
		}
		u.Fragment = ""
		return u.String(), true
	}

	doc.Find("a[href], link[href], script[src], iframe[src]").Each(func(_ int, s *goquery.Selection) {
		ref, ok := s.Attr("href")
		if !ok {
			ref, _ = s.Attr("src")
		}
		if u, ok := resolve(ref); ok {
			page.Links = append(page.Links, u)
		}
	})
	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		action, _ := s.Attr("action")
		method := strings.ToUpper(s.AttrOr("method", "GET"))
		target, ok := resolve(action)
		if !ok {
			target = base.String()
		}
		var fields []string
		s.Find("input[name], select[name], textarea[name]").Each(func(_ int, in *goquery.Selection) {
			fields = append(fields, in.AttrOr("name", ""))
		})
		page.Forms = append(page.Forms, fmt.Sprintf("%s %s [%s]", method, target, strings.Join(fields, ", ")))
		if ok {
			page.Links = append(page.Links, target)
		}
	})
	return page, nil
}

func (p *CrawlerPlugin) Run(ctx context.Context, target string, notify core.Notify, cfg core.Config) (*core.Block, error) {
	name := p.Info().Name
	client := httpx.New(cfg)
	maxDepth := cfg.Int("depth", 2)
	maxURLs := cfg.Int("max_urls", 100)

	start, err := url.Parse(httpx.NormalizeTarget(target))
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}

	type node struct {
		url   string
		depth int
	}
	seen := map[string]bool{start.String(): true}
	queue := []node{{start.String(), 0}}
	var endpoints, inputs []string
	formSeen := map[string]bool{}

	t := core.StartTimer()
	for len(queue) > 0 && len(endpoints) < maxURLs {
		if ctx.Err() != nil {
			break
		}
		n := queue[0]
		queue = queue[1:]

		resp, err := client.Get(ctx, n.url)
		if err != nil {
			continue
		}
		endpoints = append(endpoints, fmt.Sprintf("%s (%d)", n.url, resp.Status))
		if u, err := url.Parse(n.url); err == nil && u.RawQuery != "" {
			inputs = append(inputs, fmt.Sprintf("query %s ?%s", u.Path, strings.Join(sortedKeys(u.Query()), "&")))
		}

		if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
			continue
		}
		base, err := url.Parse(resp.URL)
		if err != nil {
			continue
		}
		page, err := ExtractPage(base, resp.Body)
		if err != nil {
			continue
		}
		for _, f := range page.Forms {
			if !formSeen[f] {
				formSeen[f] = true
				inputs = append(inputs, "form "+f)
			}
		}
		if n.depth >= maxDepth {
			continue
		}
		for _, link := range page.Links {
			u, err := url.Parse(link)
			if err != nil || u.Hostname() != start.Hostname() || (u.Scheme != "http" && u.Scheme != "https") {
				continue
			}
			if !seen[link] {
				seen[link] = true
				queue = append(queue, node{link, n.depth + 1})
			}
		}
	}
	duration := t.Stop()

	inputSev := core.SeverityInfo
	if len(inputs) > 0 {
		inputSev = core.SeverityLow
	}
	return &core.Block{
		Plugin:   name,
		Category: "discovery",
		Result: []core.Finding{
			item(ctx, notify, name, uuidCrawlerEndpoints, "Crawled endpoints",
				summarize(endpoints, "crawled endpoints", 50), core.SeverityInfo, duration),
			item(ctx, notify, name, uuidCrawlerInputs, "Input points (query parameters and forms)",
				summarize(inputs, "input points", 50), inputSev, duration),
		},
	}, nil
}

func sortedKeys(v url.Values) []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
