package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/25smoking/Panoptes/internal/core"
)

const AIDisabledText = core.AIDisabled

// NewNotify 把 Summarizer 包装成插件使用的回调。
// 返回的 Annotation.Text 总是非空，失败时为 "[AI error] <原因>"。
func NewNotify(s Summarizer, target string) core.Notify {
	if s == nil {
		s = Disabled{}
	}
	return func(ctx context.Context, plugin, itemID, evidence string) core.Annotation {
		text, err := s.Summarize(ctx, Item{Target: target, Plugin: plugin, ItemID: itemID, Evidence: evidence})
		if err == nil && strings.TrimSpace(text) == "" {
			err = ErrEmptyResponse
		}
		if err != nil {
			return core.Annotation{Text: "[AI error] " + err.Error(), Err: err}
		}
		return core.Annotation{Text: text}
	}
}

const (
	maxDigestItems    = 40
	maxDigestEvidence = 500
)

type digestItem struct {
	Plugin   string `json:"plugin"`
	Item     string `json:"item,omitempty"`
	Severity string `json:"severity"`
	Result   string `json:"result"`
}

// Digest 只保留非 info 的发现项并截断证据，没有时取前几条
func Digest(report *core.Report) string {
	var important, rest []digestItem
	for _, b := range report.ScanResults {
		for _, f := range b.Result {
			d := digestItem{
				Plugin:   b.Plugin,
				Item:     f.ItemName,
				Severity: f.Severity.String(),
				Result:   truncate(f.Result, maxDigestEvidence),
			}
			if f.Severity > core.SeverityInfo {
				important = append(important, d)
			} else {
				rest = append(rest, d)
			}
		}
	}
	if len(important) == 0 {
		important = rest
	}
	if len(important) > maxDigestItems {
		important = important[:maxDigestItems]
	}

	data, _ := json.MarshalIndent(struct {
		Target       string       `json:"target"`
		FindingCount int          `json:"finding_count"`
		Findings     []digestItem `json:"findings"`
	}{report.Target, report.FindingCount, important}, "", "  ")
	return string(data)
}

// AnalyzeReport 为整份报告生成 analysis 字段；Disabled 时返回空串
func AnalyzeReport(ctx context.Context, s Summarizer, report *core.Report) (string, error) {
	if s == nil {
		return "", nil
	}
	if _, off := s.(Disabled); off {
		return "", nil
	}
	text, err := s.Analyze(ctx, Digest(report))
	if err != nil {
		return "", fmt.Errorf("analyze report: %w", err)
	}
	return strings.TrimSpace(text), nil
}
