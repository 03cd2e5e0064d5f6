package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/25smoking/Panoptes/internal/core"
)

const (
	FormatRaw        = "raw"
	FormatController = "controller"
)

// HTTPSink 以 JSON POST 报告，带 Bearer 认证
type HTTPSink struct {
	URL    string
	Token  string
	Format string
	Client *http.Client
}

func NewHTTPSink(url, token, format string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSink{
		URL:    url,
		Token:  token,
		Format: format,
		Client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPSink) Name() string { return "http " + h.URL }

func (h *HTTPSink) payload(report *core.Report) any {
	if strings.EqualFold(h.Format, FormatController) {
		return ControllerPayload(report)
	}
	return report
}

func (h *HTTPSink) Send(ctx context.Context, report *core.Report) Status {
	st := Status{Sink: h.Name()}

	body, err := json.Marshal(h.payload(report))
	if err != nil {
		st.Err = fmt.Errorf("encode payload: %w", err)
		return st
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		st.Err = fmt.Errorf("build request: %w", err)
		return st
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		st.Err = err
		return st
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	st.Code = resp.StatusCode
	st.Message = strings.TrimSpace(string(data))
	st.OK = resp.StatusCode >= 200 && resp.StatusCode < 300
	return st
}

// ControllerScan 是收集端控制器接受的单次扫描格式
type ControllerScan struct {
	APIKey          string           `json:"api_key"`
	ScanName        string           `json:"scan_name"`
	ScanDescription string           `json:"scan_description"`
	Target          string           `json:"target"`
	Status          string           `json:"status"`
	FindingCount    int              `json:"finding_count"`
	Analysis        *string          `json:"analysis"`
	Duration        string           `json:"duration"`
	ScanResults     []ControllerItem `json:"scan_results"`
}

// ControllerItem 是展平后的单个发现项。analisys 拼写由收集端决定。
type ControllerItem struct {
	ScanItemID   *string `json:"scan_item_id"`
	ScanID       *string `json:"scan_id"`
	Result       string  `json:"result"`
	Analysis     string  `json:"analisys"`
	Duration     string  `json:"duration"`
	Severity     string  `json:"severity"`
	Item         string  `json:"item"`
	Status       string  `json:"status"`
	Evidence     *string `json:"evidence"`
	ScanItemUUID string  `json:"scan_item_uuid"`
	Plugin       string  `json:"plugin"`
	Auto         string  `json:"auto"`
}

type ControllerEnvelope struct {
	Results []ControllerScan `json:"results"`
}

// ControllerPayload 把报告展平为 {"results":[...]}
func ControllerPayload(report *core.Report) ControllerEnvelope {
	scan := ControllerScan{
		APIKey:          report.ClientKey,
		ScanName:        report.Name,
		ScanDescription: report.Description,
		Target:          report.Target,
		Status:          "completed",
		FindingCount:    report.FindingCount,
		Analysis:        report.Analysis,
		Duration:        formatSeconds(report.Duration),
		ScanResults:     []ControllerItem{},
	}
	if scan.ScanName == "" {
		scan.ScanName = "Automated Scan"
	}

	for _, b := range report.ScanResults {
		for _, f := range b.Result {
			auto := "N"
			if f.Auto {
				auto = "Y"
			}
			scan.ScanResults = append(scan.ScanResults, ControllerItem{
				Result:       f.Result,
				Analysis:     f.AnalysisAI,
				Duration:     formatSeconds(f.Duration),
				Severity:     f.Severity.String(),
				Item:         b.Plugin,
				Status:       "completed",
				ScanItemUUID: f.ScanItemUUID,
				Plugin:       b.Plugin,
				Auto:         auto,
			})
		}
	}
	return ControllerEnvelope{Results: []ControllerScan{scan}}
}

func formatSeconds(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
