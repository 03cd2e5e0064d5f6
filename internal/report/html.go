package report

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/25smoking/Panoptes/internal/core"
)

const reportTemplate = `
<!DOCTYPE html>
<html lang="zh-CN">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Panoptes 扫描报告 - {{ .Report.Target }}</title>
    <style>
        :root {
            --bg-color: #f8f9fa;
            --card-bg: #ffffff;
            --text-color: #333;
            --high: #dc3545;
            --medium: #ffc107;
            --low: #28a745;
            --border-color: #dee2e6;
        }
        body { font-family: 'Segoe UI', sans-serif; background: var(--bg-color); color: var(--text-color); margin: 0; padding: 20px; }
        .container { max-width: 1200px; margin: 0 auto; }
        .header { text-align: center; margin-bottom: 30px; }
        .stats { display: flex; gap: 20px; margin-bottom: 20px; }
        .stat-card { flex: 1; background: var(--card-bg); padding: 20px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); text-align: center; }
        .stat-num { font-size: 2em; font-weight: bold; }
        .high { color: var(--high); }
        .medium { color: var(--medium); }
        .low { color: var(--low); }
        
        .finding-card { background: var(--card-bg); border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); margin-bottom: 15px; border-left: 5px solid #ccc; overflow: hidden; }
        .finding-card.high { border-left-color: var(--high); }
        .finding-card.medium { border-left-color: var(--medium); }
        .finding-card.low { border-left-color: var(--low); }
        
        .finding-header { padding: 15px; background: rgba(0,0,0,0.02); display: flex; justify-content: space-between; align-items: center; cursor: pointer; }
        .finding-title { font-weight: bold; display: flex; align-items: center; gap: 10px; }
        .badge { padding: 4px 8px; border-radius: 4px; color: white; font-size: 0.8em; text-transform: uppercase; }
        .bg-high { background: var(--high); }
        .bg-medium { background: var(--medium); color: black; }
        .bg-low { background: var(--low); }
        .bg-info { background: #6c757d; }
        pre { white-space: pre-wrap; word-break: break-all; margin: 4px 0; }
        
        .finding-body { padding: 15px; display: none; border-top: 1px solid var(--border-color); }
        .finding-body.open { display: block; }
        .detail-row { margin-bottom: 10px; }
        .label { font-weight: bold; color: #666; }
        code { background: #eee; padding: 2px 5px; border-radius: 3px; word-break: break-all; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Panoptes 扫描报告</h1>
            <p>{{ .Report.Name }} · <code>{{ .Report.Target }}</code></p>
            <p>生成时间: {{ .GeneratedAt }} · 耗时 {{ printf "%.2f" .Report.Duration }}s · 运行 ID {{ .Report.RunID }}</p>
        </div>

        <div class="stats">
            <div class="stat-card">
                <div class="stat-num">{{ .Report.FindingCount }}</div>
                <div>发现</div>
            </div>
            <div class="stat-card">
                <div class="stat-num high">{{ index .Report.SeverityCounts "high" }}</div>
                <div>高危</div>
            </div>
            <div class="stat-card">
                <div class="stat-num medium">{{ index .Report.SeverityCounts "medium" }}</div>
                <div>中危</div>
            </div>
            <div class="stat-card">
                <div class="stat-num low">{{ index .Report.SeverityCounts "low" }}</div>
                <div>低危</div>
            </div>
            <div class="stat-card">
                <div class="stat-num">{{ index .Report.SeverityCounts "info" }}</div>
                <div>信息</div>
            </div>
        </div>

        {{ with .Report.Analysis }}
        <div class="finding-card"><div class="finding-body open"><span class="label">总体分析:</span><pre>{{ . }}</pre></div></div>
        {{ end }}

        <div id="findings">
            {{ range .Groups }}
            <h2>{{ .Plugin }} {{ if .Category }}<small>({{ .Category }})</small>{{ end }}</h2>
            {{ if .Error }}
            <div class="finding-card high"><div class="finding-header"><div class="finding-title"><span class="badge bg-high">error</span> {{ .Error }}</div></div></div>
            {{ end }}
            {{ range .Findings }}
            <div class="finding-card {{ .Severity }}">
                <div class="finding-header" onclick="this.nextElementSibling.classList.toggle('open')">
                    <div class="finding-title">
                        <span class="badge bg-{{ .Severity }}">{{ .Severity }}</span>
                        {{ .ItemName }}
                    </div>
                    <div>▼</div>
                </div>
                <div class="finding-body{{ if .Open }} open{{ end }}">
                    <div class="detail-row"><span class="label">结果:</span><pre>{{ .Result }}</pre></div>
                    {{ if .Command }}<div class="detail-row"><span class="label">命令:</span> <code>{{ .Command }}</code></div>{{ end }}
                    {{ if .Analysis }}<div class="detail-row"><span class="label">分析:</span> {{ .Analysis }}</div>{{ end }}
                    <div class="detail-row"><span class="label">用时:</span> {{ printf "%.2f" .Duration }}s · <code>{{ .UUID }}</code></div>
                </div>
            </div>
            {{ end }}
            {{ else }}
            <div style="text-align: center; padding: 40px; color: #666;">
                没有插件结果
            </div>
            {{ end }}
        </div>
    </div>
</body>
</html>
`

type htmlFinding struct {
	Severity string
	ItemName string
	Result   string
	Command  string
	Analysis string
	Duration float64
	UUID     string
	Open     bool
}

type htmlGroup struct {
	Plugin   string
	Category string
	Error    string
	Findings []htmlFinding
}

// ReportData 是 HTML 模板的输入，按插件分组
type ReportData struct {
	GeneratedAt string
	Report      *core.Report
	Groups      []htmlGroup
}

var reportTmpl = template.Must(template.New("report").Parse(reportTemplate))

func buildData(r *core.Report, noFindings core.Predicate) ReportData {
	data := ReportData{
		GeneratedAt: time.Now().Format("2006-01-02 15:04:05"),
		Report:      r,
	}
	for _, b := range r.ScanResults {
		g := htmlGroup{Plugin: b.Plugin, Category: b.Category, Error: b.Error}
		for _, f := range b.Result {
			hf := htmlFinding{
				Severity: f.Severity.String(),
				ItemName: f.ItemName,
				Result:   f.Result,
				Command:  f.Command,
				Duration: f.Duration,
				UUID:     f.ScanItemUUID,
			}
			if f.AnalysisAI != core.AIDisabled {
				hf.Analysis = f.AnalysisAI
			}
			// 真正的发现默认展开
			hf.Open = f.Severity != core.SeverityInfo && (noFindings == nil || !noFindings(f.Result))
			g.Findings = append(g.Findings, hf)
		}
		data.Groups = append(data.Groups, g)
	}
	return data
}

// HTMLPath 由 JSON 报告路径推出同名的 .html 路径
func HTMLPath(jsonPath string) string {
	return strings.TrimSuffix(jsonPath, filepath.Ext(jsonPath)) + ".html"
}

// GenerateHTML 把报告渲染为单文件 HTML
func GenerateHTML(r *core.Report, filename string, noFindings core.Predicate) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("create html directory: %w", err)
	}
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := reportTmpl.Execute(f, buildData(r, noFindings)); err != nil {
		f.Close()
		return fmt.Errorf("render html report: %w", err)
	}
	return f.Close()
}
