// Package report 负责扫描过程的终端输出以及 HTML 报告、报告签名
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/25smoking/Panoptes/internal/core"
)

// ANSI 颜色代码
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorWhite  = "\033[37m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
)

// 图标
const (
	IconSuccess = "✓"
	IconWarning = "⚠"
	IconError   = "✗"
	IconInfo    = "ℹ"
	IconScan    = "🔍"
	IconShield  = "🛡"
)

// Console 把扫描进度和结果写到终端。并发调度时插件回调可能同时到达，输出按行加锁。
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
	// NoFindings 判断结果文本是否为“无发现”
	NoFindings core.Predicate
}

func NewConsole(w io.Writer, color bool, noFindings core.Predicate) *Console {
	return &Console{w: w, color: color, NoFindings: noFindings}
}

func (c *Console) paint(color, s string) string {
	if !c.color || color == "" {
		return s
	}
	return color + s + ColorReset
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func (c *Console) Banner(version string) {
	banner := `
╔═══════════════════════════════════════════════════════════════╗
║     ____                        _                             ║
║    |  _ \ __ _ _ __   ___  _ __ | |_ ___  ___                 ║
║    | |_) / _' | '_ \ / _ \| '_ \| __/ _ \/ __|                ║
║    |  __/ (_| | | | | (_) | |_) | ||  __/\__ \                ║
║    |_|   \__,_|_| |_|\___/| .__/ \__\___||___/                ║
║                           |_|                                 ║
║              插件化 Web 应用安全扫描器                        ║
║                  Web Security Scanner ` + fmt.Sprintf("%-24s", version) + `║
╚═══════════════════════════════════════════════════════════════╝
`
	c.printf("%s\n", c.paint(ColorCyan, banner))
}

func (c *Console) Section(title string) {
	line := strings.Repeat("─", 65)
	c.printf("\n%s\n%s %s\n%s\n\n",
		c.paint(ColorBlue, "┌"+line+"┐"),
		c.paint(ColorBlue, "│"), c.paint(ColorBold+ColorWhite, title),
		c.paint(ColorBlue, "└"+line+"┘"))
}

// PluginStart 作为 Runner.OnStart 回调
func (c *Console) PluginStart(info core.Info) {
	c.printf("%s %s 启动扫描...\n", IconScan, c.paint(ColorCyan, "["+info.DisplayName()+"]"))
}

// PluginComplete 作为 Runner.OnComplete 回调
func (c *Console) PluginComplete(b *core.Block, elapsed time.Duration) {
	if b.Error != "" {
		c.printf("%s %s 失败 - 用时 %s - %s\n",
			IconError, c.paint(ColorRed, "["+b.Plugin+"]"),
			c.paint(ColorDim, fmt.Sprintf("%.2fs", elapsed.Seconds())), b.Error)
		return
	}
	n := core.CountFindings([]*core.Block{b}, c.NoFindings)
	icon, color := IconSuccess, ColorGreen
	if n > 0 {
		icon, color = IconWarning, ColorYellow
	}
	c.printf("%s %s 完成 - 用时 %s - 发现 %s 项\n",
		icon, c.paint(color, "["+b.Plugin+"]"),
		c.paint(ColorDim, fmt.Sprintf("%.2fs", elapsed.Seconds())),
		c.paint(color, fmt.Sprint(n)))
}

func (c *Console) levelStyle(sev core.Severity) (string, string) {
	switch sev {
	case core.SeverityHigh:
		return IconError, ColorRed + ColorBold
	case core.SeverityMedium:
		return IconWarning, ColorYellow
	case core.SeverityLow:
		return IconInfo, ColorCyan
	default:
		return IconInfo, ColorWhite
	}
}

// Results 打印统计和非 info 的发现项；失败的插件单独列出
func (c *Console) Results(r *core.Report) {
	if r.FindingCount == 0 {
		c.Section("扫描结果")
		c.printf("%s %s 未发现安全问题\n\n", IconShield, c.paint(ColorGreen, "[CLEAN]"))
	} else {
		c.Section("风险统计")
		c.printf("  %s High: %s  %s Medium: %s  %s Low: %s  %s Info: %s\n\n",
			IconError, c.paint(ColorRed, fmt.Sprintf("%-3d", r.SeverityCounts["high"])),
			IconWarning, c.paint(ColorYellow, fmt.Sprintf("%-3d", r.SeverityCounts["medium"])),
			IconInfo, c.paint(ColorCyan, fmt.Sprintf("%-3d", r.SeverityCounts["low"])),
			IconInfo, c.paint(ColorWhite, fmt.Sprintf("%-3d", r.SeverityCounts["info"])))

		c.Section("发现详情")
		i := 0
		for _, b := range r.ScanResults {
			for _, f := range b.Result {
				if f.Severity == core.SeverityInfo || (c.NoFindings != nil && c.NoFindings(f.Result)) {
					continue
				}
				i++
				icon, color := c.levelStyle(f.Severity)
				c.printf("%s (%d/%d) [%s] %s\n", c.paint(ColorBold, icon), i, r.FindingCount, b.Plugin, f.ItemName)
				c.printf("  %s %s\n", c.paint(ColorDim, "级别:"), c.paint(color, f.Severity.String()))
				c.printf("  %s %s\n", c.paint(ColorDim, "结果:"), indent(firstLines(f.Result, 6), "        "))
				if f.AnalysisAI != "" && f.AnalysisAI != core.AIDisabled {
					c.printf("  %s %s\n", c.paint(ColorDim, "分析:"), c.paint(ColorYellow, firstLines(f.AnalysisAI, 3)))
				}
				c.printf("\n")
			}
		}
	}

	var failed []*core.Block
	for _, b := range r.ScanResults {
		if b.Error != "" {
			failed = append(failed, b)
		}
	}
	if len(failed) > 0 {
		c.Section("插件错误")
		for _, b := range failed {
			c.printf("%s [%s] %s\n", c.paint(ColorRed, IconError), b.Plugin, b.Error)
		}
		c.printf("\n")
	}
}

// Summary 打印运行摘要；path 为空表示报告未写入
func (c *Console) Summary(r *core.Report, path string) {
	c.Section("扫描摘要")
	c.printf("  %s %s\n", c.paint(ColorDim, "目标:    "), r.Target)
	c.printf("  %s %s\n", c.paint(ColorDim, "开始时间:"), r.StartedAt.Format("2006-01-02 15:04:05"))
	c.printf("  %s %s\n", c.paint(ColorDim, "总耗时:  "), c.paint(ColorGreen, fmt.Sprintf("%.2f 秒", r.Duration)))
	c.printf("  %s %s\n", c.paint(ColorDim, "插件数:  "), fmt.Sprint(len(r.ScanResults)))
	c.printf("  %s %s\n", c.paint(ColorDim, "总发现:  "), c.paint(ColorYellow, fmt.Sprintf("%d 项", r.FindingCount)))
	if path != "" {
		c.printf("  %s %s\n", c.paint(ColorDim, "报告:    "), path)
	}
	c.printf("\n")
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-n)
}

func indent(s, prefix string) string {
	return strings.ReplaceAll(s, "\n", "\n"+prefix)
}
