package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
)

// Origin 记录发起扫描的主机，任一字段查询失败时为 null
type Origin struct {
	Hostname *string `json:"hostname"`
	IP       *string `json:"ip"`
	OS       *string `json:"os"`
	User     *string `json:"user"`
}

// RunMeta 是报告的描述性元数据
type RunMeta struct {
	Target      string
	Name        string
	Description string
	ClientKey   string
	Origin      Origin
}

// Report 是一次运行的最终报告，组装后不再修改
type Report struct {
	RunID          string         `json:"run_id"`
	ClientKey      string         `json:"cliente_api,omitempty"`
	Name           string         `json:"name"`
	Target         string         `json:"target"`
	Description    string         `json:"description"`
	Timestamp      string         `json:"timestamp"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	Duration       float64        `json:"duration"`
	Origin         Origin         `json:"origin"`
	FindingCount   int            `json:"finding_count"`
	SeverityCounts map[string]int `json:"severity_counts"`
	Analysis       *string        `json:"analysis"`
	ScanResults    []*Block       `json:"scan_results"`
}

// Assemble 按运行结果构造报告，finding_count 由 noFindings 规则推导
func Assemble(meta RunMeta, run RunResult, noFindings Predicate) *Report {
	blocks := run.Blocks
	if blocks == nil {
		blocks = []*Block{}
	}
	return &Report{
		RunID:          uuid.NewString(),
		ClientKey:      meta.ClientKey,
		Name:           meta.Name,
		Target:         meta.Target,
		Description:    meta.Description,
		Timestamp:      run.Finished.UTC().Format(time.RFC3339),
		StartedAt:      run.Started,
		FinishedAt:     run.Finished,
		Duration:       run.Duration(),
		Origin:         meta.Origin,
		FindingCount:   CountFindings(blocks, noFindings),
		SeverityCounts: SeverityCounts(blocks),
		ScanResults:    blocks,
	}
}

// WithAnalysis 返回附带汇总分析的副本
func (r *Report) WithAnalysis(text string) *Report {
	cp := *r
	if text == "" {
		cp.Analysis = nil
	} else {
		cp.Analysis = &text
	}
	return &cp
}

// LookupOrigin 尽力获取本机信息，单项失败不影响其他字段
func LookupOrigin(ctx context.Context) Origin {
	var o Origin

	var hostname string
	if info, err := host.InfoWithContext(ctx); err == nil {
		hostname = info.Hostname
		osName := strings.TrimSpace(fmt.Sprintf("%s %s %s", info.Platform, info.PlatformVersion, info.KernelArch))
		if osName == "" {
			osName = info.OS
		}
		o.OS = strPtr(osName)
	} else {
		o.OS = strPtr(runtime.GOOS + "/" + runtime.GOARCH)
	}
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		}
	}
	if hostname != "" {
		o.Hostname = strPtr(hostname)
		o.IP = lookupIP(ctx, hostname)
	}
	if u, err := user.Current(); err == nil {
		o.User = strPtr(u.Username)
	}
	return o
}

func lookupIP(ctx context.Context, hostname string) *string {
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, hostname)
	if err != nil || len(ips) == 0 {
		return nil
	}
	for _, ip := range ips {
		if v4 := ip.IP.To4(); v4 != nil {
			return strPtr(v4.String())
		}
	}
	return strPtr(ips[0].IP.String())
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DefaultReportPath 为每次运行生成带时间戳的文件名
func DefaultReportPath(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("scan_result_%s.json", now.Format("20060102_150405")))
}

// Persist 覆盖写入格式化 JSON。先写临时文件再重命名，失败时原文件不变。
func Persist(report *Report, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".report-*.json")
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(report); err != nil {
		f.Close()
		return fmt.Errorf("encode report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
