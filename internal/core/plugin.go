package core

import (
	"context"
	"encoding/json"
	"strings"
)

// Severity 表示发现项的风险等级，按 info < low < medium < high 排序
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

var severityNames = [...]string{"info", "low", "medium", "high"}

// ParseSeverity 不区分大小写；无法识别的值一律视为 info
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	default:
		return SeverityInfo
	}
}

func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityHigh {
		return severityNames[SeverityInfo]
	}
	return severityNames[s]
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON 永不失败：非字符串、null 或未知取值都落到 info
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		*s = SeverityInfo
		return nil
	}
	*s = ParseSeverity(raw)
	return nil
}

// Finding 是单个检查项的输出
type Finding struct {
	ScanItemUUID string   `json:"scan_item_uuid"`
	PluginUUID   string   `json:"plugin_uuid,omitempty"`
	ItemName     string   `json:"item_name,omitempty"`
	Result       string   `json:"result"`
	Severity     Severity `json:"severity"`
	Duration     float64  `json:"duration"`
	Auto         bool     `json:"auto"`
	Reference    string   `json:"reference,omitempty"`
	Command      string   `json:"command,omitempty"`
	AnalysisAI   string   `json:"analysis_ai,omitempty"`
}

// Block 是一次插件调用的完整返回
type Block struct {
	Plugin      string    `json:"plugin"`
	PluginUUID  string    `json:"plugin_uuid,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Result      []Finding `json:"result"`
	// Error 只由调度器填写，插件本身不设置
	Error string `json:"error,omitempty"`
}

// Info 描述一个插件。ID 相当于插件文件名（不含扩展名），用于排序和过滤。
type Info struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	UUID        string   `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string   `json:"category,omitempty" yaml:"category,omitempty"`
	ConfigName  string   `json:"config_name,omitempty" yaml:"config_name,omitempty"`
	Aliases     []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// DisplayName 返回报告中使用的插件名
func (i Info) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.ID
}

// ConfigKey 返回配置解析使用的规范名
func (i Info) ConfigKey() string {
	if i.ConfigName != "" {
		return i.ConfigName
	}
	return i.ID
}

// AIDisabled 是 AI 摘要关闭时返回的占位文本
const AIDisabled = "[AI disabled]"

// Annotation 是 notify 回调的结果。Text 永远非空，失败时 Err 不为 nil。
type Annotation struct {
	Text string
	Err  error
}

func (a Annotation) String() string { return a.Text }

// Notify 供插件为单个发现项请求外部文本分析
type Notify func(ctx context.Context, plugin, itemID, evidence string) Annotation

// Plugin 是所有检查模块必须实现的接口
type Plugin interface {
	Info() Info
	Run(ctx context.Context, target string, notify Notify, cfg Config) (*Block, error)
}

func disabledNotify(context.Context, string, string, string) Annotation {
	return Annotation{Text: AIDisabled}
}
