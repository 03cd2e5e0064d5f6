// Package config 负责进程级配置（viper）和插件配置文件的模糊匹配
package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrNoTarget = errors.New("target is required")

// Settings 是一次运行的全部配置
type Settings struct {
	Target      string `mapstructure:"target"`
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	ClientKey   string `mapstructure:"client_key"`

	PluginsDir string `mapstructure:"plugins_dir"`
	ConfigDir  string `mapstructure:"config_dir"`
	RulesDir   string `mapstructure:"rules_dir"`
	// Output 为空时在 OutputDir 下按时间戳生成文件名
	Output    string `mapstructure:"output"`
	OutputDir string `mapstructure:"output_dir"`

	Workers  int           `mapstructure:"workers"`
	Deadline time.Duration `mapstructure:"deadline"`

	Include            []string `mapstructure:"include"`
	Exclude            []string `mapstructure:"exclude"`
	NoFindingsPrefixes []string `mapstructure:"no_findings_prefixes"`

	Log      LogSettings      `mapstructure:"log"`
	AI       AISettings       `mapstructure:"ai"`
	Dispatch DispatchSettings `mapstructure:"dispatch"`
	Report   ReportSettings   `mapstructure:"report"`
}

type LogSettings struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
	File  string `mapstructure:"file"`
}

type AISettings struct {
	Mode    string        `mapstructure:"mode"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DispatchSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Token    string        `mapstructure:"token"`
	Format   string        `mapstructure:"format"`
	Timeout  time.Duration `mapstructure:"timeout"`
	RedisURL string        `mapstructure:"redis_url"`
	RedisKey string        `mapstructure:"redis_key"`
}

type ReportSettings struct {
	HTML           bool   `mapstructure:"html"`
	SignKey        string `mapstructure:"sign_key"`
	SignPassphrase string `mapstructure:"sign_passphrase"`
}

// flagKeys 把命令行参数名映射到配置键
var flagKeys = map[string]string{
	"target":          "target",
	"name":            "name",
	"description":     "description",
	"client-key":      "client_key",
	"plugins-dir":     "plugins_dir",
	"config-dir":      "config_dir",
	"rules-dir":       "rules_dir",
	"output":          "output",
	"output-dir":      "output_dir",
	"workers":         "workers",
	"deadline":        "deadline",
	"include":         "include",
	"exclude":         "exclude",
	"log-level":       "log.level",
	"log-json":        "log.json",
	"log-file":        "log.file",
	"ai":              "ai.mode",
	"ai-model":        "ai.model",
	"ai-base-url":     "ai.base_url",
	"send":            "dispatch.enabled",
	"dispatch-url":    "dispatch.url",
	"dispatch-format": "dispatch.format",
	"redis-url":       "dispatch.redis_url",
	"html":            "report.html",
	"sign-key":        "report.sign_key",
}

// Load 依次叠加：内嵌默认配置、可选配置文件、PANOPTES_ 环境变量、命令行参数
func Load(path string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := loadDefaults()
	if err != nil {
		return nil, err
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to parse embedded defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("PANOPTES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &s, nil
}

// Validate 检查必填项并规整取值
func (s *Settings) Validate() error {
	s.Target = strings.TrimSpace(s.Target)
	if s.Target == "" {
		return ErrNoTarget
	}
	if s.Workers < 0 {
		s.Workers = 0
	}
	if s.Deadline < 0 {
		s.Deadline = 0
	}

	s.AI.Mode = strings.ToLower(strings.TrimSpace(s.AI.Mode))
	switch s.AI.Mode {
	case "":
		s.AI.Mode = "off"
	case "off", "mock", "openai":
	default:
		return fmt.Errorf("unknown ai mode %q (want off, mock or openai)", s.AI.Mode)
	}

	s.Dispatch.Format = strings.ToLower(strings.TrimSpace(s.Dispatch.Format))
	switch s.Dispatch.Format {
	case "":
		s.Dispatch.Format = "raw"
	case "raw", "controller":
	default:
		return fmt.Errorf("unknown dispatch format %q (want raw or controller)", s.Dispatch.Format)
	}

	s.Include = splitList(s.Include)
	s.Exclude = splitList(s.Exclude)
	return nil
}

// splitList 兼容环境变量中逗号分隔的写法
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
