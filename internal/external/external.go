// Package external 把插件目录中的可执行文件包装成 core.Plugin。
// 约定：目标作为唯一参数，插件配置以 JSON 写入 stdin，stdout 输出一个结果块。
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/25smoking/Panoptes/internal/core"
	"github.com/25smoking/Panoptes/internal/shell"
)

// DefaultTimeout 是单个外部插件的执行上限，可用配置项 timeout 覆盖
const DefaultTimeout = 10 * time.Minute

// Discover 列出 dir 下（不递归）的可执行文件。
// 以 _ 或 . 开头的文件被跳过；stat 失败时告警并跳过；不可执行的文件静默排除。
func Discover(dir string, filter core.Filter, log *zap.SugaredLogger) ([]core.Plugin, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debugw("外部插件目录不存在", "dir", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("read plugins dir: %w", err)
	}

	var plugins []core.Plugin
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if !filter.Allows(stem) {
			continue
		}

		path := filepath.Join(dir, name)
		st, err := os.Stat(path)
		if err != nil {
			log.Warnw("外部插件无法访问，已跳过", "file", path, "error", err)
			continue
		}
		if !st.Mode().IsRegular() || !isExecutable(st) {
			continue
		}
		plugins = append(plugins, New(path, log))
	}

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Info().ID < plugins[j].Info().ID
	})
	return plugins, nil
}

func isExecutable(st os.FileInfo) bool {
	return st.Mode().Perm()&0o111 != 0
}

// Plugin 是一个外部可执行插件。子进程与其派生的进程同组运行，超时或运行截止时整组终止。
type Plugin struct {
	Path string
	info core.Info
	log  *zap.SugaredLogger
}

func New(path string, log *zap.SugaredLogger) *Plugin {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return &Plugin{
		Path: path,
		info: core.Info{
			ID:       stem,
			Name:     stem,
			Category: "external",
		},
		log: log,
	}
}

func (p *Plugin) Info() core.Info { return p.info }

func (p *Plugin) Run(ctx context.Context, target string, notify core.Notify, cfg core.Config) (*core.Block, error) {
	input, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	res := shell.ExecuteInput(ctx, cfg.Duration("timeout", DefaultTimeout), input, p.Path, target)
	if !res.OK() {
		var exitErr *exec.ExitError
		if errors.As(res.Err, &exitErr) {
			return nil, fmt.Errorf("%s: %w: %s", p.info.ID, res.Err, lastLine(res.Stderr))
		}
		return nil, fmt.Errorf("%s: %w", p.info.ID, res.Err)
	}
	if res.Stderr != "" {
		p.log.Debugw("外部插件 stderr", "plugin", p.info.ID, "stderr", res.Stderr)
	}

	block, err := core.ValidateRaw(bytes.TrimSpace([]byte(res.Stdout)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.info.ID, err)
	}

	for i := range block.Result {
		f := &block.Result[i]
		if f.AnalysisAI == "" && notify != nil {
			f.AnalysisAI = notify(ctx, block.Plugin, f.ScanItemUUID, f.Result).Text
		}
	}
	return block, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
