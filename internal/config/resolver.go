package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/25smoking/Panoptes/internal/core"
)

// 匹配强度
const (
	MatchNone      = 0
	MatchSubstring = 1
	MatchAffix     = 2
	MatchExact     = 3
)

// Resolver 在配置目录中为插件挑选最匹配的 JSON 配置文件
type Resolver struct {
	Dir string
	Log *zap.SugaredLogger
}

func NewResolver(dir string, log *zap.SugaredLogger) *Resolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Resolver{Dir: dir, Log: log}
}

// normalize 转小写并只保留 [a-z0-9]
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func strength(key, stem string) int {
	switch {
	case key == "" || stem == "":
		return MatchNone
	case key == stem:
		return MatchExact
	case strings.HasPrefix(stem, key), strings.HasSuffix(stem, key),
		strings.HasPrefix(key, stem), strings.HasSuffix(key, stem):
		return MatchAffix
	case strings.Contains(stem, key), strings.Contains(key, stem):
		return MatchSubstring
	}
	return MatchNone
}

type candidate struct {
	file string
	stem string
}

func (r *Resolver) candidates() []candidate {
	if r.Dir == "" {
		return nil
	}
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		r.Log.Debugw("配置目录不可用", "dir", r.Dir, "error", err)
		return nil
	}
	var out []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		out = append(out, candidate{file: e.Name(), stem: normalize(stem)})
	}
	return out
}

// Match 返回最匹配的文件名（相对 Dir）与匹配强度；没有匹配时返回 "" 和 0。
// 同等强度下取规范化文件名最短者，再按文件名字典序。
func (r *Resolver) Match(name string, aliases []string) (string, int) {
	keys := make([]string, 0, 1+len(aliases))
	for _, k := range append([]string{name}, aliases...) {
		if n := normalize(k); n != "" {
			keys = append(keys, n)
		}
	}

	cands := r.candidates()
	sort.Slice(cands, func(i, j int) bool {
		if len(cands[i].stem) != len(cands[j].stem) {
			return len(cands[i].stem) < len(cands[j].stem)
		}
		return cands[i].file < cands[j].file
	})

	best, bestStrength := "", MatchNone
	for _, c := range cands {
		for _, k := range keys {
			if s := strength(k, c.stem); s > bestStrength {
				best, bestStrength = c.file, s
			}
		}
	}
	return best, bestStrength
}

// Resolve 读取最匹配的配置文件。任何失败都返回空配置，不返回错误。
func (r *Resolver) Resolve(name string, aliases []string) core.Config {
	file, s := r.Match(name, aliases)
	if s == MatchNone {
		r.Log.Debugw("未找到插件配置", "plugin", name)
		return core.Config{}
	}

	path := filepath.Join(r.Dir, file)
	data, err := os.ReadFile(path)
	if err != nil {
		r.Log.Debugw("读取插件配置失败", "plugin", name, "file", path, "error", err)
		return core.Config{}
	}
	var cfg core.Config
	if err := json.Unmarshal(data, &cfg); err != nil || cfg == nil {
		r.Log.Debugw("插件配置不是合法的 JSON 对象", "plugin", name, "file", path, "error", err)
		return core.Config{}
	}
	r.Log.Debugw("已加载插件配置", "plugin", name, "file", path, "strength", s)
	return cfg
}
