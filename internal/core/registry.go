package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var ErrDuplicatePlugin = errors.New("plugin already registered")

// Filter 按插件 ID（文件名主干）做包含/排除过滤，不区分大小写。
// Include 为空表示全部；Exclude 优先。
type Filter struct {
	Include []string
	Exclude []string
}

func (f Filter) Allows(id string) bool {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, e := range f.Exclude {
		if strings.ToLower(strings.TrimSpace(e)) == id {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, in := range f.Include {
		if strings.ToLower(strings.TrimSpace(in)) == id {
			return true
		}
	}
	return false
}

// Registry 是编译期插件注册表
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

func validatePlugin(p Plugin) error {
	if p == nil {
		return errors.New("plugin is nil")
	}
	info := p.Info()
	if strings.TrimSpace(info.ID) == "" {
		return errors.New("plugin id is empty")
	}
	if strings.ContainsAny(info.ID, `/\`) {
		return fmt.Errorf("plugin id %q must not contain path separators", info.ID)
	}
	return nil
}

// Register 添加插件；ID 重复时拒绝
func (r *Registry) Register(p Plugin) error {
	if err := validatePlugin(p); err != nil {
		return err
	}
	id := strings.ToLower(p.Info().ID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, id)
	}
	r.plugins[id] = p
	return nil
}

// MustRegister 供 init 时批量注册使用
func (r *Registry) MustRegister(ps ...Plugin) {
	for _, p := range ps {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Plugins 返回通过过滤的插件，按 ID 字典序排列
func (r *Registry) Plugins(f Filter) []Plugin {
	r.mu.RLock()
	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		if f.Allows(p.Info().ID) {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()

	SortPlugins(out)
	return out
}

func SortPlugins(ps []Plugin) {
	sort.SliceStable(ps, func(i, j int) bool {
		return strings.ToLower(ps[i].Info().ID) < strings.ToLower(ps[j].Info().ID)
	})
}

// Merge 合并内置与外部插件。ID 冲突时保留内置插件，外部的跳过并告警。
func Merge(builtin, external []Plugin, log *zap.SugaredLogger) []Plugin {
	seen := make(map[string]bool, len(builtin))
	out := make([]Plugin, 0, len(builtin)+len(external))
	for _, p := range builtin {
		seen[strings.ToLower(p.Info().ID)] = true
		out = append(out, p)
	}
	for _, p := range external {
		id := strings.ToLower(p.Info().ID)
		if seen[id] {
			log.Warnw("外部插件与内置插件同名，已跳过", "plugin", id)
			continue
		}
		seen[id] = true
		out = append(out, p)
	}
	SortPlugins(out)
	return out
}
