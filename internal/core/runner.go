package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// State 是一次运行的调度状态
type State int32

const (
	StateIdle State = iota
	StateDispatching
	StateCollecting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateCollecting:
		return "collecting"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ConfigSource 为插件解析配置
type ConfigSource interface {
	Resolve(name string, aliases []string) Config
}

// RunResult 是调度结束后的产出
type RunResult struct {
	Blocks    []*Block
	Discarded int
	Started   time.Time
	Finished  time.Time
}

// Duration 整次运行的秒数
func (r RunResult) Duration() float64 {
	return roundSeconds(r.Finished.Sub(r.Started))
}

// Runner 调度所有插件。Workers >= 2 时并发执行，否则按发现顺序串行执行。
type Runner struct {
	Workers int
	// Deadline > 0 时为整批运行设置截止时间；默认不限制
	Deadline time.Duration
	Notify   Notify
	Configs  ConfigSource
	Log      *zap.SugaredLogger

	OnStart    func(Info)
	OnComplete func(b *Block, elapsed time.Duration)

	state atomic.Int32
}

func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

func (r *Runner) logger() *zap.SugaredLogger {
	if r.Log == nil {
		return zap.NewNop().Sugar()
	}
	return r.Log
}

// Run 执行全部插件并收集结果块。单个插件的失败不会影响其他插件。
func (r *Runner) Run(ctx context.Context, target string, plugins []Plugin) RunResult {
	log := r.logger()
	res := RunResult{Started: time.Now(), Blocks: make([]*Block, 0, len(plugins))}

	if r.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Deadline)
		defer cancel()
	}

	var mu sync.Mutex
	collect := func(info Info, b *Block, elapsed time.Duration) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorw("结果收集 panic", "plugin", info.ID, "panic", rec, "stack", string(debug.Stack()))
			}
		}()

		if err := ValidateBlock(b); err != nil {
			log.Warnw("插件返回格式无效，已丢弃", "plugin", info.ID, "error", err)
			mu.Lock()
			res.Discarded++
			mu.Unlock()
			return
		}

		mu.Lock()
		res.Blocks = append(res.Blocks, b)
		mu.Unlock()

		if r.OnComplete != nil {
			r.OnComplete(b, elapsed)
		}
	}

	r.setState(StateDispatching)
	if r.Workers >= 2 {
		p := pool.New().WithMaxGoroutines(r.Workers)
		for _, pl := range plugins {
			pl := pl
			p.Go(func() {
				start := time.Now()
				b := r.invoke(ctx, target, pl)
				collect(pl.Info(), b, time.Since(start))
			})
		}
		r.setState(StateCollecting)
		p.Wait()
	} else {
		for _, pl := range plugins {
			start := time.Now()
			b := r.invoke(ctx, target, pl)
			collect(pl.Info(), b, time.Since(start))
		}
		r.setState(StateCollecting)
	}

	res.Finished = time.Now()
	r.setState(StateDone)
	log.Infow("调度完成",
		"plugins", len(plugins),
		"blocks", len(res.Blocks),
		"discarded", res.Discarded,
		"duration", res.Duration(),
	)
	return res
}

func (r *Runner) invoke(ctx context.Context, target string, p Plugin) (b *Block) {
	info := p.Info()
	defer func() {
		// 钩子或配置解析中的 panic 同样只影响当前插件
		if rec := recover(); rec != nil {
			r.logger().Errorw("插件调度 panic", "plugin", info.ID, "panic", rec)
			b = ErrorBlock(info, fmt.Errorf("panic: %v", rec))
		}
	}()
	if err := ctx.Err(); err != nil {
		r.logger().Warnw("运行已超时，插件未执行", "plugin", info.ID, "error", err)
		return ErrorBlock(info, err)
	}
	if r.OnStart != nil {
		r.OnStart(info)
	}

	cfg := Config{}
	if r.Configs != nil {
		if c := r.Configs.Resolve(info.ConfigKey(), info.Aliases); c != nil {
			cfg = c
		}
	}
	notify := r.Notify
	if notify == nil {
		notify = disabledNotify
	}
	return SafeRun(ctx, p, target, notify, cfg, r.logger())
}
