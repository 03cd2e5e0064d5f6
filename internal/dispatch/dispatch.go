// Package dispatch 把持久化后的报告转发到远端收集端
package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/25smoking/Panoptes/internal/core"
)

// Status 是一次投递的结果，失败不会影响进程退出码
type Status struct {
	Sink    string
	OK      bool
	Code    int
	Message string
	Err     error
}

func (s Status) String() string {
	if s.OK {
		return fmt.Sprintf("%s: OK (%d)", s.Sink, s.Code)
	}
	if s.Err != nil {
		return fmt.Sprintf("%s: ERROR %v", s.Sink, s.Err)
	}
	return fmt.Sprintf("%s: ERROR (%d) %s", s.Sink, s.Code, s.Message)
}

// Sink 是一个报告投递目标
type Sink interface {
	Name() string
	Send(ctx context.Context, report *core.Report) Status
}

// Dispatcher 依次投递到所有目标
type Dispatcher struct {
	Sinks []Sink
	Log   *zap.SugaredLogger
}

func (d *Dispatcher) Dispatch(ctx context.Context, report *core.Report) []Status {
	log := d.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	statuses := make([]Status, 0, len(d.Sinks))
	for _, s := range d.Sinks {
		st := s.Send(ctx, report)
		if st.OK {
			log.Infow("报告已投递", "sink", st.Sink, "code", st.Code)
		} else {
			log.Warnw("报告投递失败", "sink", st.Sink, "code", st.Code, "error", st.Err, "message", st.Message)
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// AllOK 所有目标都成功时为 true；没有目标时也为 true
func AllOK(statuses []Status) bool {
	for _, s := range statuses {
		if !s.OK {
			return false
		}
	}
	return true
}
