package core

import (
	"math"
	"time"
)

// Timer 记录一段工作的墙钟耗时（秒）
type Timer struct {
	start    time.Time
	Duration float64
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop 可以多次调用，每次都以当前时间重新计算
func (t *Timer) Stop() float64 {
	t.Duration = roundSeconds(time.Since(t.start))
	return t.Duration
}

// Measure 执行 fn 并返回耗时。fn panic 时耗时照样记录在 *elapsed 中，随后继续向上抛出。
func Measure(elapsed *float64, fn func() error) error {
	t := StartTimer()
	defer func() {
		d := t.Stop()
		if elapsed != nil {
			*elapsed = d
		}
	}()
	return fn()
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
