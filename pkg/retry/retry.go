package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy 有界重试策略: 最多 MaxAttempts 次，间隔按指数增长直到 MaxInterval
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64

	newTimer func() backoff.Timer // nil 时使用真实定时器
}

func New(maxAttempts int, initial, max time.Duration) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Policy{
		MaxAttempts: maxAttempts,
		Initial:     initial,
		Max:         max,
		Multiplier:  2,
	}
}

// WithTimer 替换等待实现，测试中注入立即触发的定时器
func (p Policy) WithTimer(factory func() backoff.Timer) Policy {
	p.newTimer = factory
	return p
}

// Immediate 返回不等待的策略，供测试使用
func Immediate(maxAttempts int) Policy {
	return New(maxAttempts, time.Millisecond, time.Millisecond).WithTimer(func() backoff.Timer {
		return &instantTimer{}
	})
}

// Permanent 包装不可重试的错误，Do 会立即返回其内部错误
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do 执行 op 直到成功、遇到 Permanent 错误、次数用尽或 ctx 取消。
// attempt 从 1 开始；notify 在每次失败且还会重试时调用。
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error, notify func(attempt int, err error, next time.Duration)) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	if exp.Multiplier < 1 {
		exp.Multiplier = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxAttempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		return op(ctx, attempt)
	}

	var n backoff.Notify
	if notify != nil {
		n = func(err error, next time.Duration) { notify(attempt, err, next) }
	}

	var timer backoff.Timer
	if p.newTimer != nil {
		timer = p.newTimer()
	}
	return backoff.RetryNotifyWithTimer(operation, b, n, timer)
}

type instantTimer struct {
	c chan time.Time
}

func (t *instantTimer) Start(time.Duration) {
	t.c = make(chan time.Time, 1)
	t.c <- time.Time{}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}
