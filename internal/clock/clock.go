package clock

import (
	"sync"
	"time"
)

// Clock 时间源接口（评估与生命周期使用，测试中替换为 Fake）
type Clock interface {
	Now() time.Time
}

// Real 系统时间
type Real struct{}

func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake 固定时间，可手动推进
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(t time.Time) *Fake {
	return &Fake{now: t.UTC()}
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}
