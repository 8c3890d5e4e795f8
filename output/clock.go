package output

import (
	"context"
	"sync"
	"time"
)

// Clock 은 코디네이터가 보는 시스템 시간이다. 단위는 µs 이다.
type Clock interface {
	Now() int64
	// Sleep waits for d microseconds or until ctx is done.
	Sleep(ctx context.Context, d int64) error
}

// SystemClock 은 생성 시점부터 흐른 단조 시간이다.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Now() int64 {
	return int64(time.Since(c.start) / time.Microsecond)
}

func (c *SystemClock) Sleep(ctx context.Context, d int64) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(d) * time.Microsecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// VirtualClock 은 시뮬레이터와 테스트용 시계이다. Sleep 은 기다리지 않고 시간을 앞으로 민다.
type VirtualClock struct {
	lock sync.Mutex
	now  int64
}

func NewVirtualClock(start int64) *VirtualClock {
	return &VirtualClock{now: start}
}

func (c *VirtualClock) Now() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

// Set moves the clock to now. The clock never runs backwards.
func (c *VirtualClock) Set(now int64) {
	c.lock.Lock()
	if now > c.now {
		c.now = now
	}
	c.lock.Unlock()
}

func (c *VirtualClock) Advance(d int64) {
	c.lock.Lock()
	if d > 0 {
		c.now += d
	}
	c.lock.Unlock()
}

func (c *VirtualClock) Sleep(ctx context.Context, d int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}
