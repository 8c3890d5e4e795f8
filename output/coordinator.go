// Package output provides an in-process output coordinator shared by the streams of one playback.
package output

import (
	"context"
	"fmt"
	"sync"

	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/utils/rational"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNotRegistered     = fmt.Errorf("stream not registered")
	ErrAlreadyRegistered = fmt.Errorf("stream already registered")
)

var _ av.OutputCoordinator = (*Coordinator)(nil)

// DefaultMaximumWait 는 디코드 창 진입을 기다리는 최대 시간(µs)이다.
const DefaultMaximumWait = 100000

// integration 은 출력 면 하나의 레이트 적분 구간이다.
type integration struct {
	started   bool
	expected0 int64
	actual0   int64
}

// VsyncStats 는 기대 표시 시간과 실제 표시 시간의 차이 통계이다.
type VsyncStats struct {
	Count     int64
	Total     int64 // 차이 합 (µs)
	MaxOffset int64 // 가장 큰 |차이|
}

type streamEntry struct {
	info         av.Info
	kind         av.Kind
	integrations [av.MaxSurfaces]integration
	vsync        [av.MaxSurfaces]VsyncStats
}

// Coordinator 는 av.OutputCoordinator 구현이다.
// 재생 시간과 시스템 시간의 매핑은 모든 스트림이 공유한다. 처음 동기화를 요청한 스트림이 매핑을 세우고
// 나머지는 그 매핑을 따른다.
type Coordinator struct {
	lock      sync.Mutex
	clock     Clock
	maxWait   int64
	streams   map[string]*streamEntry
	mapped    bool
	baseP     int64 // 기준 재생 시간
	baseS     int64 // 기준 시스템 시간
	speed     rational.Rational
	direction av.Direction
	locked    bool // 외부 클럭에 잠겼는지
	drains    int
}

func NewCoordinator(clock Clock) *Coordinator {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &Coordinator{
		clock:   clock,
		maxWait: DefaultMaximumWait,
		streams: make(map[string]*streamEntry),
		speed:   rational.One,
	}
}

// SetMaximumWait caps AwaitEntryIntoDecodeWindow.
func (c *Coordinator) SetMaximumWait(us int64) {
	c.lock.Lock()
	c.maxWait = us
	c.lock.Unlock()
}

// SetSpeed changes the playback speed. The mapping is invalidated and rebuilt by the next frame.
func (c *Coordinator) SetSpeed(speed rational.Rational, dir av.Direction) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.speed.Equal(speed) && c.direction == dir {
		return
	}
	c.speed = speed
	c.direction = dir
	c.mapped = false
	log.Debugf("[COORDINATOR] speed %s %s", speed, dir)
}

// SetClockLocked reports whether output is locked to an external clock.
func (c *Coordinator) SetClockLocked(locked bool) {
	c.lock.Lock()
	c.locked = locked
	c.lock.Unlock()
}

func (c *Coordinator) entry(info av.Info) (*streamEntry, error) {
	e, ok := c.streams[info.Key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", info.Key, ErrNotRegistered)
	}
	return e, nil
}

func (c *Coordinator) RegisterStream(info av.Info, kind av.Kind) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.streams[info.Key]; ok {
		return fmt.Errorf("%s: %w", info.Key, ErrAlreadyRegistered)
	}
	c.streams[info.Key] = &streamEntry{info: info, kind: kind}
	log.Infof("[COORDINATOR] register %v stream %v", kind, info)
	return nil
}

func (c *Coordinator) DeregisterStream(info av.Info) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, err := c.entry(info); err != nil {
		return err
	}
	delete(c.streams, info.Key)
	if len(c.streams) == 0 {
		c.mapped = false
	}
	log.Infof("[COORDINATOR] deregister stream %v", info)
	return nil
}

func (c *Coordinator) ResetTimeMapping(info av.Info) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	e, err := c.entry(info)
	if err != nil {
		return err
	}
	c.mapped = false
	e.integrations = [av.MaxSurfaces]integration{}
	return nil
}

func (c *Coordinator) InvalidateTimeMapping(info av.Info) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, err := c.entry(info); err != nil {
		return err
	}
	c.mapped = false
	log.Debugf("[COORDINATOR] mapping invalidated by %s", info.Key)
	return nil
}

// translate 는 lock 을 잡은 상태에서 호출한다.
func (c *Coordinator) translate(playback int64) int64 {
	delta := playback - c.baseP
	if c.direction == av.Backward {
		delta = -delta
	}
	speed := c.speed
	if speed.Sign() <= 0 {
		speed = rational.One
	}
	return c.baseS + rational.FromInt(delta).Div(speed).Round()
}

func (c *Coordinator) TranslatePlaybackTimeToSystem(info av.Info, playback int64) (int64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, err := c.entry(info); err != nil {
		return av.InvalidTime, err
	}
	if !c.mapped {
		return av.InvalidTime, av.ErrNoTimeMapping
	}
	return c.translate(playback), nil
}

// SynchronizeStreams establishes the mapping playback -> system unless another stream already did.
// It returns the system time of playback under the mapping in force.
func (c *Coordinator) SynchronizeStreams(info av.Info, playback, system int64) (int64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, err := c.entry(info); err != nil {
		return av.InvalidTime, err
	}
	if !c.mapped {
		c.mapped = true
		c.baseP = playback
		c.baseS = system
		log.Infof("[COORDINATOR] mapping established by %s: %d -> %d", info.Key, playback, system)
	}
	return c.translate(playback), nil
}

// CalculateOutputRateAdjustment returns actual elapsed over expected elapsed since the integration started.
func (c *Coordinator) CalculateOutputRateAdjustment(info av.Info, surface int, expected, actual int64) (rational.Rational, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	e, err := c.entry(info)
	if err != nil {
		return rational.One, err
	}
	if surface < 0 || surface >= av.MaxSurfaces {
		return rational.One, fmt.Errorf("surface %d out of range", surface)
	}
	in := &e.integrations[surface]
	if !in.started {
		in.started = true
		in.expected0 = expected
		in.actual0 = actual
		return rational.One, nil
	}
	span := expected - in.expected0
	if span <= 0 {
		return rational.One, nil
	}
	return rational.New(actual-in.actual0, span), nil
}

func (c *Coordinator) RestartOutputRateIntegration(info av.Info, surface int) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	e, err := c.entry(info)
	if err != nil {
		return err
	}
	if surface < 0 || surface >= av.MaxSurfaces {
		return fmt.Errorf("surface %d out of range", surface)
	}
	e.integrations[surface] = integration{}
	return nil
}

// AwaitEntryIntoDecodeWindow sleeps until systemTime, at most the maximum wait.
func (c *Coordinator) AwaitEntryIntoDecodeWindow(ctx context.Context, info av.Info, systemTime int64) error {
	c.lock.Lock()
	_, err := c.entry(info)
	maxWait := c.maxWait
	c.lock.Unlock()
	if err != nil {
		return err
	}
	wait := systemTime - c.clock.Now()
	if wait <= 0 {
		return nil
	}
	if wait > maxWait {
		wait = maxWait
	}
	return c.clock.Sleep(ctx, wait)
}

func (c *Coordinator) MonitorVsyncOffsets(info av.Info, surface int, expected, actual int64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	e, err := c.entry(info)
	if err != nil || surface < 0 || surface >= av.MaxSurfaces {
		return
	}
	offset := actual - expected
	v := &e.vsync[surface]
	v.Count++
	v.Total += offset
	if offset < 0 {
		offset = -offset
	}
	if offset > v.MaxOffset {
		v.MaxOffset = offset
	}
}

// Vsync returns the offset statistics of surface.
func (c *Coordinator) Vsync(info av.Info, surface int) (VsyncStats, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	e, err := c.entry(info)
	if err != nil {
		return VsyncStats{}, err
	}
	if surface < 0 || surface >= av.MaxSurfaces {
		return VsyncStats{}, fmt.Errorf("surface %d out of range", surface)
	}
	return e.vsync[surface], nil
}

// RebaseTimeMapping delays every future presentation by adjustment.
func (c *Coordinator) RebaseTimeMapping(info av.Info, adjustment int64) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, err := c.entry(info); err != nil {
		return err
	}
	if !c.mapped {
		return av.ErrNoTimeMapping
	}
	c.baseS += adjustment
	log.Infof("[COORDINATOR] mapping rebased by %dus for %s", adjustment, info.Key)
	return nil
}

// DrainLivePlayback drops the mapping so live playback restarts from the newest data.
func (c *Coordinator) DrainLivePlayback(info av.Info) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, err := c.entry(info); err != nil {
		return err
	}
	c.drains++
	c.mapped = false
	log.Warningf("[COORDINATOR] drain requested by %s", info.Key)
	return nil
}

// Drains returns the number of drain requests.
func (c *Coordinator) Drains() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.drains
}

func (c *Coordinator) ClockLocked(info av.Info) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.locked
}

func (c *Coordinator) SystemTime() int64 {
	return c.clock.Now()
}

// Mapping returns the current base pair and whether a mapping exists.
func (c *Coordinator) Mapping() (playback, system int64, ok bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.baseP, c.baseS, c.mapped
}
