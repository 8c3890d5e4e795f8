// Package timing is the per-stream output timing and synchronization engine.
//
// 하나의 Timer 는 스트림 하나에 속한다. 파싱 쪽 쓰레드는 BeforeDecodeWindow, BeforeDecode 와
// GOP 관찰을, 출력 쪽 쓰레드는 BeforeOutputTiming, BeforeManifestation, 타이밍 레코드 생성과
// 동기화 상태 머신을 호출한다. 두 쓰레드가 공유하는 상태는 두 개의 잠금으로 나뉜다.
//   - timingLock: 출력 면 상태, 동기화, 디코드 인 타임 모니터
//   - groupLock: GOP 링, 트릭 모드 영역, 폐기 크레딧, 참조 검증 창
// 두 잠금은 동시에 잡지 않는다.
package timing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/configure"
	"github.com/gwuhaolin/playout/utils/rational"

	log "github.com/sirupsen/logrus"
)

type Timer struct {
	cfg         configure.TimingCfg
	kind        av.Kind
	info        av.Info
	stream      av.Stream
	coordinator av.OutputCoordinator
	codec       av.Codec
	policies    av.PolicyStore
	ops         *specialization
	actions     [causeCount]action
	log         *log.Entry
	stats       statistics
	closed      int32

	timingLock   sync.Mutex
	surfaces     [av.MaxSurfaces]surfaceState
	decodeInTime decodeInTimeMonitor
	seenOnTime   bool // after_synchronize 정책에서 늦은 프레임 폐기를 시작하는 조건
	audio        audioState
	video        videoState

	groupLock sync.Mutex
	group     *groupStructure
	trick     trickModeState
	window    windowState
}

// windowState 는 BeforeDecodeWindow 와 BeforeDecode 의 프레임 단위 상태이다.
type windowState struct {
	lastWindowDecision   Decision // 부분 단위가 따라갈 직전 결정
	lastDecodeDecision   Decision
	keyFramesSinceSignal int // SignalDiscontinuity 이후 본 키 프레임 수
}

// New builds the timing context of one stream and registers it with the coordinator.
func New(cfg configure.TimingCfg, kind av.Kind, stream av.Stream, coordinator av.OutputCoordinator, codec av.Codec, policies av.PolicyStore) (*Timer, error) {
	if stream == nil || coordinator == nil || codec == nil || policies == nil {
		return nil, fmt.Errorf("timing: missing collaborator")
	}
	if cfg.SyncIntegrationCount < 1 {
		return nil, fmt.Errorf("timing: sync integration count %d < 1", cfg.SyncIntegrationCount)
	}
	if cfg.SyncWorkthroughMin < 1 || cfg.SyncWorkthroughMax < cfg.SyncWorkthroughMin {
		return nil, fmt.Errorf("timing: bad workthrough clamp [%d, %d]", cfg.SyncWorkthroughMin, cfg.SyncWorkthroughMax)
	}
	if cfg.DecodeInTimeFailureCount < 1 {
		return nil, fmt.Errorf("timing: decode in time failure count %d < 1", cfg.DecodeInTimeFailureCount)
	}

	t := &Timer{
		cfg:         cfg,
		kind:        kind,
		info:        stream.Info(),
		stream:      stream,
		coordinator: coordinator,
		codec:       codec,
		policies:    policies,
		group:       newGroupStructure(cfg.GroupStructureWindow),
	}
	t.log = log.WithFields(log.Fields{"stream": t.info.Key, "kind": kind})

	var err error
	for cause, s := range map[Cause]string{
		CauseDecodeBufferExhaustion: cfg.DecodeBufferAction,
		CauseCodedDataStarvation:    cfg.CodedDataAction,
		CauseDecodeRateShortfall:    cfg.DecodeRateAction,
	} {
		if t.actions[cause], err = parseAction(s); err != nil {
			return nil, err
		}
	}

	switch kind {
	case av.KindAudio:
		t.ops = audioSpecialization()
	case av.KindVideo:
		t.ops = videoSpecialization()
	default:
		return nil, fmt.Errorf("timing: unknown stream kind %v", kind)
	}

	t.resetTiming()
	t.resetGroup()

	if err := coordinator.RegisterStream(t.info, kind); err != nil {
		t.log.Error("register stream: ", err)
		return nil, err
	}
	t.log.Debug("timer created")
	return t, nil
}

func (t *Timer) isClosed() bool {
	return atomic.LoadInt32(&t.closed) == 1
}

// Close detaches every surface and deregisters the stream.
func (t *Timer) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}
	t.timingLock.Lock()
	for i := range t.surfaces {
		t.surfaces[i].attached = false
	}
	t.timingLock.Unlock()
	if err := t.coordinator.DeregisterStream(t.info); err != nil {
		t.log.Warning("deregister stream: ", err)
		return err
	}
	t.log.Debug("timer closed")
	return nil
}

// AttachManifestation connects an output surface at index.
func (t *Timer) AttachManifestation(index int, desc av.SurfaceDescriptor) error {
	if index < 0 || index >= av.MaxSurfaces {
		return fmt.Errorf("attach %d: %w", index, ErrInvalidSurface)
	}
	if t.isClosed() {
		return ErrClosed
	}
	t.timingLock.Lock()
	defer t.timingLock.Unlock()
	s := &t.surfaces[index]
	*s = surfaceState{}
	s.attached = true
	s.desc = desc
	s.reset()
	if desc.Kind == av.KindVideo && desc.RefreshRate.Sign() > 0 {
		s.period = rational.FromInt(av.MicrosecondsPerSecond).Div(desc.RefreshRate)
	}
	t.log.WithField("surface", index).Debugf("manifestation attached %+v", desc)
	return nil
}

// DetachManifestation disconnects the surface at index.
func (t *Timer) DetachManifestation(index int) error {
	if index < 0 || index >= av.MaxSurfaces {
		return fmt.Errorf("detach %d: %w", index, ErrInvalidSurface)
	}
	t.timingLock.Lock()
	t.surfaces[index].attached = false
	t.timingLock.Unlock()
	t.log.WithField("surface", index).Debug("manifestation detached")
	return nil
}

// SignalDiscontinuity marks a break in the coded stream.
func (t *Timer) SignalDiscontinuity() {
	t.groupLock.Lock()
	t.window.keyFramesSinceSignal = 0
	t.group.restart()
	t.groupLock.Unlock()

	t.timingLock.Lock()
	t.video.resetPulldown()
	t.timingLock.Unlock()
	t.log.Debug("discontinuity")
}

// ResetOnStreamSwitch returns every state machine to its initial state and drops the time mapping.
func (t *Timer) ResetOnStreamSwitch() error {
	t.resetTiming()
	t.resetGroup()
	if err := t.coordinator.ResetTimeMapping(t.info); err != nil {
		t.log.Warning("reset time mapping: ", err)
		return err
	}
	t.log.Info("stream switch")
	return nil
}

func (t *Timer) resetTiming() {
	t.timingLock.Lock()
	for i := range t.surfaces {
		t.surfaces[i].reset()
	}
	t.decodeInTime = decodeInTimeMonitor{}
	t.seenOnTime = false
	t.audio = audioState{}
	t.video = videoState{}
	t.video.resetPulldown()
	t.timingLock.Unlock()
}

func (t *Timer) resetGroup() {
	t.groupLock.Lock()
	t.group.reset()
	t.trick = trickModeState{domain: av.TrickModeDecodeAll, discardFraction: rational.Zero, discardCredit: rational.Zero}
	t.window = windowState{}
	t.groupLock.Unlock()
}

func (t *Timer) policy(name string) int {
	return t.policies.Policy(name)
}

func (t *Timer) policyApplied(name string) bool {
	return t.policies.Policy(name) == av.PolicyValueApply
}

func (t *Timer) signal(code av.EventCode, surface int, value int64) {
	e := av.Event{Code: code, Stream: t.info.Key, Surface: surface, Value: value}
	t.log.Debug("event ", e)
	t.stream.SignalEvent(e)
}

// AwaitEntryIntoDecodeWindow blocks until the frame's decode window opens or ctx is done.
func (t *Timer) AwaitEntryIntoDecodeWindow(ctx context.Context, buf av.Buffer) error {
	fp := av.FrameParametersOf(buf)
	if fp == nil {
		return ErrMissingMetadata
	}
	decodeTime := fp.NormalizedDecodeTime
	if decodeTime == av.InvalidTime {
		decodeTime = fp.NormalizedPlaybackTime
	}
	if decodeTime == av.InvalidTime {
		return nil
	}
	system, err := t.coordinator.TranslatePlaybackTimeToSystem(t.info, decodeTime)
	if errors.Is(err, av.ErrNoTimeMapping) {
		return nil
	} else if err != nil {
		t.log.Warning("translate decode time: ", err)
		return err
	}

	t.timingLock.Lock()
	latency := t.maximumLatency()
	t.timingLock.Unlock()

	return t.coordinator.AwaitEntryIntoDecodeWindow(ctx, t.info, system-latency-t.cfg.DecodeWindowPorchUs)
}

// maximumLatency 는 timingLock 을 잡은 상태에서 호출한다.
func (t *Timer) maximumLatency() int64 {
	var latency int64
	for i := range t.surfaces {
		s := &t.surfaces[i]
		if s.attached && s.desc.MinimumLatency > latency {
			latency = s.desc.MinimumLatency
		}
	}
	return latency
}

// SyncState returns the synchronization state of surface.
func (t *Timer) SyncState(surface int) (SynchronizationState, error) {
	if surface < 0 || surface >= av.MaxSurfaces {
		return SyncNull, ErrInvalidSurface
	}
	t.timingLock.Lock()
	defer t.timingLock.Unlock()
	return t.surfaces[surface].sync, nil
}

// FrameRateConversion returns the display count multiplier and the carried rounding error of surface.
func (t *Timer) FrameRateConversion(surface int) (multiplier, carried rational.Rational, err error) {
	if surface < 0 || surface >= av.MaxSurfaces {
		return rational.Zero, rational.Zero, ErrInvalidSurface
	}
	t.timingLock.Lock()
	defer t.timingLock.Unlock()
	s := &t.surfaces[surface]
	return s.multiplier, s.carried, nil
}

// PendingCorrection returns the correction units not yet applied on surface.
func (t *Timer) PendingCorrection(surface int) (int64, error) {
	if surface < 0 || surface >= av.MaxSurfaces {
		return 0, ErrInvalidSurface
	}
	t.timingLock.Lock()
	defer t.timingLock.Unlock()
	return t.surfaces[surface].pending, nil
}

// DecodeInTimeState returns the decode in time monitor state.
func (t *Timer) DecodeInTimeState() DecodeInTimeState {
	t.timingLock.Lock()
	defer t.timingLock.Unlock()
	return t.decodeInTime.state
}

// GroupFractions returns the independent and reference frame fractions over the GOP ring.
// ok is false until a complete group has been observed.
func (t *Timer) GroupFractions() (independent, reference rational.Rational, ok bool) {
	t.groupLock.Lock()
	defer t.groupLock.Unlock()
	return t.group.fractions()
}

// Statistics returns a snapshot of the counters.
func (t *Timer) Statistics() Statistics {
	return t.stats.snapshot()
}

func (t *Timer) Kind() av.Kind {
	return t.kind
}

func (t *Timer) Info() av.Info {
	return t.info
}
