package timing

import (
	"fmt"
	"sync/atomic"

	"github.com/gwuhaolin/playout/av"

	log "github.com/sirupsen/logrus"
)

// DecodeInTimeState 는 디코드 인 타임 모니터의 상태이다.
type DecodeInTimeState int

const (
	DecodeInTime DecodeInTimeState = iota
	DecodeInTimeAccumulatingFailures
	DecodeInTimeAccumulatedFailures
	DecodeInTimePauseBetweenIntegrations
)

func (s DecodeInTimeState) String() string {
	switch s {
	case DecodeInTime:
		return "InTime"
	case DecodeInTimeAccumulatingFailures:
		return "AccumulatingFailures"
	case DecodeInTimeAccumulatedFailures:
		return "AccumulatedFailures"
	case DecodeInTimePauseBetweenIntegrations:
		return "PauseBetweenIntegrations"
	}
	return fmt.Sprintf("DecodeInTimeState(%d)", int(s))
}

// Cause 는 연속된 지연의 원인이다.
type Cause int

const (
	CauseDecodeBufferExhaustion Cause = iota
	CauseCodedDataStarvation
	CauseDecodeRateShortfall
	CauseUnknown // 지연이 늘지 않고 버퍼 풀도 정상
	causeCount
)

func (c Cause) String() string {
	switch c {
	case CauseDecodeBufferExhaustion:
		return "DecodeBufferExhaustion"
	case CauseCodedDataStarvation:
		return "CodedDataStarvation"
	case CauseDecodeRateShortfall:
		return "DecodeRateShortfall"
	case CauseUnknown:
		return "Unknown"
	}
	return fmt.Sprintf("Cause(%d)", int(c))
}

// action 은 원인별 복구 동작의 비트 집합이다.
type action uint8

const (
	actionRebase action = 1 << iota
	actionEvent

	actionNone action = 0
)

func parseAction(s string) (action, error) {
	switch s {
	case "", "none":
		return actionNone, nil
	case "rebase":
		return actionRebase, nil
	case "event":
		return actionEvent, nil
	case "rebase_event":
		return actionRebase | actionEvent, nil
	}
	return actionNone, fmt.Errorf("timing: unknown decode in time action %q", s)
}

type decodeInTimeMonitor struct {
	state        DecodeInTimeState
	failures     int   // 연속 지연 프레임 수
	pauseFrames  int   // 휴지 구간에서 지난 프레임 수
	lastLateness int64 // 직전 지연 (µs)
	growing      bool  // 지연이 프레임마다 늘고 있는지
}

// observe advances the monitor by one frame and reports whether recovery must fire now.
func (m *decodeInTimeMonitor) observe(late bool, lateness int64, limit, pause int) bool {
	switch m.state {
	case DecodeInTime:
		if !late {
			return false
		}
		m.state = DecodeInTimeAccumulatingFailures
		m.failures = 0
		m.growing = true
		m.lastLateness = lateness
		return m.accumulate(lateness, limit)

	case DecodeInTimeAccumulatingFailures:
		if !late {
			m.state = DecodeInTime
			m.failures = 0
			return false
		}
		return m.accumulate(lateness, limit)

	case DecodeInTimeAccumulatedFailures:
		m.state = DecodeInTimePauseBetweenIntegrations
		m.pauseFrames = 0
		return m.pause(pause)

	case DecodeInTimePauseBetweenIntegrations:
		return m.pause(pause)
	}
	return false
}

func (m *decodeInTimeMonitor) accumulate(lateness int64, limit int) bool {
	if m.failures > 0 && lateness <= m.lastLateness {
		m.growing = false
	}
	m.lastLateness = lateness
	m.failures++
	if m.failures < limit {
		return false
	}
	m.state = DecodeInTimeAccumulatedFailures
	return true
}

func (m *decodeInTimeMonitor) pause(pause int) bool {
	m.pauseFrames++
	if m.pauseFrames >= pause {
		m.state = DecodeInTime
		m.failures = 0
	}
	return false
}

// classify 는 버퍼 풀 점유율과 지연 추세로 원인을 고른다.
func (t *Timer) classify(growing bool) Cause {
	o := t.stream.BufferPoolOccupancy()
	switch {
	case o.DecodeBuffersTotal > 0 && o.DecodeBuffersInUse >= o.DecodeBuffersTotal-1:
		return CauseDecodeBufferExhaustion
	case o.CodedDataTotal > 0 && o.CodedDataInUse*8 < o.CodedDataTotal:
		return CauseCodedDataStarvation
	case growing:
		return CauseDecodeRateShortfall
	}
	return CauseUnknown
}

// recoverDecodeInTime 는 timingLock 을 잡은 상태에서 호출한다.
func (t *Timer) recoverDecodeInTime(lateness int64) {
	atomic.AddInt64(&t.stats.failures, 1)
	cause := t.classify(t.decodeInTime.growing)
	var act action
	if cause < causeCount && cause != CauseUnknown {
		act = t.actions[cause]
	}

	live := t.policyApplied(av.PolicyLivePlayback)
	injector := t.policyApplied(av.PolicyPacketInjectorPlayback)
	rebase := act&actionRebase != 0
	if live {
		rebase = injector
	}

	t.log.WithFields(log.Fields{
		"cause":    cause,
		"lateness": lateness,
		"rebase":   rebase,
	}).Warning("decode in time failure")

	if rebase {
		adjustment := lateness + t.cfg.RebaseMarginUs
		if err := t.coordinator.RebaseTimeMapping(t.info, adjustment); err != nil {
			t.log.Warning("rebase time mapping: ", err)
		} else {
			atomic.AddInt64(&t.stats.rebases, 1)
			t.log.Infof("time mapping rebased by %dus", adjustment)
			t.signal(av.EventTimeMappingRebased, -1, adjustment)
		}
	}
	if act&actionEvent != 0 {
		t.signal(av.EventDecodeInTimeFailure, -1, int64(cause))
	}
}
