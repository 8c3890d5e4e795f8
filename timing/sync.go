package timing

import (
	"fmt"
	"sync/atomic"

	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/utils/rational"

	log "github.com/sirupsen/logrus"
)

// SynchronizationState 는 출력 면 하나의 AV 동기화 상태이다.
type SynchronizationState int

const (
	SyncNull SynchronizationState = iota
	SyncInSync
	SyncSuspectedError
	SyncConfirmedError
	SyncStartAwaitCorrection
	SyncAwaitingCorrection
	SyncStartLongHoldoff
)

var syncStateNames = []string{
	"Null",
	"InSync",
	"SuspectedError",
	"ConfirmedError",
	"StartAwaitCorrection",
	"AwaitingCorrection",
	"StartLongHoldoff",
}

func (s SynchronizationState) String() string {
	if s >= 0 && int(s) < len(syncStateNames) {
		return syncStateNames[s]
	}
	return fmt.Sprintf("SynchronizationState(%d)", int(s))
}

// surfaceState 는 출력 면 하나의 타이밍 상태이다. timingLock 으로 보호된다.
type surfaceState struct {
	attached bool
	desc     av.SurfaceDescriptor
	period   rational.Rational // 비디오 면의 리프레시 주기 (µs), 0 이면 모름

	sync             SynchronizationState
	errorSign        int
	accumulated      int64 // 같은 부호로 적분한 오차 합
	previousError    int64
	integrationCount int
	stable           bool // 연속 오차의 변화량이 크기의 1/16 미만인지
	workthrough      int  // 보정 대기 중 지난 프레임 수
	workthroughEnd   int
	holdoff          bool // 긴 대기 중이면 재동기화 검사를 하지 않는다.
	inSyncSignalled  bool
	frames           int64 // 기록된 프레임 수, 시작 구간 판단에 사용

	rateAdjustment     rational.Rational // 직전 출력 레이트 조정값
	haveRateAdjustment bool

	pending int64 // 아직 적용하지 않은 보정 단위 (샘플 또는 리프레시), 양수면 늘리고 음수면 줄인다.

	multiplier rational.Rational // 비디오 표시 횟수 배율
	carried    rational.Rational // 배율 적용 후 남은 반올림 오차 [0,1)
	topField   bool              // 다음 리프레시의 극성
	seeded     bool
}

// restartSync 는 동기화 상태만 Null 로 되돌린다.
func (s *surfaceState) restartSync() {
	s.sync = SyncNull
	s.errorSign = 0
	s.accumulated = 0
	s.previousError = 0
	s.integrationCount = 0
	s.stable = true
	s.workthrough = 0
	s.workthroughEnd = 0
	s.holdoff = false
}

func (s *surfaceState) reset() {
	s.restartSync()
	s.inSyncSignalled = false
	s.frames = 0
	s.rateAdjustment = rational.One
	s.haveRateAdjustment = false
	s.pending = 0
	s.multiplier = rational.One
	s.carried = rational.Zero
	s.seeded = false
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign64(v int64) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

// RecordSurfaceTiming feeds one (expected, actual) pair of surface into the synchronization state machine.
func (t *Timer) RecordSurfaceTiming(surface int, expected, actual int64) error {
	if surface < 0 || surface >= av.MaxSurfaces {
		return ErrInvalidSurface
	}
	if expected == av.InvalidTime || actual == av.InvalidTime {
		return nil
	}
	t.timingLock.Lock()
	defer t.timingLock.Unlock()
	s := &t.surfaces[surface]
	if !s.attached {
		return fmt.Errorf("surface %d: %w", surface, ErrNoManifestation)
	}
	s.frames++
	return t.synchronize(surface, s, actual-expected)
}

// threshold 는 timingLock 을 잡은 상태에서 호출한다.
func (t *Timer) threshold(s *surfaceState) int64 {
	thr := t.cfg.SyncThresholdUs
	// 시작 구간(출력 레이트 추정 중)에는 넓은 허용 범위를 쓴다.
	if s.frames <= int64(t.cfg.SyncStartupFrames) {
		thr = t.cfg.SyncStartupThresholdUs
	}
	// 외부 클럭에 잠기면 반으로 줄이고, 반 리프레시 주기 이상이면 그 배수로 내린다.
	if t.coordinator.ClockLocked(t.info) {
		thr = (thr + 1) / 2
		if s.desc.Kind == av.KindVideo && s.period.Sign() > 0 {
			half := s.period.DivInt(2).Floor()
			if half > 0 && thr >= half {
				thr = thr / half * half
			}
		}
	}
	return thr
}

// clockMaster 는 master_clock 정책이 이 면을 마스터로 지정했는지 확인한다.
func (t *Timer) clockMaster(s *surfaceState) bool {
	if !s.desc.ClockMaster {
		return false
	}
	switch t.policy(av.PolicyMasterClock) {
	case av.PolicyValueVideoClockMaster:
		return s.desc.Kind == av.KindVideo
	case av.PolicyValueAudioClockMaster:
		return s.desc.Kind == av.KindAudio
	}
	return false
}

// synchronize 는 상태를 처리하고 다음 상태로 계속 진행할지 결정하는 루프이다.
// ConfirmedError -> StartAwaitCorrection -> AwaitingCorrection 은 한 호출 안에서 이어진다.
// timingLock 을 잡은 상태에서 호출한다.
func (t *Timer) synchronize(idx int, s *surfaceState, e int64) error {
	thr := t.threshold(s)
	l := t.log.WithFields(log.Fields{"surface": idx, "error": e})
	for {
		switch s.sync {
		case SyncNull, SyncInSync:
			if abs64(e) <= thr {
				s.sync = SyncInSync
				return nil
			}
			s.sync = SyncSuspectedError
			s.errorSign = sign64(e)
			s.accumulated = 0
			s.integrationCount = 0
			s.previousError = e
			s.stable = true
			l.Debugf("suspected error, threshold %dus", thr)
			continue

		case SyncSuspectedError:
			if abs64(e) > 10*t.cfg.SyncHardCeilingUs {
				l.Warning("error beyond hard ceiling, draining playback")
				atomic.AddInt64(&t.stats.drains, 1)
				s.restartSync()
				if err := t.coordinator.DrainLivePlayback(t.info); err != nil {
					l.Error("drain live playback: ", err)
					return err
				}
				t.signal(av.EventDrainRequested, idx, e)
				return nil
			}
			if sign64(e) != s.errorSign || abs64(e) <= thr {
				s.sync = SyncInSync
				return nil
			}
			if abs64(e-s.previousError)*16 >= abs64(e) {
				s.stable = false
			}
			s.accumulated += e
			s.previousError = e
			s.integrationCount++
			if s.integrationCount < t.cfg.SyncIntegrationCount {
				return nil
			}
			s.sync = SyncConfirmedError
			continue

		case SyncConfirmedError:
			if err := t.confirmError(idx, s, l); err != nil {
				s.sync = SyncInSync
				return err
			}
			s.sync = SyncStartAwaitCorrection
			continue

		case SyncStartAwaitCorrection:
			end := t.stream.ManifestationQueueDepth(idx)
			if end < t.cfg.SyncWorkthroughMin {
				end = t.cfg.SyncWorkthroughMin
			}
			if end > t.cfg.SyncWorkthroughMax {
				end = t.cfg.SyncWorkthroughMax
			}
			s.workthrough = 0
			s.workthroughEnd = end
			s.holdoff = false
			s.sync = SyncAwaitingCorrection
			return nil

		case SyncStartLongHoldoff:
			s.workthrough = 0
			s.workthroughEnd = t.cfg.SyncLongHoldoffFrames
			s.holdoff = true
			s.sync = SyncAwaitingCorrection
			l.Infof("clock rate jump, holding off for %d frames", s.workthroughEnd)
			return nil

		case SyncAwaitingCorrection:
			s.workthrough++
			if s.workthrough < s.workthroughEnd {
				return nil
			}
			if !s.holdoff && abs64(e) > t.cfg.SyncResyncThresholdUs {
				l.Warning("correction did not converge, resynchronizing")
				atomic.AddInt64(&t.stats.resyncs, 1)
				s.restartSync()
				if err := t.coordinator.InvalidateTimeMapping(t.info); err != nil {
					l.Error("invalidate time mapping: ", err)
					return err
				}
				t.signal(av.EventResynchronizeRequested, idx, e)
				return nil
			}
			s.holdoff = false
			s.sync = SyncInSync
			if !s.inSyncSignalled {
				s.inSyncSignalled = true
				t.signal(av.EventOutputInSync, idx, e)
			}
			return nil

		default:
			return fmt.Errorf("timing: bad synchronization state %d", int(s.sync))
		}
	}
}

// confirmError 는 확정된 오차를 보정 단위로 바꾸고 출력 레이트 적분을 다시 시작한다.
func (t *Timer) confirmError(idx int, s *surfaceState, l *log.Entry) error {
	var correction int64
	if s.stable {
		correction = -(s.accumulated / int64(s.integrationCount))
	} else {
		correction = -s.previousError
	}

	if t.clockMaster(s) {
		l.Debug("clock master surface, correction left to the clock")
	} else {
		units, err := t.ops.correctionUnits(t, s, correction)
		if err != nil {
			l.Error("correction units: ", err)
			return err
		}
		s.pending = units
		atomic.AddInt64(&t.stats.corrections, 1)
		l.WithField("stable", s.stable).Infof("confirmed error, correcting %dus as %d units", correction, units)
		t.signal(av.EventSynchronizationCorrection, idx, units)
	}

	if err := t.coordinator.RestartOutputRateIntegration(t.info, idx); err != nil {
		l.Warning("restart output rate integration: ", err)
		return err
	}
	// 적분을 새로 시작한 면은 이전 조정값과 비교하지 않는다.
	s.haveRateAdjustment = false
	for j := range t.surfaces {
		o := &t.surfaces[j]
		if j == idx || !o.attached || o.desc.SlavedTo != idx {
			continue
		}
		if err := t.coordinator.RestartOutputRateIntegration(t.info, j); err != nil {
			l.Warning("restart slaved output rate integration: ", err)
			return err
		}
		o.haveRateAdjustment = false
	}
	return nil
}

// RecordActualFrameTiming reads the actual presentation times written into the frame's
// timing record and drives the vsync monitor, the clock rate check and the synchronization loop.
func (t *Timer) RecordActualFrameTiming(buf av.Buffer) error {
	rec := av.OutputTimingOf(buf)
	if rec == nil {
		return ErrMissingMetadata
	}
	if !rec.TimingValid {
		return nil
	}
	avd := t.policyApplied(av.PolicyAVDSynchronization)

	t.timingLock.Lock()
	defer t.timingLock.Unlock()
	for i := range t.surfaces {
		s := &t.surfaces[i]
		st := &rec.Surfaces[i]
		if !s.attached || !st.Valid || st.SystemPlaybackTime == av.InvalidTime || st.ActualSystemPlaybackTime == av.InvalidTime {
			continue
		}
		expected, actual := st.SystemPlaybackTime, st.ActualSystemPlaybackTime
		t.coordinator.MonitorVsyncOffsets(t.info, i, expected, actual)

		adjustment, err := t.coordinator.CalculateOutputRateAdjustment(t.info, i, expected, actual)
		if err != nil {
			t.log.WithField("surface", i).Warning("output rate adjustment: ", err)
			return err
		}
		jumped := false
		if s.haveRateAdjustment {
			ppm := adjustment.Sub(s.rateAdjustment).Abs().MulInt(av.MicrosecondsPerSecond)
			jumped = ppm.GreaterThan(rational.FromInt(t.cfg.SyncClockJumpPpm))
		}
		s.rateAdjustment = adjustment
		s.haveRateAdjustment = true

		if !avd {
			continue
		}
		if jumped && s.sync != SyncAwaitingCorrection {
			s.sync = SyncStartLongHoldoff
		}
		s.frames++
		if err := t.synchronize(i, s, actual-expected); err != nil {
			return err
		}
	}
	return nil
}
