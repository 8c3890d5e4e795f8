package timing

import (
	"fmt"
	"sync/atomic"

	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/utils/rational"
)

// 네 검사 지점은 모두 치명적이지 않다. 결과는 통과 또는 이유가 붙은 폐기이며 통계에 더해진다.
// 오류는 메타데이터가 없는 등 호출자가 지켜야 할 전제가 깨졌을 때만 돌려준다.

// TestForFrameDrop runs the checkpoint named by stage.
func (t *Timer) TestForFrameDrop(stage Stage, buf av.Buffer) (Decision, error) {
	switch stage {
	case StageBeforeDecodeWindow:
		return t.BeforeDecodeWindow(buf)
	case StageBeforeDecode:
		return t.BeforeDecode(buf)
	case StageBeforeOutputTiming:
		return t.BeforeOutputTiming(buf)
	case StageBeforeManifestation:
		return t.BeforeManifestation(buf)
	}
	return Decision{Stage: stage}, fmt.Errorf("timing: unknown stage %d", int(stage))
}

func (t *Timer) decide(stage Stage, reason DropReason) Decision {
	d := Decision{Stage: stage, Reason: reason}
	t.stats.count(d)
	if reason != DropNone {
		t.log.Debug(d)
	}
	return d
}

// frameInterval 은 [start, end) 재생 구간이다. 길이를 모르면 한 점으로 본다.
func (t *Timer) frameInterval(buf av.Buffer, fp *av.FrameParameters) (start, end int64) {
	start = fp.NormalizedPlaybackTime
	end = start + 1
	if duration, timed, err := t.ops.duration(buf); err == nil && timed {
		if d := duration.Round(); d > 0 {
			end = start + d
		}
	}
	return start, end
}

// overlaps reports whether [start, end) intersects [lo, hi). InvalidTime bounds are open.
func overlaps(start, end, lo, hi int64) bool {
	if lo != av.InvalidTime && end <= lo {
		return false
	}
	if hi != av.InvalidTime && start >= hi {
		return false
	}
	return true
}

// startsWithin reports whether start lies in [lo, hi). InvalidTime bounds are open.
func startsWithin(start, lo, hi int64) bool {
	if lo != av.InvalidTime && start < lo {
		return false
	}
	if hi != av.InvalidTime && start >= hi {
		return false
	}
	return true
}

// BeforeDecodeWindow decides whether a parsed unit enters the decode window.
// In forward play it also samples the group structure, backward collators call ObserveGroupStructure.
func (t *Timer) BeforeDecodeWindow(buf av.Buffer) (Decision, error) {
	fp := av.FrameParametersOf(buf)
	if fp == nil {
		return Decision{Stage: StageBeforeDecodeWindow}, ErrMissingMetadata
	}
	_, dir := t.policies.Speed()

	t.groupLock.Lock()
	if !fp.FirstSubUnit {
		reason := t.window.lastWindowDecision.Reason
		t.groupLock.Unlock()
		if reason != DropNone {
			reason = DropPreviousDecision
		}
		return t.decide(StageBeforeDecodeWindow, reason), nil
	}
	if dir == av.Forward {
		t.observe(fp)
	}
	if fp.KeyFrame {
		t.window.keyFramesSinceSignal++
	}
	reason := t.windowPolicies(fp)
	t.groupLock.Unlock()

	if reason == DropNone && fp.NormalizedPlaybackTime != av.InvalidTime {
		lo, hi := t.policies.PresentationInterval()
		start, end := t.frameInterval(buf, fp)
		if dir == av.Forward {
			if !overlaps(start, end, lo, hi) {
				reason = DropOutsidePresentation
			}
		} else if !startsWithin(start, lo, hi) {
			reason = DropOutsidePresentation
		}
	}

	t.groupLock.Lock()
	t.window.lastWindowDecision = Decision{Stage: StageBeforeDecodeWindow, Reason: reason}
	t.groupLock.Unlock()
	return t.decide(StageBeforeDecodeWindow, reason), nil
}

// windowPolicies 는 groupLock 을 잡은 상태에서 호출한다.
func (t *Timer) windowPolicies(fp *av.FrameParameters) DropReason {
	if t.policyApplied(av.PolicySingleGroupBetweenDiscontinuities) && t.window.keyFramesSinceSignal >= 2 {
		return DropSingleGroup
	}
	if t.policyApplied(av.PolicyStreamOnlyKeyFrames) && !fp.KeyFrame {
		return DropNonKeyFrame
	}
	if t.policyApplied(av.PolicyStreamOnlyReferenceFrames) && !fp.ReferenceFrame {
		return DropNonReferenceFrame
	}
	return DropNone
}

// ObserveGroupStructure feeds one frame into the GOP monitor.
func (t *Timer) ObserveGroupStructure(buf av.Buffer) error {
	fp := av.FrameParametersOf(buf)
	if fp == nil {
		return ErrMissingMetadata
	}
	if !fp.FirstSubUnit {
		return nil
	}
	t.groupLock.Lock()
	t.observe(fp)
	t.groupLock.Unlock()
	return nil
}

// observe 는 groupLock 을 잡은 상태에서 호출한다.
func (t *Timer) observe(fp *av.FrameParameters) {
	if t.group.observe(fp.KeyFrame, fp.ReferenceFrame || fp.KeyFrame) {
		t.trick.valid = false
	}
}

// speedSupported 는 코덱이 알려준 트릭 재생 범위 안인지 확인한다.
func speedSupported(p av.TrickModeParameters, speed rational.Rational, dir av.Direction) bool {
	if dir == av.Backward {
		return p.MaximumReverseSpeed.Sign() > 0 && !speed.GreaterThan(p.MaximumReverseSpeed)
	}
	return p.MaximumForwardSpeed.IsZero() || !speed.GreaterThan(p.MaximumForwardSpeed)
}

// BeforeDecode decides whether a frame is handed to the decoder and marks substandard decode.
func (t *Timer) BeforeDecode(buf av.Buffer) (Decision, error) {
	fp := av.FrameParametersOf(buf)
	if fp == nil {
		return Decision{Stage: StageBeforeDecode}, ErrMissingMetadata
	}

	t.groupLock.Lock()
	defer t.groupLock.Unlock()

	if !fp.FirstSubUnit {
		reason := t.window.lastDecodeDecision.Reason
		if reason != DropNone {
			reason = DropPreviousDecision
		}
		return t.decide(StageBeforeDecode, reason), nil
	}

	t.updateTrickMode()
	reason := DropNone
	in := t.trick.inputs
	if !speedSupported(in.params, in.speed, in.direction) {
		reason = DropUnsupportedSpeed
	}
	if reason == DropNone {
		reason = t.applyTrickMode(fp)
	}
	if reason == DropNone {
		reason = t.verifyReferences(fp)
	}
	t.window.lastDecodeDecision = Decision{Stage: StageBeforeDecode, Reason: reason}
	return t.decide(StageBeforeDecode, reason), nil
}

// BeforeOutputTiming decides whether a decoded frame gets a timing record.
func (t *Timer) BeforeOutputTiming(buf av.Buffer) (Decision, error) {
	fp := av.FrameParametersOf(buf)
	if fp == nil {
		return Decision{Stage: StageBeforeOutputTiming}, ErrMissingMetadata
	}
	if fp.NormalizedPlaybackTime == av.InvalidTime {
		return t.decide(StageBeforeOutputTiming, DropNone), nil
	}
	_, dir := t.policies.Speed()
	lo, hi := t.policies.PresentationInterval()
	start, end := t.frameInterval(buf, fp)

	reason := DropNone
	if dir == av.Forward {
		if !overlaps(start, end, lo, hi) {
			reason = DropOutsidePresentation
		}
	} else if hi != av.InvalidTime && start >= hi {
		// 역재생에서는 구간 시작 이전 프레임도 남겨 둔다.
		reason = DropOutsidePresentation
	}
	return t.decide(StageBeforeOutputTiming, reason), nil
}

// BeforeManifestation decides whether a timed frame is queued for presentation.
// It also feeds the decode in time monitor.
func (t *Timer) BeforeManifestation(buf av.Buffer) (Decision, error) {
	rec := av.OutputTimingOf(buf)
	if rec == nil {
		return Decision{Stage: StageBeforeManifestation}, ErrMissingMetadata
	}
	if !rec.TimingValid {
		fp := av.FrameParametersOf(buf)
		if t.policyApplied(av.PolicyStreamOnlyKeyFrames) && fp != nil && fp.KeyFrame {
			return t.decide(StageBeforeManifestation, DropNone), nil
		}
		return t.decide(StageBeforeManifestation, DropUntimed), nil
	}

	now := t.coordinator.SystemTime()
	disposal := t.policy(av.PolicyDiscardLateFrames)

	t.timingLock.Lock()
	earliest := av.InvalidTime
	late := false
	var lateness int64
	for i := range t.surfaces {
		s := &t.surfaces[i]
		st := &rec.Surfaces[i]
		if !s.attached || !st.Valid || st.SystemPlaybackTime == av.InvalidTime {
			continue
		}
		if earliest == av.InvalidTime || st.SystemPlaybackTime < earliest {
			earliest = st.SystemPlaybackTime
		}
		if st.SystemPlaybackTime-now < s.desc.MinimumLatency {
			late = true
			if l := now + s.desc.MinimumLatency - st.SystemPlaybackTime; l > lateness {
				lateness = l
			}
		}
	}
	if earliest == av.InvalidTime {
		t.timingLock.Unlock()
		return t.decide(StageBeforeManifestation, DropUntimed), nil
	}
	if earliest-now > t.cfg.FutureFrameWindowUs {
		t.timingLock.Unlock()
		return t.decide(StageBeforeManifestation, DropTooFarInFuture), nil
	}

	if t.decodeInTime.observe(late, lateness, t.cfg.DecodeInTimeFailureCount, t.cfg.DecodeInTimePauseFrames) {
		t.recoverDecodeInTime(lateness)
	}

	reason := DropNone
	if late {
		atomic.AddInt64(&t.stats.lateFrames, 1)
		switch disposal {
		case av.PolicyValueDiscardLateFramesAlways:
			reason = DropLate
		case av.PolicyValueDiscardLateFramesAfterSynchronize:
			if t.seenOnTime {
				reason = DropLate
			}
		}
	} else {
		t.seenOnTime = true
	}
	t.timingLock.Unlock()
	return t.decide(StageBeforeManifestation, reason), nil
}
