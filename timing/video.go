package timing

import (
	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/utils/rational"
)

// 3:2 풀다운
// 24fps 프로그레시브 콘텐츠를 30fps 인터레이스로 싣기 위해 프레임을 3필드, 2필드로 번갈아 표시한다.
// 인터레이스로 선언된 시퀀스에서 3필드 반복이 있는 프로그레시브 프레임이 보이면 풀다운으로 판단하고,
// 콘텐츠 레이트를 4/5 로 낮춰 프레임 단위로 다시 배분한다. 합성 필드를 없앤 만큼 생긴 시간 흔들림은
// 누적된 (원래 길이 - 균일 길이) 만큼 시스템 시간을 당겨서 보정한다.

// pulldownWindow 는 마지막 반복 이후 풀다운을 유지하는 프레임 수이다.
const pulldownWindow = 2

// videoState 는 timingLock 으로 보호된다.
type videoState struct {
	sinceRepeat       int               // 마지막 3필드 반복 이후 프레임 수, 음수면 풀다운 아님
	jitter            rational.Rational // 누적된 (원래 길이 - 균일 길이), 재생 시간 µs
	interlacedContent bool              // 마지막 프레임이 필드 단위였는지
}

func (v *videoState) resetPulldown() {
	v.sinceRepeat = -1
	v.jitter = rational.Zero
}

func videoSpecialization() *specialization {
	return &specialization{
		duration:        videoDuration,
		prepare:         videoPrepare,
		fill:            videoFill,
		correctionUnits: videoCorrectionUnits,
	}
}

// videoFrameDuration 은 표시 횟수와 프레임 레이트로 길이를 구한다. 인터레이스면 필드 단위이므로 절반이다.
func videoFrameDuration(vp *av.VideoParameters) (rational.Rational, bool) {
	if vp.FrameRate.Sign() <= 0 {
		return rational.Zero, false
	}
	d := rational.FromInt(int64(vp.DisplayCount) * av.MicrosecondsPerSecond).Div(vp.FrameRate)
	if vp.Interlaced {
		d = d.DivInt(2)
	}
	return d, true
}

func videoDuration(buf av.Buffer) (rational.Rational, bool, error) {
	vp := av.VideoParametersOf(buf)
	if vp == nil {
		return rational.Zero, false, ErrMissingMetadata
	}
	d, timed := videoFrameDuration(vp)
	return d, timed, nil
}

func videoPrepare(t *Timer, f *frameContext) error {
	vp := av.VideoParametersOf(f.buf)
	if vp == nil {
		return ErrMissingMetadata
	}
	v := &t.video

	repeat := vp.Interlaced && vp.ProgressiveFrame && vp.DisplayCount == 3
	if repeat {
		v.sinceRepeat = 0
	} else if v.sinceRepeat >= 0 {
		v.sinceRepeat++
		if v.sinceRepeat > pulldownWindow {
			v.resetPulldown()
			t.log.Debug("pulldown cadence lost")
		}
	}

	if v.sinceRepeat < 0 {
		f.contentRate = vp.FrameRate
		f.displayCount = vp.DisplayCount
		f.fieldUnits = vp.Interlaced
		v.interlacedContent = f.fieldUnits
		return nil
	}

	f.rec.PulldownFrame = repeat
	f.contentRate = vp.FrameRate.MulInt(4).DivInt(5)
	f.displayCount = 1
	f.fieldUnits = false
	v.interlacedContent = false

	f.system -= v.jitter.Div(f.speed).Round()
	native := rational.FromInt(int64(vp.DisplayCount) * av.MicrosecondsPerSecond).Div(vp.FrameRate.MulInt(2))
	uniform := rational.FromInt(av.MicrosecondsPerSecond).Div(f.contentRate)
	v.jitter = v.jitter.Add(native.Sub(uniform))

	if repeat && vp.PanScan.Count > 2 {
		vp.PanScan.Count = 2
	}
	return nil
}

func videoFill(t *Timer, s *surfaceState, f *frameContext, out *av.SurfaceTiming) error {
	vp := av.VideoParametersOf(f.buf)
	if !s.seeded {
		s.topField = vp.TopFieldFirst
		s.seeded = true
	}
	out.TopFieldFirst = s.topField

	if s.period.Sign() <= 0 {
		out.DisplayCount = f.displayCount
		out.ExpectedDuration = f.duration.Div(f.speed).Round()
		return nil
	}

	// 배율 = 리프레시 / (속도 * 콘텐츠 레이트), 필드 단위면 절반
	mult := s.desc.RefreshRate.Div(f.speed.Mul(f.contentRate))
	if f.fieldUnits {
		mult = mult.DivInt(2)
	}
	s.multiplier = mult
	total := mult.MulInt(int64(f.displayCount)).Add(s.carried)
	count := total.Floor()
	s.carried = total.Sub(rational.FromInt(count))

	count = applyVideoCorrection(s, count, f.fieldUnits)

	out.DisplayCount = uint32(count)
	out.ExpectedDuration = s.period.MulInt(count).Round()
	if s.desc.Interlaced && count%2 == 1 {
		s.topField = !s.topField
	}
	return nil
}

// correctionUnit 은 보정 한 단위의 리프레시 수이다. 인터레이스 콘텐츠를 인터레이스 면에 낼 때
// 한 필드만 더하거나 빼면 극성이 뒤집히므로 두 필드씩 움직인다.
func correctionUnit(s *surfaceState, fieldUnits bool) int64 {
	if s.desc.Interlaced && fieldUnits {
		return 2
	}
	return 1
}

// applyVideoCorrection 은 프레임마다 한 단위씩 보정을 소진한다. 표시 횟수는 한 단위 아래로 줄이지 않는다.
func applyVideoCorrection(s *surfaceState, count int64, fieldUnits bool) int64 {
	unit := correctionUnit(s, fieldUnits)
	switch {
	case s.pending > 0:
		count += unit
		s.pending -= unit
		if s.pending < 0 {
			s.pending = 0
		}
	case s.pending < 0 && count-unit >= unit:
		count -= unit
		s.pending += unit
		if s.pending > 0 {
			s.pending = 0
		}
	}
	return count
}

func videoCorrectionUnits(t *Timer, s *surfaceState, correction int64) (int64, error) {
	if s.period.Sign() <= 0 {
		return 0, nil
	}
	units := rational.FromInt(correction).Div(s.period)
	if correctionUnit(s, t.video.interlacedContent) == 2 {
		return units.DivInt(2).Round() * 2, nil
	}
	return units.Round(), nil
}
