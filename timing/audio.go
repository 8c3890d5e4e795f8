package timing

import (
	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/utils/rational"
)

// audioState 는 timingLock 으로 보호된다.
type audioState struct {
	sampleRateHz uint32 // 마지막 프레임의 샘플 레이트
}

func audioSpecialization() *specialization {
	return &specialization{
		duration:        audioDuration,
		prepare:         audioPrepare,
		fill:            audioFill,
		correctionUnits: audioCorrectionUnits,
	}
}

func audioFrameDuration(ap *av.AudioParameters) (rational.Rational, bool) {
	if ap.SampleRateHz == 0 {
		return rational.Zero, false
	}
	return rational.New(int64(ap.SampleCount)*av.MicrosecondsPerSecond, int64(ap.SampleRateHz)), true
}

func audioDuration(buf av.Buffer) (rational.Rational, bool, error) {
	ap := av.AudioParametersOf(buf)
	if ap == nil {
		return rational.Zero, false, ErrMissingMetadata
	}
	d, timed := audioFrameDuration(ap)
	return d, timed, nil
}

func audioPrepare(t *Timer, f *frameContext) error {
	ap := av.AudioParametersOf(f.buf)
	if ap == nil {
		return ErrMissingMetadata
	}
	f.sampleCount = ap.SampleCount
	f.sampleRateHz = ap.SampleRateHz
	t.audio.sampleRateHz = ap.SampleRateHz
	return nil
}

func audioFill(t *Timer, s *surfaceState, f *frameContext, out *av.SurfaceTiming) error {
	count := int64(f.sampleCount)
	if s.pending != 0 {
		// 한 프레임에서는 샘플의 절반까지만 늘리거나 줄인다.
		limit := count / 2
		step := s.pending
		if step > limit {
			step = limit
		} else if step < -limit {
			step = -limit
		}
		count += step
		s.pending -= step
	}
	rate := int64(s.desc.SampleRateHz)
	if rate == 0 {
		rate = int64(f.sampleRateHz)
	}
	out.SampleCount = uint32(count)
	out.ExpectedDuration = rational.New(count*av.MicrosecondsPerSecond, rate).Div(f.speed).Round()
	return nil
}

func audioCorrectionUnits(t *Timer, s *surfaceState, correction int64) (int64, error) {
	rate := int64(s.desc.SampleRateHz)
	if rate == 0 {
		rate = int64(t.audio.sampleRateHz)
	}
	if rate == 0 {
		return 0, ErrZeroSampleRate
	}
	units := rational.FromInt(correction).MulInt(rate).DivInt(av.MicrosecondsPerSecond).Round()

	startup := s.frames <= int64(t.cfg.SyncStartupFrames)
	if startup || t.policyApplied(av.PolicyLivePlayback) {
		return units, nil
	}
	limit := t.cfg.AudioCorrectionCapSamples
	if units > limit {
		units = limit
	} else if units < -limit {
		units = -limit
	}
	return units, nil
}
