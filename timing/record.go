package timing

import (
	"errors"

	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/utils/rational"
)

// GenerateFrameTiming builds the frame's output timing record and attaches it to buf.
// Untimed frames get a record with TimingValid unset.
func (t *Timer) GenerateFrameTiming(buf av.Buffer) error {
	fp := av.FrameParametersOf(buf)
	if fp == nil {
		return ErrMissingMetadata
	}
	if t.isClosed() {
		return ErrClosed
	}
	speed, dir := t.policies.Speed()
	rec := av.NewOutputTiming()
	rec.PlaybackTime = fp.NormalizedPlaybackTime
	rec.Speed = speed
	rec.Direction = dir

	duration, timed, err := t.ops.duration(buf)
	if err != nil {
		t.log.Error("frame duration: ", err)
		return err
	}
	if !timed || fp.NormalizedPlaybackTime == av.InvalidTime {
		buf.AttachMetadata(av.MetaOutputTiming, rec)
		return nil
	}
	effective := speed
	if effective.Sign() <= 0 {
		effective = rational.One
	}

	t.timingLock.Lock()
	defer t.timingLock.Unlock()

	attached := false
	for i := range t.surfaces {
		attached = attached || t.surfaces[i].attached
	}
	if !attached {
		return ErrNoManifestation
	}

	system, err := t.systemTime(fp.NormalizedPlaybackTime)
	if err != nil {
		return err
	}
	f := &frameContext{
		buf:      buf,
		fp:       fp,
		rec:      rec,
		speed:    effective,
		system:   system,
		duration: duration,
	}
	if err := t.ops.prepare(t, f); err != nil {
		return err
	}
	for i := range t.surfaces {
		s := &t.surfaces[i]
		if !s.attached {
			continue
		}
		out := &rec.Surfaces[i]
		if err := t.ops.fill(t, s, f, out); err != nil {
			return err
		}
		out.Valid = true
		out.SystemPlaybackTime = f.system
	}
	rec.TimingValid = true
	buf.AttachMetadata(av.MetaOutputTiming, rec)
	return nil
}

// systemTime 은 timingLock 을 잡은 상태에서 호출한다.
// 매핑이 없으면 지금부터 가장 긴 출력 지연 뒤를 기준으로 스트림 간 동기화를 요청한다.
func (t *Timer) systemTime(playback int64) (int64, error) {
	system, err := t.coordinator.TranslatePlaybackTimeToSystem(t.info, playback)
	if err == nil {
		return system, nil
	}
	if !errors.Is(err, av.ErrNoTimeMapping) {
		t.log.Warning("translate playback time: ", err)
		return av.InvalidTime, err
	}
	start := t.coordinator.SystemTime() + t.maximumLatency() + t.cfg.DecodeWindowPorchUs
	system, err = t.coordinator.SynchronizeStreams(t.info, playback, start)
	if err != nil {
		t.log.Warning("synchronize streams: ", err)
		return av.InvalidTime, err
	}
	t.log.Infof("time mapping established, playback %d -> system %d", playback, system)
	return system, nil
}
