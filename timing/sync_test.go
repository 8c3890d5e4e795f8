package timing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/configure"
	"github.com/gwuhaolin/playout/utils/rational"
)

func state(t *testing.T, f *fixture, surface int) SynchronizationState {
	s, err := f.timer.SyncState(surface)
	require.NoError(t, err)
	return s
}

func feed(t *testing.T, f *fixture, surface int, errs ...int64) {
	base := int64(1000000)
	for i, e := range errs {
		expected := base + int64(i)*40000
		require.NoError(t, f.timer.RecordSurfaceTiming(surface, expected, expected+e))
	}
}

// pastStartup 은 시작 구간의 넓은 허용 범위를 끈다.
func pastStartup(c *configure.TimingCfg) {
	c.SyncStartupFrames = 0
}

func TestSyncAlternatingErrorNeverConfirms(t *testing.T) {
	f := newFixture(t, av.KindVideo, pastStartup)
	require.NoError(t, f.timer.AttachManifestation(0, videoSurface()))

	suspected := 0
	for i := 0; i < 25; i++ {
		e := int64(1500)
		if i%2 == 1 {
			e = -1500
		}
		feed(t, f, 0, e)
		s := state(t, f, 0)
		assert.NotEqual(t, SyncConfirmedError, s)
		assert.NotEqual(t, SyncAwaitingCorrection, s)
		if s == SyncSuspectedError {
			suspected++
		}
	}
	assert.Equal(t, 13, suspected)
	assert.Empty(t, f.coordinator.restarts)
	assert.Equal(t, int64(0), f.timer.Statistics().Corrections)
}

func TestSyncOnTimeStaysInSync(t *testing.T) {
	f := newFixture(t, av.KindVideo, pastStartup)
	require.NoError(t, f.timer.AttachManifestation(0, videoSurface()))
	for i := 0; i < 50; i++ {
		feed(t, f, 0, 0)
		assert.Equal(t, SyncInSync, state(t, f, 0))
	}
	feed(t, f, 0, 1000)
	assert.Equal(t, SyncInSync, state(t, f, 0))
}

func TestSyncConfirmedErrorCorrects(t *testing.T) {
	f := newFixture(t, av.KindVideo)
	require.NoError(t, f.timer.AttachManifestation(0, videoSurface()))
	slaved := videoSurface()
	slaved.SlavedTo = 0
	require.NoError(t, f.timer.AttachManifestation(1, slaved))

	feed(t, f, 0, 30000, 30000, 30000)
	assert.Equal(t, SyncSuspectedError, state(t, f, 0))
	feed(t, f, 0, 30000)
	assert.Equal(t, SyncAwaitingCorrection, state(t, f, 0))

	// -30000us 를 20ms 리프레시로: round(-1.5) = -2
	pending, err := f.timer.PendingCorrection(0)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), pending)
	assert.Equal(t, []int{0, 1}, f.coordinator.restarts)
	e, ok := f.stream.last(av.EventSynchronizationCorrection)
	require.True(t, ok)
	assert.Equal(t, int64(-2), e.Value)

	// 워크스루: 큐 깊이 4
	feed(t, f, 0, 0, 0, 0)
	assert.Equal(t, SyncAwaitingCorrection, state(t, f, 0))
	feed(t, f, 0, 0)
	assert.Equal(t, SyncInSync, state(t, f, 0))
	assert.Equal(t, 1, f.stream.count(av.EventOutputInSync))

	// 두번째 보정 후에는 in sync 이벤트를 다시 보내지 않는다.
	feed(t, f, 0, -30000, -30000, -30000, -30000, 0, 0, 0, 0)
	assert.Equal(t, SyncInSync, state(t, f, 0))
	assert.Equal(t, 1, f.stream.count(av.EventOutputInSync))
	assert.Equal(t, int64(2), f.timer.Statistics().Corrections)
}

func TestSyncWorkthroughClamp(t *testing.T) {
	for _, tc := range []struct {
		depth, want int
	}{
		{0, 2},
		{5, 5},
		{40, 16},
	} {
		f := newFixture(t, av.KindVideo)
		f.stream.depth = tc.depth
		require.NoError(t, f.timer.AttachManifestation(0, videoSurface()))
		feed(t, f, 0, 30000, 30000, 30000, 30000)
		f.timer.timingLock.Lock()
		end := f.timer.surfaces[0].workthroughEnd
		f.timer.timingLock.Unlock()
		assert.Equal(t, tc.want, end, "depth %d", tc.depth)
	}
}

func TestSyncResynchronizesWhenCorrectionFails(t *testing.T) {
	f := newFixture(t, av.KindVideo)
	require.NoError(t, f.timer.AttachManifestation(0, videoSurface()))
	feed(t, f, 0, 30000, 30000, 30000, 30000)
	feed(t, f, 0, 30000, 30000, 30000, 30000)
	assert.Equal(t, SyncNull, state(t, f, 0))
	assert.Equal(t, 1, f.coordinator.invalidations)
	assert.Equal(t, 1, f.stream.count(av.EventResynchronizeRequested))
	assert.Equal(t, 0, f.stream.count(av.EventOutputInSync))
	assert.Equal(t, int64(1), f.timer.Statistics().Resynchronizations)
}

func TestSyncEscapeHatchDrains(t *testing.T) {
	f := newFixture(t, av.KindVideo)
	require.NoError(t, f.timer.AttachManifestation(0, videoSurface()))
	feed(t, f, 0, 10*100000+1)
	assert.Equal(t, SyncNull, state(t, f, 0))
	assert.Equal(t, 1, f.coordinator.drains)
	assert.Equal(t, 1, f.stream.count(av.EventDrainRequested))
	assert.Equal(t, int64(1), f.timer.Statistics().Drains)
}

func TestSyncStabilityChoosesCorrection(t *testing.T) {
	f := newFixture(t, av.KindAudio, pastStartup)
	require.NoError(t, f.timer.AttachManifestation(0, audioSurface()))
	feed(t, f, 0, 2000, 2100, 2000, 1900)
	pending, err := f.timer.PendingCorrection(0)
	require.NoError(t, err)
	// 평균 2000us * 48kHz = 96 샘플
	assert.Equal(t, int64(-96), pending)

	f = newFixture(t, av.KindAudio, pastStartup)
	require.NoError(t, f.timer.AttachManifestation(0, audioSurface()))
	feed(t, f, 0, 2000, 3000, 2000, 5000)
	pending, err = f.timer.PendingCorrection(0)
	require.NoError(t, err)
	// 불안정하면 마지막 오차 5000us
	assert.Equal(t, int64(-240), pending)
}

func TestSyncThreshold(t *testing.T) {
	f := newFixture(t, av.KindVideo)
	require.NoError(t, f.timer.AttachManifestation(0, videoSurface()))
	s := &f.timer.surfaces[0]
	assert.Equal(t, int64(4000), f.timer.threshold(s))
	f.policies.values[av.PolicyLivePlayback] = av.PolicyValueApply
	assert.Equal(t, int64(4000), f.timer.threshold(s))
	s.frames = 8193
	assert.Equal(t, int64(1000), f.timer.threshold(s))

	// 잠긴 클럭: 반으로 줄이고, 반 리프레시(10ms)보다 작으면 그대로 둔다.
	f.coordinator.locked = true
	assert.Equal(t, int64(500), f.timer.threshold(s))
	s.frames = 1
	assert.Equal(t, int64(2000), f.timer.threshold(s))

	wide := newFixture(t, av.KindVideo, pastStartup, func(c *configure.TimingCfg) {
		c.SyncThresholdUs = 50000
	})
	require.NoError(t, wide.timer.AttachManifestation(0, videoSurface()))
	ws := &wide.timer.surfaces[0]
	ws.frames = 1
	assert.Equal(t, int64(50000), wide.timer.threshold(ws))
	wide.coordinator.locked = true
	// 25000us 를 10ms 배수로 내린다.
	assert.Equal(t, int64(20000), wide.timer.threshold(ws))

	a := newFixture(t, av.KindAudio)
	require.NoError(t, a.timer.AttachManifestation(0, audioSurface()))
	a.coordinator.locked = true
	as := &a.timer.surfaces[0]
	as.frames = 8193
	assert.Equal(t, int64(500), a.timer.threshold(as))
}

func TestSyncStartupThresholdWidens(t *testing.T) {
	for _, live := range []int{av.PolicyValueDisapply, av.PolicyValueApply} {
		f := newFixture(t, av.KindVideo, func(c *configure.TimingCfg) {
			c.SyncStartupFrames = 1
		})
		require.NoError(t, f.timer.AttachManifestation(0, videoSurface()))
		f.policies.values[av.PolicyLivePlayback] = live
		feed(t, f, 0, 3000)
		assert.Equal(t, SyncInSync, state(t, f, 0), "live %d", live)
		feed(t, f, 0, 3000)
		assert.Equal(t, SyncSuspectedError, state(t, f, 0), "live %d", live)
	}
}

func TestSyncClockMasterIsNotCorrected(t *testing.T) {
	f := newFixture(t, av.KindAudio, pastStartup)
	desc := audioSurface()
	desc.ClockMaster = true
	require.NoError(t, f.timer.AttachManifestation(0, desc))
	f.policies.values[av.PolicyMasterClock] = av.PolicyValueAudioClockMaster

	feed(t, f, 0, 2000, 2000, 2000, 2000)
	pending, err := f.timer.PendingCorrection(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
	assert.Equal(t, 0, f.stream.count(av.EventSynchronizationCorrection))
	assert.Equal(t, []int{0}, f.coordinator.restarts)
	assert.Equal(t, SyncAwaitingCorrection, state(t, f, 0))
}

func recordFrame(t *testing.T, f *fixture, pts, lateBy int64) {
	b := videoFrame(pts, true, true)
	require.NoError(t, f.timer.GenerateFrameTiming(b))
	rec := av.OutputTimingOf(b)
	require.True(t, rec.TimingValid)
	rec.Surfaces[0].ActualSystemPlaybackTime = rec.Surfaces[0].SystemPlaybackTime + lateBy
	require.NoError(t, f.timer.RecordActualFrameTiming(b))
}

func TestSyncClockJumpStartsLongHoldoff(t *testing.T) {
	f := newFixture(t, av.KindVideo)
	require.NoError(t, f.timer.AttachManifestation(0, videoSurface()))
	recordFrame(t, f, 0, 0)
	assert.Equal(t, SyncInSync, state(t, f, 0))

	// 3ppm 은 허용
	f.coordinator.adjustment = rational.New(1000003, 1000000)
	recordFrame(t, f, 40000, 0)
	assert.Equal(t, SyncInSync, state(t, f, 0))

	f.coordinator.adjustment = rational.New(1000010, 1000000)
	recordFrame(t, f, 80000, 0)
	assert.Equal(t, SyncAwaitingCorrection, state(t, f, 0))
	f.timer.timingLock.Lock()
	s := f.timer.surfaces[0]
	f.timer.timingLock.Unlock()
	assert.True(t, s.holdoff)
	assert.Equal(t, 1088, s.workthroughEnd)
	assert.Equal(t, 3, f.coordinator.vsyncs)

	// 긴 대기 중에는 큰 오차도 재동기화하지 않는다.
	for i := 0; i < 1088; i++ {
		recordFrame(t, f, int64(120000+i*40000), 6000)
	}
	assert.Equal(t, SyncInSync, state(t, f, 0))
	assert.Equal(t, 0, f.coordinator.invalidations)
}

func TestSyncRestartedIntegrationIsNotAJump(t *testing.T) {
	f := newFixture(t, av.KindVideo, pastStartup, func(c *configure.TimingCfg) {
		c.SyncIntegrationCount = 2
	})
	require.NoError(t, f.timer.AttachManifestation(0, videoSurface()))
	slaved := videoSurface()
	slaved.SlavedTo = 0
	require.NoError(t, f.timer.AttachManifestation(1, slaved))

	// 10ppm 으로 어긋난 채 적분 중이다. 주 면만 늦는다.
	f.coordinator.adjustment = rational.New(1000010, 1000000)
	play := func(pts, lateBy int64) {
		b := videoFrame(pts, true, true)
		require.NoError(t, f.timer.GenerateFrameTiming(b))
		rec := av.OutputTimingOf(b)
		require.True(t, rec.TimingValid)
		rec.Surfaces[0].ActualSystemPlaybackTime = rec.Surfaces[0].SystemPlaybackTime + lateBy
		rec.Surfaces[1].ActualSystemPlaybackTime = rec.Surfaces[1].SystemPlaybackTime
		require.NoError(t, f.timer.RecordActualFrameTiming(b))
	}
	play(0, 30000)
	assert.Equal(t, SyncSuspectedError, state(t, f, 0))
	play(40000, 30000)
	assert.Equal(t, SyncAwaitingCorrection, state(t, f, 0))
	assert.Equal(t, []int{0, 1}, f.coordinator.restarts)
	assert.True(t, f.coordinator.adjustment.Equal(rational.One))
	assert.Equal(t, SyncInSync, state(t, f, 1))

	play(80000, 0)
	assert.Equal(t, SyncInSync, state(t, f, 1))
	f.timer.timingLock.Lock()
	holdoff := f.timer.surfaces[1].holdoff
	f.timer.timingLock.Unlock()
	assert.False(t, holdoff)
}

func TestSyncDisabledByPolicy(t *testing.T) {
	f := newFixture(t, av.KindVideo)
	require.NoError(t, f.timer.AttachManifestation(0, videoSurface()))
	f.policies.values[av.PolicyAVDSynchronization] = av.PolicyValueDisapply
	for i := 0; i < 8; i++ {
		recordFrame(t, f, int64(i)*40000, 30000)
	}
	assert.Equal(t, SyncNull, state(t, f, 0))
	assert.Equal(t, 8, f.coordinator.vsyncs)
}

func TestSyncIntegrationCountFromConfig(t *testing.T) {
	f := newFixture(t, av.KindVideo, func(c *configure.TimingCfg) {
		c.SyncIntegrationCount = 2
	})
	require.NoError(t, f.timer.AttachManifestation(0, videoSurface()))
	feed(t, f, 0, 30000, 30000)
	assert.Equal(t, SyncAwaitingCorrection, state(t, f, 0))
}

func TestRecordSurfaceTimingErrors(t *testing.T) {
	f := newFixture(t, av.KindVideo)
	assert.ErrorIs(t, f.timer.RecordSurfaceTiming(av.MaxSurfaces, 0, 0), ErrInvalidSurface)
	assert.ErrorIs(t, f.timer.RecordSurfaceTiming(1, 0, 0), ErrNoManifestation)
	assert.NoError(t, f.timer.RecordSurfaceTiming(1, av.InvalidTime, 0))
	assert.ErrorIs(t, f.timer.RecordActualFrameTiming(av.NewMetaBuffer()), ErrMissingMetadata)
}
