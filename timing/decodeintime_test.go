package timing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwuhaolin/playout/av"
)

func TestDecodeInTimeNeedsConsecutiveFailures(t *testing.T) {
	var m decodeInTimeMonitor
	for i := 0; i < 15; i++ {
		assert.False(t, m.observe(true, int64(i), 16, 64))
	}
	assert.Equal(t, DecodeInTimeAccumulatingFailures, m.state)
	// N-1 번 늦은 뒤 한번 제시간이면 처음부터 다시 센다.
	assert.False(t, m.observe(false, 0, 16, 64))
	assert.Equal(t, DecodeInTime, m.state)

	fired := 0
	for i := 0; i < 16; i++ {
		if m.observe(true, int64(i), 16, 64) {
			fired++
			assert.Equal(t, 15, i)
		}
	}
	assert.Equal(t, 1, fired)
	assert.Equal(t, DecodeInTimeAccumulatedFailures, m.state)
}

func TestDecodeInTimeScenarioPause(t *testing.T) {
	var m decodeInTimeMonitor
	transitions := 0
	for i := 0; i < 17; i++ {
		before := m.state
		m.observe(true, 1000, 16, 64)
		if before != DecodeInTimeAccumulatedFailures && m.state == DecodeInTimeAccumulatedFailures {
			transitions++
		}
	}
	assert.Equal(t, 1, transitions)
	assert.Equal(t, DecodeInTimePauseBetweenIntegrations, m.state)

	// 17번째 프레임이 휴지 구간의 첫 프레임이다. 63 프레임을 더 지나면 다시 감시한다.
	for i := 0; i < 62; i++ {
		assert.False(t, m.observe(true, 1000, 16, 64))
		assert.Equal(t, DecodeInTimePauseBetweenIntegrations, m.state)
	}
	assert.False(t, m.observe(true, 1000, 16, 64))
	assert.Equal(t, DecodeInTime, m.state)

	assert.False(t, m.observe(true, 1000, 16, 64))
	assert.Equal(t, DecodeInTimeAccumulatingFailures, m.state)
}

func TestDecodeInTimeGrowth(t *testing.T) {
	var m decodeInTimeMonitor
	for i := 1; i <= 4; i++ {
		m.observe(true, int64(i*1000), 4, 64)
	}
	assert.True(t, m.growing)

	m = decodeInTimeMonitor{}
	for _, l := range []int64{1000, 2000, 2000, 3000} {
		m.observe(true, l, 4, 64)
	}
	assert.False(t, m.growing)
}

func TestParseAction(t *testing.T) {
	for s, want := range map[string]action{
		"":             actionNone,
		"none":         actionNone,
		"rebase":       actionRebase,
		"event":        actionEvent,
		"rebase_event": actionRebase | actionEvent,
	} {
		got, err := parseAction(s)
		require.NoError(t, err)
		assert.Equal(t, want, got, s)
	}
	_, err := parseAction("panic")
	assert.Error(t, err)
}

func TestClassifyCause(t *testing.T) {
	f := newFixture(t, av.KindVideo)
	f.stream.occupancy = av.PoolOccupancy{DecodeBuffersInUse: 7, DecodeBuffersTotal: 8, CodedDataInUse: 50, CodedDataTotal: 100}
	assert.Equal(t, CauseDecodeBufferExhaustion, f.timer.classify(true))

	f.stream.occupancy = av.PoolOccupancy{DecodeBuffersInUse: 2, DecodeBuffersTotal: 8, CodedDataInUse: 10, CodedDataTotal: 100}
	assert.Equal(t, CauseCodedDataStarvation, f.timer.classify(true))

	f.stream.occupancy = av.PoolOccupancy{DecodeBuffersInUse: 2, DecodeBuffersTotal: 8, CodedDataInUse: 50, CodedDataTotal: 100}
	assert.Equal(t, CauseDecodeRateShortfall, f.timer.classify(true))
	assert.Equal(t, CauseUnknown, f.timer.classify(false))
}

// lateRun 은 모든 프레임이 최소 지연보다 늦게 도착하도록 n 프레임을 흘린다.
func lateRun(t *testing.T, f *fixture, n int) {
	for i := 0; i < n; i++ {
		pts := int64(i) * 40000
		f.coordinator.setNow(pts + int64(i)*1000)
		_, err := f.timer.BeforeManifestation(manifestFrame(f, t, pts))
		require.NoError(t, err)
	}
}

func newLateFixture(t *testing.T) *fixture {
	f := newFixture(t, av.KindVideo)
	require.NoError(t, f.timer.AttachManifestation(0, videoSurface()))
	f.coordinator.mapped = true
	f.stream.occupancy = av.PoolOccupancy{DecodeBuffersInUse: 2, DecodeBuffersTotal: 8, CodedDataInUse: 50, CodedDataTotal: 100}
	return f
}

func TestDecodeInTimeRecoveryRebases(t *testing.T) {
	f := newLateFixture(t)
	lateRun(t, f, 17)

	// 16번째 프레임: now = pts + 15000, 지연 = 15000 + 20000
	require.Len(t, f.coordinator.rebases, 1)
	assert.Equal(t, int64(35000+20000), f.coordinator.rebases[0])
	assert.Equal(t, 1, f.stream.count(av.EventDecodeInTimeFailure))
	assert.Equal(t, 1, f.stream.count(av.EventTimeMappingRebased))
	e, _ := f.stream.last(av.EventDecodeInTimeFailure)
	assert.Equal(t, int64(CauseDecodeRateShortfall), e.Value)

	stats := f.timer.Statistics()
	assert.Equal(t, int64(1), stats.DecodeInTimeFailures)
	assert.Equal(t, int64(1), stats.Rebases)
	assert.Equal(t, DecodeInTimePauseBetweenIntegrations, f.timer.DecodeInTimeState())
}

func TestDecodeInTimeRebaseSuppressedWhenLive(t *testing.T) {
	f := newLateFixture(t)
	f.policies.values[av.PolicyLivePlayback] = av.PolicyValueApply
	lateRun(t, f, 16)
	assert.Empty(t, f.coordinator.rebases)
	assert.Equal(t, 1, f.stream.count(av.EventDecodeInTimeFailure))

	f = newLateFixture(t)
	f.policies.values[av.PolicyLivePlayback] = av.PolicyValueApply
	f.policies.values[av.PolicyPacketInjectorPlayback] = av.PolicyValueApply
	// 패킷 인젝터 모드에서는 원인과 무관하게 리베이스한다.
	f.stream.occupancy = av.PoolOccupancy{DecodeBuffersInUse: 8, DecodeBuffersTotal: 8}
	lateRun(t, f, 16)
	assert.Len(t, f.coordinator.rebases, 1)
}

func TestDecodeInTimeEventOnlyAction(t *testing.T) {
	f := newLateFixture(t)
	f.stream.occupancy = av.PoolOccupancy{DecodeBuffersInUse: 8, DecodeBuffersTotal: 8}
	lateRun(t, f, 16)
	assert.Empty(t, f.coordinator.rebases)
	e, ok := f.stream.last(av.EventDecodeInTimeFailure)
	require.True(t, ok)
	assert.Equal(t, int64(CauseDecodeBufferExhaustion), e.Value)
}
