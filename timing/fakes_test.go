package timing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/configure"
	"github.com/gwuhaolin/playout/utils/rational"
)

type fakeStream struct {
	mu        sync.Mutex
	info      av.Info
	events    []av.Event
	occupancy av.PoolOccupancy
	depth     int
}

func (s *fakeStream) Info() av.Info {
	return s.info
}

func (s *fakeStream) SignalEvent(e av.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *fakeStream) BufferPoolOccupancy() av.PoolOccupancy {
	return s.occupancy
}

func (s *fakeStream) ManifestationQueueDepth(surface int) int {
	return s.depth
}

func (s *fakeStream) count(code av.EventCode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Code == code {
			n++
		}
	}
	return n
}

func (s *fakeStream) last(code av.EventCode) (av.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Code == code {
			return s.events[i], true
		}
	}
	return av.Event{}, false
}

type fakeCodec struct {
	params   av.TrickModeParameters
	resident map[uint64]bool
	checks   int
}

func (c *fakeCodec) TrickModeParameters() av.TrickModeParameters {
	return c.params
}

func (c *fakeCodec) CheckReferenceFrameList(list []uint64) bool {
	c.checks++
	for _, idx := range list {
		if !c.resident[idx] {
			return false
		}
	}
	return true
}

type fakePolicies struct {
	values    map[string]int
	speed     rational.Rational
	direction av.Direction
	lo, hi    int64
}

func newFakePolicies() *fakePolicies {
	return &fakePolicies{
		values: map[string]int{av.PolicyAVDSynchronization: av.PolicyValueApply},
		speed:  rational.One,
		lo:     av.InvalidTime,
		hi:     av.InvalidTime,
	}
}

func (p *fakePolicies) Policy(name string) int {
	return p.values[name]
}

func (p *fakePolicies) Speed() (rational.Rational, av.Direction) {
	return p.speed, p.direction
}

func (p *fakePolicies) PresentationInterval() (int64, int64) {
	return p.lo, p.hi
}

type fakeCoordinator struct {
	mu            sync.Mutex
	now           int64
	mapped        bool
	baseP, baseS  int64
	locked        bool
	adjustment    rational.Rational
	restarts      []int
	rebases       []int64
	vsyncs        int
	drains        int
	invalidations int
	resets        int
	registered    int
	deregistered  int
	awaited       []int64
	syncRequests  []int64
	err           error
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{adjustment: rational.One}
}

func (c *fakeCoordinator) RegisterStream(info av.Info, kind av.Kind) error {
	c.registered++
	return c.err
}

func (c *fakeCoordinator) DeregisterStream(info av.Info) error {
	c.deregistered++
	return nil
}

func (c *fakeCoordinator) ResetTimeMapping(info av.Info) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
	c.mapped = false
	return nil
}

func (c *fakeCoordinator) InvalidateTimeMapping(info av.Info) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations++
	c.mapped = false
	return nil
}

func (c *fakeCoordinator) TranslatePlaybackTimeToSystem(info av.Info, playback int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mapped {
		return av.InvalidTime, av.ErrNoTimeMapping
	}
	return c.baseS + playback - c.baseP, nil
}

func (c *fakeCoordinator) SynchronizeStreams(info av.Info, playback, system int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncRequests = append(c.syncRequests, system)
	if !c.mapped {
		c.mapped = true
		c.baseP = playback
		c.baseS = system
	}
	return c.baseS + playback - c.baseP, nil
}

func (c *fakeCoordinator) CalculateOutputRateAdjustment(info av.Info, surface int, expected, actual int64) (rational.Rational, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adjustment, nil
}

func (c *fakeCoordinator) AwaitEntryIntoDecodeWindow(ctx context.Context, info av.Info, systemTime int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaited = append(c.awaited, systemTime)
	return ctx.Err()
}

func (c *fakeCoordinator) MonitorVsyncOffsets(info av.Info, surface int, expected, actual int64) {
	c.mu.Lock()
	c.vsyncs++
	c.mu.Unlock()
}

func (c *fakeCoordinator) RebaseTimeMapping(info av.Info, adjustment int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebases = append(c.rebases, adjustment)
	c.baseS += adjustment
	return nil
}

func (c *fakeCoordinator) DrainLivePlayback(info av.Info) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drains++
	return nil
}

func (c *fakeCoordinator) RestartOutputRateIntegration(info av.Info, surface int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restarts = append(c.restarts, surface)
	// 새 적분 구간은 조정 없이 시작한다.
	c.adjustment = rational.One
	return nil
}

func (c *fakeCoordinator) ClockLocked(info av.Info) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

func (c *fakeCoordinator) SystemTime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeCoordinator) setNow(now int64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

type fixture struct {
	timer       *Timer
	stream      *fakeStream
	codec       *fakeCodec
	policies    *fakePolicies
	coordinator *fakeCoordinator
}

func defaultTrickModeParameters() av.TrickModeParameters {
	return av.TrickModeParameters{
		EmpiricalMaximumDecodeFrameRate: rational.FromInt(52),
		CodedFrameRate:                  rational.FromInt(25),
		SubstandardDecodeSupported:      true,
		SubstandardDecodeRateIncrease:   rational.New(3, 2),
		DefaultGroupSize:                12,
		DefaultReferenceCount:           4,
		MaximumReverseSpeed:             rational.FromInt(64),
	}
}

func newFixture(t *testing.T, kind av.Kind, mutate ...func(*configure.TimingCfg)) *fixture {
	cfg := configure.DefaultTimingCfg()
	for _, m := range mutate {
		m(&cfg)
	}
	f := &fixture{
		stream:      &fakeStream{info: av.Info{Key: "live/test", UID: "uid"}, depth: 4},
		codec:       &fakeCodec{params: defaultTrickModeParameters(), resident: map[uint64]bool{}},
		policies:    newFakePolicies(),
		coordinator: newFakeCoordinator(),
	}
	tm, err := New(cfg, kind, f.stream, f.coordinator, f.codec, f.policies)
	require.NoError(t, err)
	f.timer = tm
	return f
}

func videoSurface() av.SurfaceDescriptor {
	return av.SurfaceDescriptor{
		Kind:           av.KindVideo,
		RefreshRate:    rational.FromInt(50),
		MinimumLatency: 20000,
		SlavedTo:       -1,
	}
}

func audioSurface() av.SurfaceDescriptor {
	return av.SurfaceDescriptor{
		Kind:           av.KindAudio,
		SampleRateHz:   48000,
		MinimumLatency: 10000,
		SlavedTo:       -1,
	}
}

// videoFrame 은 25fps 프로그레시브 프레임 하나를 만든다.
func videoFrame(pts int64, key, ref bool) *av.MetaBuffer {
	b := av.NewMetaBuffer()
	b.AttachMetadata(av.MetaFrameParameters, &av.FrameParameters{
		FirstSubUnit:           true,
		KeyFrame:               key,
		ReferenceFrame:         ref || key,
		NormalizedPlaybackTime: pts,
		NormalizedDecodeTime:   av.InvalidTime,
	})
	b.AttachMetadata(av.MetaVideoParameters, &av.VideoParameters{
		DisplayCount:     1,
		ProgressiveFrame: true,
		TopFieldFirst:    true,
		FrameRate:        rational.FromInt(25),
	})
	return b
}

func audioFrame(pts int64, samples, rate uint32) *av.MetaBuffer {
	b := av.NewMetaBuffer()
	b.AttachMetadata(av.MetaFrameParameters, &av.FrameParameters{
		FirstSubUnit:           true,
		KeyFrame:               true,
		ReferenceFrame:         true,
		NormalizedPlaybackTime: pts,
		NormalizedDecodeTime:   av.InvalidTime,
	})
	b.AttachMetadata(av.MetaAudioParameters, &av.AudioParameters{SampleCount: samples, SampleRateHz: rate})
	return b
}

// gopFrames 는 크기 size, 참조 refs 인 GOP 를 count 개 만든다. 참조 프레임은 고르게 놓는다.
func gopFrames(size, refs, count int) []*av.MetaBuffer {
	var out []*av.MetaBuffer
	step := size / refs
	idx := 0
	for g := 0; g < count; g++ {
		for i := 0; i < size; i++ {
			b := videoFrame(int64(idx)*40000, i == 0, i%step == 0)
			av.FrameParametersOf(b).DecodeFrameIndex = uint64(idx)
			out = append(out, b)
			idx++
		}
	}
	return out
}
