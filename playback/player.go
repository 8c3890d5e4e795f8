// Package playback drives simulated audio and video streams through the timing engine.
package playback

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/configure"
	"github.com/gwuhaolin/playout/output"
	"github.com/gwuhaolin/playout/timing"
	"github.com/gwuhaolin/playout/utils/rational"

	"github.com/go-redis/redis/v7"
	log "github.com/sirupsen/logrus"
)

const (
	videoRefreshHz   = 50
	videoLatencyUs   = 20000
	audioSampleRate  = 48000
	audioLatencyUs   = 10000
	outputSlackUs    = 5000 // 출력 쓰레드가 최소 지연보다 앞서 프레임을 받는 여유
	keyFrameBytes    = 20000
	refFrameBytes    = 6000
	nonRefFrameBytes = 2000
)

// Report 는 한 번의 재생 결과이다.
type Report struct {
	Frames      int
	Video       timing.Statistics
	Audio       timing.Statistics
	VideoEvents map[av.EventCode]int
	AudioEvents map[av.EventCode]int
	VideoSync   timing.SynchronizationState
	AudioSync   timing.SynchronizationState
	Vsync       output.VsyncStats
	Domain      av.TrickModeDomain
	Domains     []av.TrickModeDomain // 영역이 바뀔 때마다 기록한다.
}

type Player struct {
	cfg         configure.PlayerCfg
	clock       *output.VirtualClock
	coordinator *output.Coordinator
	rand        *rand.Rand

	video         *Stream
	audio         *Stream
	videoCodec    *Codec
	videoPolicies *configure.PolicyStore
	audioPolicies *configure.PolicyStore
	videoTimer    *timing.Timer
	audioTimer    *timing.Timer

	speed   rational.Rational
	dir     av.Direction
	domains []av.TrickModeDomain
}

// NewPlayer builds the streams, timers and the shared coordinator of one playback named name.
// redisCli may be nil.
func NewPlayer(cfg configure.PlayerCfg, name string, redisCli *redis.Client) (*Player, error) {
	if cfg.SimFrameRate <= 0 {
		return nil, fmt.Errorf("frame rate %d <= 0", cfg.SimFrameRate)
	}
	if cfg.SimGroupSize <= 0 || cfg.SimReferenceCount <= 0 || cfg.SimReferenceCount > cfg.SimGroupSize {
		return nil, fmt.Errorf("bad group structure %d/%d", cfg.SimGroupSize, cfg.SimReferenceCount)
	}

	p := &Player{
		cfg:   cfg,
		clock: output.NewVirtualClock(0),
		rand:  rand.New(rand.NewSource(1)),
	}
	p.coordinator = output.NewCoordinator(p.clock)

	key := "live/" + name
	p.video = NewStream(key, "sim://"+name)
	p.audio = NewStream(key+"/audio", "sim://"+name+"/audio")
	p.video.OnEvent(func(e av.Event) {
		if e.Code == av.EventTrickModeDomainChange {
			p.domains = append(p.domains, av.TrickModeDomain(e.Value))
		}
	})

	p.videoPolicies = configure.NewPolicyStore(p.video.Info().Key, redisCli)
	p.audioPolicies = configure.NewPolicyStore(p.audio.Info().Key, redisCli)
	for _, store := range []*configure.PolicyStore{p.videoPolicies, p.audioPolicies} {
		if err := store.ApplyConfig(cfg); err != nil {
			return nil, err
		}
	}
	p.speed, p.dir = p.videoPolicies.Speed()
	p.coordinator.SetSpeed(p.speed, p.dir)

	p.videoCodec = NewCodec(NewVideoCodecParameters(cfg.SimFrameRate, cfg.SimDecodeRate, cfg.SimGroupSize, cfg.SimReferenceCount))
	var err error
	p.videoTimer, err = timing.New(cfg.TimingCfg, av.KindVideo, p.video, p.coordinator, p.videoCodec, p.videoPolicies)
	if err != nil {
		return nil, err
	}
	p.audioTimer, err = timing.New(cfg.TimingCfg, av.KindAudio, p.audio, p.coordinator, NewCodec(av.TrickModeParameters{}), p.audioPolicies)
	if err != nil {
		p.videoTimer.Close()
		return nil, err
	}

	master := p.videoPolicies.Policy(av.PolicyMasterClock)
	if err := p.videoTimer.AttachManifestation(0, av.SurfaceDescriptor{
		Kind:           av.KindVideo,
		RefreshRate:    rational.FromInt(videoRefreshHz),
		MinimumLatency: videoLatencyUs,
		ClockMaster:    master == av.PolicyValueVideoClockMaster,
		SlavedTo:       -1,
	}); err != nil {
		return nil, err
	}
	if err := p.audioTimer.AttachManifestation(0, av.SurfaceDescriptor{
		Kind:           av.KindAudio,
		SampleRateHz:   audioSampleRate,
		MinimumLatency: audioLatencyUs,
		ClockMaster:    master == av.PolicyValueAudioClockMaster,
		SlavedTo:       -1,
	}); err != nil {
		return nil, err
	}
	log.Infof("[PLAYER] %s speed %s %s", key, p.speed, p.dir)
	return p, nil
}

// audible 은 오디오를 낼지 여부이다. 트릭 모드와 역재생에서는 오디오를 끈다.
func (p *Player) audible() bool {
	return p.dir == av.Forward && p.speed.Equal(rational.One)
}

// refresh 는 공유 정책을 다시 읽고 속도가 바뀌었으면 코디네이터에 알린다.
func (p *Player) refresh() error {
	for _, store := range []*configure.PolicyStore{p.videoPolicies, p.audioPolicies} {
		if err := store.Refresh(); err != nil {
			return err
		}
	}
	speed, dir := p.videoPolicies.Speed()
	if !speed.Equal(p.speed) || dir != p.dir {
		log.Infof("[PLAYER] speed changed to %s %s", speed, dir)
		p.speed, p.dir = speed, dir
		p.coordinator.SetSpeed(speed, dir)
	}
	return nil
}

// Run plays every generated frame and returns the outcome.
func (p *Player) Run(ctx context.Context) (Report, error) {
	defer p.close()

	groups := generate(p.cfg.SimulationCfg)
	if p.dir == av.Backward {
		for i, j := 0, len(groups)-1; i < j; i, j = i+1, j-1 {
			groups[i], groups[j] = groups[j], groups[i]
		}
	}

	frames := 0
	for _, g := range groups {
		if err := p.refresh(); err != nil {
			log.Warning("policy refresh: ", err)
		}
		if p.dir == av.Backward {
			// 역재생에서는 GOP 를 모은 쪽이 구조를 관찰한다.
			for _, f := range g {
				if err := p.videoTimer.ObserveGroupStructure(f.video); err != nil {
					return Report{}, err
				}
			}
		}
		for _, f := range g {
			if err := ctx.Err(); err != nil {
				return p.report(frames), err
			}
			if err := p.playVideo(ctx, f.video); err != nil {
				return p.report(frames), err
			}
			if p.audible() {
				if err := p.playAudio(ctx, f.audio); err != nil {
					return p.report(frames), err
				}
			}
			frames++
		}
	}
	return p.report(frames), nil
}

func (p *Player) playVideo(ctx context.Context, b *av.MetaBuffer) error {
	t := p.videoTimer
	d, err := t.BeforeDecodeWindow(b)
	if err != nil || !d.Proceed() {
		return err
	}
	if err := t.AwaitEntryIntoDecodeWindow(ctx, b); err != nil {
		return err
	}
	if d, err = t.BeforeDecode(b); err != nil || !d.Proceed() {
		return err
	}

	fp := av.FrameParametersOf(b)
	size := nonRefFrameBytes
	if fp.KeyFrame {
		size = keyFrameBytes
	} else if fp.ReferenceFrame {
		size = refFrameBytes
	}
	data := p.video.acquire(size)
	defer p.video.release(data)
	p.videoCodec.decode(fp)

	if d, err = t.BeforeOutputTiming(b); err != nil || !d.Proceed() {
		return err
	}
	if err := t.GenerateFrameTiming(b); err != nil {
		return err
	}
	return p.present(t, b)
}

func (p *Player) playAudio(ctx context.Context, b *av.MetaBuffer) error {
	t := p.audioTimer
	d, err := t.BeforeDecodeWindow(b)
	if err != nil || !d.Proceed() {
		return err
	}
	if err := t.AwaitEntryIntoDecodeWindow(ctx, b); err != nil {
		return err
	}
	if d, err = t.BeforeDecode(b); err != nil || !d.Proceed() {
		return err
	}
	data := p.audio.acquire(int(av.AudioParametersOf(b).SampleCount) * 4)
	defer p.audio.release(data)

	if d, err = t.BeforeOutputTiming(b); err != nil || !d.Proceed() {
		return err
	}
	if err := t.GenerateFrameTiming(b); err != nil {
		return err
	}
	return p.present(t, b)
}

// present 는 출력 쪽을 흉내낸다. 늦게 도착한 프레임은 최소 지연만큼 뒤에 표시된다.
func (p *Player) present(t *timing.Timer, b *av.MetaBuffer) error {
	rec := av.OutputTimingOf(b)
	earliest := av.InvalidTime
	var latency int64
	if rec != nil && rec.TimingValid {
		for _, s := range rec.Surfaces {
			if s.Valid && (earliest == av.InvalidTime || s.SystemPlaybackTime < earliest) {
				earliest = s.SystemPlaybackTime
			}
		}
	}
	if t.Kind() == av.KindVideo {
		latency = videoLatencyUs
	} else {
		latency = audioLatencyUs
	}

	if earliest != av.InvalidTime {
		if p.cfg.SimLateRatio > 0 && p.rand.Float64() < p.cfg.SimLateRatio {
			p.clock.Set(earliest)
		} else {
			p.clock.Set(earliest - latency - outputSlackUs)
		}
	}
	d, err := t.BeforeManifestation(b)
	if err != nil || !d.Proceed() || earliest == av.InvalidTime {
		return err
	}

	now := p.clock.Now()
	for i := range rec.Surfaces {
		s := &rec.Surfaces[i]
		if !s.Valid {
			continue
		}
		actual := s.SystemPlaybackTime
		if now+latency > actual {
			actual = now + latency
		}
		if j := p.cfg.SimJitterUs; j > 0 {
			actual += p.rand.Int63n(2*j+1) - j
		}
		s.ActualSystemPlaybackTime = actual
	}
	return t.RecordActualFrameTiming(b)
}

func (p *Player) report(frames int) Report {
	r := Report{
		Frames:      frames,
		Video:       p.videoTimer.Statistics(),
		Audio:       p.audioTimer.Statistics(),
		VideoEvents: p.video.Events(),
		AudioEvents: p.audio.Events(),
		Domain:      p.videoTimer.TrickModeDomain(),
		Domains:     p.domains,
	}
	r.VideoSync, _ = p.videoTimer.SyncState(0)
	r.AudioSync, _ = p.audioTimer.SyncState(0)
	r.Vsync, _ = p.coordinator.Vsync(p.video.Info(), 0)
	return r
}

func (p *Player) close() {
	for _, t := range []*timing.Timer{p.videoTimer, p.audioTimer} {
		if err := t.Close(); err != nil {
			log.Warning("close timer: ", err)
		}
	}
}
