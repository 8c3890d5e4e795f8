package playback

import (
	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/configure"
	"github.com/gwuhaolin/playout/utils/rational"
)

type frame struct {
	video *av.MetaBuffer
	audio *av.MetaBuffer
}

// generate 는 설정대로 GOP 단위로 묶인 프레임을 만든다.
// 풀다운이면 24fps 콘텐츠를 30fps 인터레이스 시퀀스에 3필드, 2필드로 번갈아 싣는다.
func generate(cfg configure.SimulationCfg) [][]frame {
	contentRate := cfg.SimFrameRate
	if cfg.SimPulldown {
		contentRate = 24
	}
	samples := uint32(audioSampleRate / contentRate)
	step := cfg.SimGroupSize / cfg.SimReferenceCount

	var groups [][]frame
	var pts int64
	lastRef := uint64(0)
	for i := 0; i < cfg.SimFrames; i++ {
		pos := i % cfg.SimGroupSize
		if pos == 0 {
			groups = append(groups, nil)
		}
		key := pos == 0
		ref := pos%step == 0

		fp := &av.FrameParameters{
			FirstSubUnit:           true,
			KeyFrame:               key,
			ReferenceFrame:         ref,
			DecodeFrameIndex:       uint64(i),
			NativePlaybackTime:     pts * 90 / 1000,
			NormalizedPlaybackTime: pts,
			NormalizedDecodeTime:   av.InvalidTime,
		}
		if !key {
			fp.ReferenceFrameList = []uint64{lastRef}
		}
		if ref {
			lastRef = uint64(i)
		}

		vp := &av.VideoParameters{
			DisplayCount:     1,
			ProgressiveFrame: true,
			TopFieldFirst:    true,
			FrameRate:        rational.FromInt(cfg.SimFrameRate),
		}
		duration := av.MicrosecondsPerSecond / cfg.SimFrameRate
		if cfg.SimPulldown {
			vp.Interlaced = true
			vp.FrameRate = rational.FromInt(30)
			vp.DisplayCount = 2
			if i%2 == 0 {
				vp.DisplayCount = 3
			}
			duration = int64(vp.DisplayCount) * av.MicrosecondsPerSecond / 60
		}

		v := av.NewMetaBuffer()
		v.AttachMetadata(av.MetaFrameParameters, fp)
		v.AttachMetadata(av.MetaVideoParameters, vp)

		a := av.NewMetaBuffer()
		afp := &av.FrameParameters{
			FirstSubUnit:           true,
			KeyFrame:               true,
			ReferenceFrame:         true,
			DecodeFrameIndex:       uint64(i),
			NormalizedPlaybackTime: int64(i) * av.MicrosecondsPerSecond / contentRate,
			NormalizedDecodeTime:   av.InvalidTime,
		}
		a.AttachMetadata(av.MetaFrameParameters, afp)
		a.AttachMetadata(av.MetaAudioParameters, &av.AudioParameters{SampleCount: samples, SampleRateHz: audioSampleRate})

		g := len(groups) - 1
		groups[g] = append(groups[g], frame{video: v, audio: a})
		pts += duration
	}
	return groups
}
