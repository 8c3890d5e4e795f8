package playback

import (
	"sync"

	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/utils/rational"
)

// 디코더가 참조용으로 들고 있는 프레임 수
const residentFrames = 16

// Codec 은 시뮬레이션된 디코더이다. 최근에 디코딩한 참조 프레임만 남겨 둔다.
type Codec struct {
	params av.TrickModeParameters

	lock     sync.Mutex
	resident map[uint64]bool
	order    []uint64
}

func NewCodec(params av.TrickModeParameters) *Codec {
	return &Codec{
		params:   params,
		resident: make(map[uint64]bool),
	}
}

// NewVideoCodecParameters describes a decoder that decodes decodeRate frames per second of a
// frameRate stream, a third faster when asked for substandard decoding.
func NewVideoCodecParameters(frameRate, decodeRate int64, groupSize, referenceCount int) av.TrickModeParameters {
	return av.TrickModeParameters{
		EmpiricalMaximumDecodeFrameRate: rational.FromInt(decodeRate),
		CodedFrameRate:                  rational.FromInt(frameRate),
		SubstandardDecodeSupported:      true,
		SubstandardDecodeRateIncrease:   rational.New(3, 2),
		DefaultGroupSize:                uint32(groupSize),
		DefaultReferenceCount:           uint32(referenceCount),
		MaximumReverseSpeed:             rational.FromInt(64),
	}
}

func (c *Codec) TrickModeParameters() av.TrickModeParameters {
	return c.params
}

func (c *Codec) CheckReferenceFrameList(list []uint64) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, idx := range list {
		if !c.resident[idx] {
			return false
		}
	}
	return true
}

// decode 는 프레임을 디코딩한다. 키 프레임은 참조 목록을 비운다.
func (c *Codec) decode(fp *av.FrameParameters) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if fp.KeyFrame {
		c.resident = make(map[uint64]bool)
		c.order = c.order[:0]
	}
	if !fp.ReferenceFrame {
		return
	}
	c.resident[fp.DecodeFrameIndex] = true
	c.order = append(c.order, fp.DecodeFrameIndex)
	if len(c.order) > residentFrames {
		delete(c.resident, c.order[0])
		c.order = c.order[1:]
	}
}
