package av

import (
	"sync"
)

// MetaType 은 버퍼에 붙는 메타데이터의 종류이다.
type MetaType int

const (
	MetaFrameParameters MetaType = iota
	MetaAudioParameters
	MetaVideoParameters
	MetaOutputTiming
)

// MetaBuffer 는 메타데이터만 다루는 Buffer 구현이다.
// 파싱 쓰레드와 출력 쓰레드가 동시에 접근할 수 있으므로 뮤텍스로 보호한다.
type MetaBuffer struct {
	lock sync.Mutex
	meta map[MetaType]interface{}
}

func NewMetaBuffer() *MetaBuffer {
	return &MetaBuffer{
		meta: make(map[MetaType]interface{}),
	}
}

func (b *MetaBuffer) Metadata(t MetaType) interface{} {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.meta[t]
}

func (b *MetaBuffer) AttachMetadata(t MetaType, v interface{}) {
	b.lock.Lock()
	if v == nil {
		delete(b.meta, t)
	} else {
		b.meta[t] = v
	}
	b.lock.Unlock()
}

// FrameParametersOf returns the parsed frame parameters attached to b, or nil.
func FrameParametersOf(b Buffer) *FrameParameters {
	if b == nil {
		return nil
	}
	p, _ := b.Metadata(MetaFrameParameters).(*FrameParameters)
	return p
}

// AudioParametersOf returns the parsed audio parameters attached to b, or nil.
func AudioParametersOf(b Buffer) *AudioParameters {
	if b == nil {
		return nil
	}
	p, _ := b.Metadata(MetaAudioParameters).(*AudioParameters)
	return p
}

// VideoParametersOf returns the parsed video parameters attached to b, or nil.
func VideoParametersOf(b Buffer) *VideoParameters {
	if b == nil {
		return nil
	}
	p, _ := b.Metadata(MetaVideoParameters).(*VideoParameters)
	return p
}

// OutputTimingOf returns the output timing record attached to b, or nil.
func OutputTimingOf(b Buffer) *OutputTiming {
	if b == nil {
		return nil
	}
	t, _ := b.Metadata(MetaOutputTiming).(*OutputTiming)
	return t
}
