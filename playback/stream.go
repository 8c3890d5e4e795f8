package playback

import (
	"sync"

	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/utils/pool"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	decodeBufferCount = 8 // 디코딩된 프레임 버퍼 수
	queueDepth        = 4 // 출력 면 큐 깊이
)

// Stream 은 시뮬레이션된 스트림 하나이다. 코딩 데이터는 pool 에서 잘라 쓰고,
// 디코딩된 프레임은 표시될 때까지 decodeBufferCount 개의 버퍼 중 하나를 차지한다.
type Stream struct {
	info av.Info
	pool *pool.Pool

	lock     sync.Mutex
	decoded  int // 표시를 기다리는 디코딩된 프레임 수
	events   map[av.EventCode]int
	handlers []func(av.Event)
}

func NewStream(key, url string) *Stream {
	return &Stream{
		info: av.Info{
			Key: key,
			URL: url,
			UID: uuid.New().String(),
		},
		pool:   pool.NewPool(),
		events: make(map[av.EventCode]int),
	}
}

func (s *Stream) Info() av.Info {
	return s.info
}

// OnEvent registers a handler run for every signalled event.
func (s *Stream) OnEvent(h func(av.Event)) {
	s.lock.Lock()
	s.handlers = append(s.handlers, h)
	s.lock.Unlock()
}

func (s *Stream) SignalEvent(e av.Event) {
	s.lock.Lock()
	s.events[e.Code]++
	handlers := s.handlers
	s.lock.Unlock()

	log.WithFields(log.Fields{"stream": s.info.Key, "surface": e.Surface}).Infof("[EVENT] %v value %d", e.Code, e.Value)
	for _, h := range handlers {
		h(e)
	}
}

func (s *Stream) BufferPoolOccupancy() av.PoolOccupancy {
	inUse, total := s.pool.Occupancy()
	s.lock.Lock()
	defer s.lock.Unlock()
	return av.PoolOccupancy{
		DecodeBuffersInUse: s.decoded,
		DecodeBuffersTotal: decodeBufferCount,
		CodedDataInUse:     inUse,
		CodedDataTotal:     total,
	}
}

func (s *Stream) ManifestationQueueDepth(surface int) int {
	return queueDepth
}

// Events returns how many times each event was signalled.
func (s *Stream) Events() map[av.EventCode]int {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make(map[av.EventCode]int, len(s.events))
	for k, v := range s.events {
		out[k] = v
	}
	return out
}

// acquire 는 코딩 데이터 size 바이트와 디코드 버퍼 하나를 잡는다.
func (s *Stream) acquire(size int) []byte {
	data := s.pool.Get(size)
	s.lock.Lock()
	if s.decoded < decodeBufferCount {
		s.decoded++
	}
	s.lock.Unlock()
	return data
}

// release 는 표시가 끝난 프레임의 자원을 돌려준다.
func (s *Stream) release(data []byte) {
	s.pool.Release(len(data))
	s.lock.Lock()
	if s.decoded > 0 {
		s.decoded--
	}
	s.lock.Unlock()
}
