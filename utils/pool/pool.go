package pool

import "sync"

// 코딩된 데이터는 끊임 없이 들어오고 디코딩 후 버려진다.
// 매번 새로운 메모리를 할당하는 대신 고정 크기 슬랩을 앞에서부터 잘라 쓰고, 점유율을 외부에 알려준다.
// 디코드 인 타임 모니터는 이 점유율로 지연의 원인(코딩 데이터 고갈 여부)을 판단한다.

type Pool struct {
	lock sync.Mutex
	pos  int    // 현재 슬랩에서 사용된 위치(오프셋). 스택의 탑과 유사한 역할을 수행중.
	buf  []byte // 미리 할당된 고정 크기의 바이트 배열
	size int    // 슬랩 크기
}

// 기본 슬랩 크기. 500 kb
const maxpoolsize = 500 * 1024

// Get carves size bytes out of the slab, starting a fresh slab when it is exhausted.
func (pool *Pool) Get(size int) []byte {
	pool.lock.Lock()
	defer pool.lock.Unlock()
	if size > pool.size {
		return make([]byte, size)
	}
	if pool.size-pool.pos < size { // 슬랩 안에 남은 공간이 없으면 새 슬랩을 만든다.
		pool.pos = 0
		pool.buf = make([]byte, pool.size)
	}
	b := pool.buf[pool.pos : pool.pos+size]
	pool.pos += size
	return b
}

// Release returns the most recent n bytes to the slab once they have been consumed.
func (pool *Pool) Release(n int) {
	pool.lock.Lock()
	pool.pos -= n
	if pool.pos < 0 {
		pool.pos = 0
	}
	pool.lock.Unlock()
}

// Occupancy reports the bytes currently held and the slab size.
func (pool *Pool) Occupancy() (inUse, total int) {
	pool.lock.Lock()
	defer pool.lock.Unlock()
	return pool.pos, pool.size
}

func NewPool() *Pool {
	return NewPoolSize(maxpoolsize)
}

func NewPoolSize(size int) *Pool {
	return &Pool{
		buf:  make([]byte, size),
		size: size,
	}
}
