package timing

import (
	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/utils/rational"
)

// groupSample 은 완료된 GOP 하나의 구성이다.
type groupSample struct {
	size uint32 // GOP 내 프레임 수
	refs uint32 // 키 프레임을 포함한 참조 프레임 수
}

// groupStructure 는 최근 GOP 들의 구성을 고정 크기 링으로 보관한다.
// groupLock 으로 보호된다.
type groupStructure struct {
	ring    []groupSample
	next    int // 다음에 쓸 위치, 링 크기로 나머지 연산
	filled  int
	curSize uint32
	curRefs uint32
	inGroup bool // 키 프레임을 본 뒤 GOP 를 세고 있는지
}

func newGroupStructure(window int) *groupStructure {
	if window < 1 {
		window = 1
	}
	return &groupStructure{ring: make([]groupSample, window)}
}

// observe counts one frame and reports whether a completed group was pushed into the ring.
func (g *groupStructure) observe(key, ref bool) bool {
	pushed := false
	if key {
		if g.inGroup && g.curSize > 0 {
			g.ring[g.next] = groupSample{size: g.curSize, refs: g.curRefs}
			g.next = (g.next + 1) % len(g.ring)
			if g.filled < len(g.ring) {
				g.filled++
			}
			pushed = true
		}
		g.inGroup = true
		g.curSize = 1
		g.curRefs = 1
		return pushed
	}
	if !g.inGroup {
		return false
	}
	g.curSize++
	if ref {
		g.curRefs++
	}
	return false
}

// restart abandons the group being counted. Completed samples are kept.
func (g *groupStructure) restart() {
	g.inGroup = false
	g.curSize = 0
	g.curRefs = 0
}

func (g *groupStructure) reset() {
	g.restart()
	g.next = 0
	g.filled = 0
}

// fractions returns the independent and reference fractions over the ring.
func (g *groupStructure) fractions() (independent, reference rational.Rational, ok bool) {
	if g.filled == 0 {
		return rational.Zero, rational.Zero, false
	}
	var frames, refs int64
	for i := 0; i < g.filled; i++ {
		frames += int64(g.ring[i].size)
		refs += int64(g.ring[i].refs)
	}
	return rational.New(int64(g.filled), frames), rational.New(refs, frames), true
}

// defaultFractions derives the fractions from the codec declared group shape.
func defaultFractions(p av.TrickModeParameters) (independent, reference rational.Rational) {
	if p.DefaultGroupSize == 0 {
		return rational.One, rational.One
	}
	refs := int64(p.DefaultReferenceCount)
	if refs < 1 {
		refs = 1
	}
	if refs > int64(p.DefaultGroupSize) {
		refs = int64(p.DefaultGroupSize)
	}
	size := int64(p.DefaultGroupSize)
	return rational.New(1, size), rational.New(refs, size)
}
