package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolCarvesAndReports(t *testing.T) {
	p := NewPoolSize(100)
	a := p.Get(40)
	assert.Len(t, a, 40)
	inUse, total := p.Occupancy()
	assert.Equal(t, 40, inUse)
	assert.Equal(t, 100, total)

	p.Get(50)
	inUse, _ = p.Occupancy()
	assert.Equal(t, 90, inUse)

	// 남은 공간보다 크면 새 슬랩에서 시작한다.
	p.Get(20)
	inUse, _ = p.Occupancy()
	assert.Equal(t, 20, inUse)

	p.Release(30)
	inUse, _ = p.Occupancy()
	assert.Equal(t, 0, inUse)
}

func TestPoolOversizedRequest(t *testing.T) {
	p := NewPoolSize(16)
	b := p.Get(32)
	assert.Len(t, b, 32)
	inUse, _ := p.Occupancy()
	assert.Equal(t, 0, inUse)
	_, total := NewPool().Occupancy()
	assert.Equal(t, maxpoolsize, total)
}
