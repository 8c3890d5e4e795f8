package timing

import (
	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/utils/rational"
)

// frameContext 는 타이밍 레코드 하나를 만드는 동안 공유되는 값이다.
type frameContext struct {
	buf    av.Buffer
	fp     *av.FrameParameters
	rec    *av.OutputTiming
	speed  rational.Rational // 0 이면 1 로 바꾼 재생 속도
	system int64             // 표시할 시스템 시간 (µs)

	duration rational.Rational // 재생 시간 기준 프레임 길이 (µs)

	// 비디오 전용
	contentRate  rational.Rational // 풀다운 보정 후 콘텐츠 fps
	displayCount uint32            // 콘텐츠 단위 표시 횟수
	fieldUnits   bool              // displayCount 가 필드 단위인지

	// 오디오 전용
	sampleCount  uint32
	sampleRateHz uint32
}

// specialization 은 스트림 종류별 동작 모음이다. New 에서 한번 고른다.
type specialization struct {
	// duration 은 프레임의 재생 길이를 돌려준다. timed 가 false 면 untimed 프레임이다.
	duration func(buf av.Buffer) (d rational.Rational, timed bool, err error)
	// prepare 는 프레임마다 한번, 면을 채우기 전에 timingLock 을 잡은 상태로 호출된다.
	prepare func(t *Timer, f *frameContext) error
	fill    func(t *Timer, s *surfaceState, f *frameContext, out *av.SurfaceTiming) error
	// correctionUnits 는 µs 보정을 샘플 또는 리프레시 단위로 바꾼다.
	correctionUnits func(t *Timer, s *surfaceState, correction int64) (int64, error)
}
