package timing

import (
	"fmt"
	"sync/atomic"
)

// Stage 는 프레임 허용 파이프라인의 검사 지점이다.
type Stage int

const (
	StageBeforeDecodeWindow Stage = iota
	StageBeforeDecode
	StageBeforeOutputTiming
	StageBeforeManifestation
	StageCount
)

var stageNames = []string{
	"BeforeDecodeWindow",
	"BeforeDecode",
	"BeforeOutputTiming",
	"BeforeManifestation",
}

func (s Stage) String() string {
	if s >= 0 && s < StageCount {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// DropReason 은 프레임을 버린 이유이다. DropNone 은 통과를 뜻한다.
type DropReason int

const (
	DropNone DropReason = iota
	DropPreviousDecision          // 프레임의 첫 단위가 버려져 나머지 단위도 따라 버린다.
	DropSingleGroup               // 불연속 사이에 한 GOP 만 재생
	DropNonKeyFrame               // 키 프레임만 재생
	DropNonReferenceFrame         // 참조 프레임만 재생
	DropOutsidePresentation       // 재생 구간 밖
	DropUnsupportedSpeed          // 지원하지 않는 트릭 재생 속도
	DropTrickMode                 // 트릭 모드 영역의 효과
	DropReferenceVerification     // 참조 프레임이 디코더에 없음
	DropUntimed                   // 타이밍 정보 없음
	DropTooFarInFuture            // 미래 창(5분) 밖
	DropLate                      // 표시 시간을 맞출 수 없음
	DropReasonCount
)

var dropReasonNames = []string{
	"None",
	"PreviousDecision",
	"SingleGroup",
	"NonKeyFrame",
	"NonReferenceFrame",
	"OutsidePresentation",
	"UnsupportedSpeed",
	"TrickMode",
	"ReferenceVerification",
	"Untimed",
	"TooFarInFuture",
	"Late",
}

func (r DropReason) String() string {
	if r >= 0 && r < DropReasonCount {
		return dropReasonNames[r]
	}
	return fmt.Sprintf("DropReason(%d)", int(r))
}

// Decision 은 검사 지점 하나의 결과이다.
type Decision struct {
	Stage  Stage
	Reason DropReason
}

// Proceed reports whether the frame may continue down the pipeline.
func (d Decision) Proceed() bool {
	return d.Reason == DropNone
}

func (d Decision) String() string {
	if d.Proceed() {
		return fmt.Sprintf("%s: proceed", d.Stage)
	}
	return fmt.Sprintf("%s: drop (%s)", d.Stage, d.Reason)
}

// statistics 는 파싱 쓰레드와 출력 쓰레드가 동시에 갱신하므로 원자적 카운터만 사용한다.
type statistics struct {
	proceeded   [StageCount]int64
	dropped     [StageCount][DropReasonCount]int64
	corrections int64
	rebases     int64
	failures    int64
	lateFrames  int64
	resyncs     int64
	drains      int64
}

func (s *statistics) count(d Decision) {
	if d.Proceed() {
		atomic.AddInt64(&s.proceeded[d.Stage], 1)
		return
	}
	atomic.AddInt64(&s.dropped[d.Stage][d.Reason], 1)
}

// Statistics 는 카운터의 스냅샷이다.
type Statistics struct {
	Proceeded            [StageCount]int64
	Dropped              [StageCount][DropReasonCount]int64
	Corrections          int64 // 확정된 동기 오차 보정 횟수
	Rebases              int64 // 요청한 시간 매핑 리베이스 횟수
	DecodeInTimeFailures int64 // AccumulatedFailures 진입 횟수
	LateFrames           int64 // 표시 시간 안에 도착하지 못한 프레임 수
	Resynchronizations   int64
	Drains               int64
}

// DroppedAt returns the total number of frames dropped at stage.
func (s Statistics) DroppedAt(stage Stage) int64 {
	var n int64
	for _, v := range s.Dropped[stage] {
		n += v
	}
	return n
}

func (s *statistics) snapshot() Statistics {
	out := Statistics{
		Corrections:          atomic.LoadInt64(&s.corrections),
		Rebases:              atomic.LoadInt64(&s.rebases),
		DecodeInTimeFailures: atomic.LoadInt64(&s.failures),
		LateFrames:           atomic.LoadInt64(&s.lateFrames),
		Resynchronizations:   atomic.LoadInt64(&s.resyncs),
		Drains:               atomic.LoadInt64(&s.drains),
	}
	for st := Stage(0); st < StageCount; st++ {
		out.Proceeded[st] = atomic.LoadInt64(&s.proceeded[st])
		for r := DropReason(0); r < DropReasonCount; r++ {
			out.Dropped[st][r] = atomic.LoadInt64(&s.dropped[st][r])
		}
	}
	return out
}
