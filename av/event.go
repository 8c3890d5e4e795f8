package av

import "fmt"

// EventCode 는 스트림으로 전달되는 사용자 가시 이벤트의 종류이다.
type EventCode int

const (
	EventTrickModeDomainChange EventCode = iota
	EventOutputInSync
	EventDecodeInTimeFailure
	EventTimeMappingRebased
	EventDrainRequested
	EventResynchronizeRequested
	EventSynchronizationCorrection
)

var eventNames = []string{
	"TrickModeDomainChange",
	"OutputInSync",
	"DecodeInTimeFailure",
	"TimeMappingRebased",
	"DrainRequested",
	"ResynchronizeRequested",
	"SynchronizationCorrection",
}

func (c EventCode) String() string {
	if c >= 0 && int(c) < len(eventNames) {
		return eventNames[c]
	}
	return fmt.Sprintf("EventCode(%d)", int(c))
}

// Event 는 엔진이 스트림에 알리는 사건이다. Value 의 의미는 Code 에 따라 다르다.
//   - TrickModeDomainChange: 새 TrickModeDomain
//   - DecodeInTimeFailure: 원인 코드
//   - TimeMappingRebased: 보정량 (µs)
//   - SynchronizationCorrection: 보정 단위 수 (샘플 또는 필드)
type Event struct {
	Code    EventCode
	Stream  string
	Surface int
	Value   int64
}

func (e Event) String() string {
	return fmt.Sprintf("<%s stream=%s surface=%d value=%d>", e.Code, e.Stream, e.Surface, e.Value)
}
