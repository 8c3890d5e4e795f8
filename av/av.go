package av

import (
	"context"
	"fmt"
	"math"

	"github.com/gwuhaolin/playout/utils/rational"
)

// InvalidTime marks a playback or system time that is not known (untimed frame).
const InvalidTime int64 = math.MinInt64

// MaxSurfaces 는 하나의 스트림에 붙을 수 있는 출력 면(디스플레이, 오디오 싱크)의 최대 개수이다.
const MaxSurfaces = 4

// MicrosecondsPerSecond 는 모든 시간 값의 단위(µs)이다.
const MicrosecondsPerSecond = 1000000

var (
	ErrNoTimeMapping = fmt.Errorf("no playback to system time mapping")
)

// Kind 는 스트림(또는 출력 면)의 종류이다.
type Kind uint8

const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Direction 은 재생 방향이다.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// TrickModeDomain 은 재생 속도에 따라 디코딩 동작을 바꾸는 운영 영역이다.
// 값의 순서는 요구되는 디코딩 절감의 순서와 같다.
type TrickModeDomain int

const (
	TrickModeDecodeAll TrickModeDomain = iota
	TrickModeDegradeNonReference
	TrickModeDiscardNonReference
	TrickModeDecodeReferenceDegradeNonKey
	TrickModeDecodeKeyOnly
	TrickModeDiscontinuousKeyOnly
)

var trickModeDomainNames = []string{
	"DecodeAll",
	"DegradeNonReference",
	"DiscardNonReference",
	"DecodeReferenceDegradeNonKey",
	"DecodeKeyOnly",
	"DiscontinuousKeyOnly",
}

func (d TrickModeDomain) String() string {
	if d >= 0 && int(d) < len(trickModeDomainNames) {
		return trickModeDomainNames[d]
	}
	return fmt.Sprintf("TrickModeDomain(%d)", int(d))
}

// Info 는 스트림을 고유하게 식별하기 위한 정보이다.
type Info struct {
	Key string // 스트림 식별 고유 키
	URL string // 스트림 URL
	UID string // 스트림 인스턴스 UID
}

func (info Info) String() string {
	return fmt.Sprintf("<key: %s, URL: %s, UID: %s>", info.Key, info.URL, info.UID)
}

// FrameParameters 는 파서가 채우는 프레임 단위 파라미터이다. 엔진은 ApplySubstandardDecode 외에는 읽기만 한다.
type FrameParameters struct {
	FirstSubUnit       bool     // 프레임의 첫번째 파싱 단위(슬라이스)인지. 부분 단위는 단독으로 버릴 수 없다.
	KeyFrame           bool     // 독립적으로 디코딩 가능한 프레임
	ReferenceFrame     bool     // 다른 프레임이 참조할 수 있는 프레임
	DecodeFrameIndex   uint64   // 디코딩 순서 인덱스
	ReferenceFrameList []uint64 // 이 프레임이 참조하는 프레임들의 DecodeFrameIndex

	NativePlaybackTime     int64 // 스트림 고유 단위의 PTS
	NormalizedPlaybackTime int64 // µs 로 정규화된 PTS, 없으면 InvalidTime
	NormalizedDecodeTime   int64 // µs 로 정규화된 DTS, 없으면 InvalidTime

	ApplySubstandardDecode bool // 트릭 모드에서 저품질 디코딩을 요청한다.
}

// AudioParameters 는 오디오 프레임 파라미터이다.
type AudioParameters struct {
	SampleCount  uint32
	SampleRateHz uint32
}

// PanScan 은 필드별 팬/스캔 오프셋 벡터이다.
type PanScan struct {
	Count            int
	HorizontalOffset []int32
	VerticalOffset   []int32
}

// VideoParameters 는 비디오 프레임 파라미터이다.
type VideoParameters struct {
	DisplayCount     uint32            // 인터레이스 시퀀스에서는 필드 수, 프로그레시브에서는 프레임 수
	Interlaced       bool              // 시퀀스가 인터레이스로 선언되었는지
	ProgressiveFrame bool              // 이 프레임 자체가 프로그레시브로 코딩되었는지
	TopFieldFirst    bool              // 첫 필드의 극성
	FrameRate        rational.Rational // 콘텐츠 프레임 레이트 (frames/s)
	PanScan          PanScan
}

// SurfaceTiming 은 출력 면 하나에 대한 프레임 타이밍이다.
type SurfaceTiming struct {
	Valid                    bool
	SystemPlaybackTime       int64  // 표시해야 할 시스템 시간 (µs)
	ExpectedDuration         int64  // 표시 지속 시간 (µs)
	DisplayCount             uint32 // 비디오: 출력 면 리프레시 횟수
	TopFieldFirst            bool   // 비디오: 첫 리프레시의 극성
	SampleCount              uint32 // 오디오: 보정 후 출력할 샘플 수
	ActualSystemPlaybackTime int64  // 출력 측이 실제 표시한 시간, 없으면 InvalidTime
}

// OutputTiming 은 프레임마다 한번 만들어져 버퍼에 붙는 출력 타이밍 레코드이다.
type OutputTiming struct {
	TimingValid   bool // false 이면 untimed 프레임이다.
	PlaybackTime  int64
	Speed         rational.Rational
	Direction     Direction
	PulldownFrame bool // 3:2 풀다운의 합성 필드가 제거된 프레임
	Surfaces      [MaxSurfaces]SurfaceTiming
}

// NewOutputTiming returns a record with every actual time unset.
func NewOutputTiming() *OutputTiming {
	t := &OutputTiming{Speed: rational.One}
	for i := range t.Surfaces {
		t.Surfaces[i].SystemPlaybackTime = InvalidTime
		t.Surfaces[i].ActualSystemPlaybackTime = InvalidTime
	}
	return t
}

// SurfaceDescriptor 는 출력 코디네이터에 등록된 출력 면의 특성이다.
type SurfaceDescriptor struct {
	Kind           Kind
	RefreshRate    rational.Rational // 비디오: 초당 리프레시 (인터레이스 면이면 필드 레이트)
	Interlaced     bool
	SampleRateHz   uint32
	MinimumLatency int64 // 지금부터 표시까지 필요한 최소 지연 (µs)
	ClockMaster    bool  // 이 면의 클럭이 마스터 클럭인지
	SlavedTo       int   // 이 면이 따르는 면의 인덱스, 없으면 -1
}

// PoolOccupancy 는 외부 버퍼 풀 점유율이다.
type PoolOccupancy struct {
	DecodeBuffersInUse int
	DecodeBuffersTotal int
	CodedDataInUse     int
	CodedDataTotal     int
}

// TrickModeParameters 는 코덱이 알려주는 트릭 모드 능력과 경험적 디코딩 레이트이다.
type TrickModeParameters struct {
	EmpiricalMaximumDecodeFrameRate rational.Rational // 경험적 최대 디코딩 fps
	CodedFrameRate                  rational.Rational // 코딩된 스트림의 fps
	SubstandardDecodeSupported      bool
	SubstandardDecodeRateIncrease   rational.Rational // 저품질 디코딩 시 속도 증가 배율
	DefaultGroupSize                uint32
	DefaultReferenceCount           uint32
	SmoothReverseSupported          bool
	MaximumForwardSpeed             rational.Rational // 0 이면 제한 없음
	MaximumReverseSpeed             rational.Rational // 0 이면 역재생 미지원
}

// Buffer 는 외부에서 소유하는 프레임 버퍼이다. 타입별 메타데이터 포인터만 노출한다.
type Buffer interface {
	Metadata(t MetaType) interface{}
	AttachMetadata(t MetaType, v interface{})
}

// PolicyStore 는 읽기 전용 정책 값과 현재 속도/방향을 제공한다.
type PolicyStore interface {
	Policy(name string) int
	Speed() (rational.Rational, Direction)
	PresentationInterval() (start, end int64)
}

// OutputCoordinator 는 재생 시간과 시스템 시간의 매핑, 출력 레이트 적분, 동기화를 관리한다.
type OutputCoordinator interface {
	RegisterStream(info Info, kind Kind) error
	DeregisterStream(info Info) error
	ResetTimeMapping(info Info) error
	InvalidateTimeMapping(info Info) error
	TranslatePlaybackTimeToSystem(info Info, playbackTime int64) (int64, error)
	SynchronizeStreams(info Info, playbackTime, systemTime int64) (int64, error)
	CalculateOutputRateAdjustment(info Info, surface int, expected, actual int64) (rational.Rational, error)
	AwaitEntryIntoDecodeWindow(ctx context.Context, info Info, systemTime int64) error
	MonitorVsyncOffsets(info Info, surface int, expected, actual int64)
	RebaseTimeMapping(info Info, adjustment int64) error
	DrainLivePlayback(info Info) error
	RestartOutputRateIntegration(info Info, surface int) error
	ClockLocked(info Info) bool
	SystemTime() int64
}

// Codec 은 트릭 모드 파라미터와 참조 프레임 검증을 제공한다.
type Codec interface {
	TrickModeParameters() TrickModeParameters
	CheckReferenceFrameList(list []uint64) bool
}

// Stream 은 엔진이 속한 스트림이다. 이벤트 전달과 버퍼 풀 상태 조회를 제공한다.
type Stream interface {
	Info() Info
	SignalEvent(e Event)
	BufferPoolOccupancy() PoolOccupancy
	ManifestationQueueDepth(surface int) int
}
