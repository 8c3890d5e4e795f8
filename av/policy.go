package av

import "fmt"

// Policy names understood by the timing engine.
const (
	PolicyAVDSynchronization                = "avd_synchronization"
	PolicyLivePlayback                      = "live_playback"
	PolicyPacketInjectorPlayback            = "packet_injector_playback"
	PolicyTrickModeDomain                   = "trick_mode_domain"
	PolicyDiscardLateFrames                 = "discard_late_frames"
	PolicyMasterClock                       = "master_clock"
	PolicySingleGroupBetweenDiscontinuities = "single_group_between_discontinuities"
	PolicyStreamOnlyKeyFrames               = "stream_only_key_frames"
	PolicyStreamOnlyReferenceFrames         = "stream_only_reference_frames"
)

// PolicyNames lists every policy in a stable order.
var PolicyNames = []string{
	PolicyAVDSynchronization,
	PolicyLivePlayback,
	PolicyPacketInjectorPlayback,
	PolicyTrickModeDomain,
	PolicyDiscardLateFrames,
	PolicyMasterClock,
	PolicySingleGroupBetweenDiscontinuities,
	PolicyStreamOnlyKeyFrames,
	PolicyStreamOnlyReferenceFrames,
}

const (
	PolicyValueDisapply = 0
	PolicyValueApply    = 1
)

// trick_mode_domain 값. 0 은 자동 선택, 그 외는 TrickModeDomain+1 로 강제한다.
const PolicyValueTrickModeAuto = 0

// TrickModeDomainPolicy returns the policy value forcing d.
func TrickModeDomainPolicy(d TrickModeDomain) int {
	return int(d) + 1
}

// discard_late_frames 값
const (
	PolicyValueDiscardLateFramesNever = iota
	PolicyValueDiscardLateFramesAfterSynchronize
	PolicyValueDiscardLateFramesAlways
)

// master_clock 값
const (
	PolicyValueSystemClockMaster = iota
	PolicyValueVideoClockMaster
	PolicyValueAudioClockMaster
)

// ParseDiscardLateFrames maps a configuration string onto a discard_late_frames value.
func ParseDiscardLateFrames(s string) (int, error) {
	switch s {
	case "never":
		return PolicyValueDiscardLateFramesNever, nil
	case "after_synchronize":
		return PolicyValueDiscardLateFramesAfterSynchronize, nil
	case "always":
		return PolicyValueDiscardLateFramesAlways, nil
	}
	return 0, fmt.Errorf("unknown late frame disposal mode %q", s)
}

// ParseMasterClock maps a configuration string onto a master_clock value.
func ParseMasterClock(s string) (int, error) {
	switch s {
	case "system":
		return PolicyValueSystemClockMaster, nil
	case "video":
		return PolicyValueVideoClockMaster, nil
	case "audio":
		return PolicyValueAudioClockMaster, nil
	}
	return 0, fmt.Errorf("unknown master clock %q", s)
}
