package av

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwuhaolin/playout/utils/rational"
)

func TestMetaBufferTypedAccess(t *testing.T) {
	b := NewMetaBuffer()
	assert.Nil(t, FrameParametersOf(b))
	assert.Nil(t, OutputTimingOf(b))
	assert.Nil(t, FrameParametersOf(nil))

	fp := &FrameParameters{KeyFrame: true, NormalizedPlaybackTime: 40000}
	b.AttachMetadata(MetaFrameParameters, fp)
	b.AttachMetadata(MetaVideoParameters, &VideoParameters{DisplayCount: 2, FrameRate: rational.FromInt(25)})

	require.NotNil(t, FrameParametersOf(b))
	assert.Same(t, fp, FrameParametersOf(b))
	assert.Equal(t, uint32(2), VideoParametersOf(b).DisplayCount)
	assert.Nil(t, AudioParametersOf(b))

	// 잘못된 타입은 nil 로 본다.
	b.AttachMetadata(MetaAudioParameters, "not audio")
	assert.Nil(t, AudioParametersOf(b))

	b.AttachMetadata(MetaFrameParameters, nil)
	assert.Nil(t, FrameParametersOf(b))
}

func TestNewOutputTimingUnset(t *testing.T) {
	rec := NewOutputTiming()
	assert.False(t, rec.TimingValid)
	assert.True(t, rec.Speed.Equal(rational.One))
	for _, s := range rec.Surfaces {
		assert.Equal(t, InvalidTime, s.SystemPlaybackTime)
		assert.Equal(t, InvalidTime, s.ActualSystemPlaybackTime)
		assert.False(t, s.Valid)
	}
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "video", KindVideo.String())
	assert.Equal(t, "backward", Backward.String())
	assert.Equal(t, "DiscardNonReference", TrickModeDiscardNonReference.String())
	assert.Equal(t, "OutputInSync", EventOutputInSync.String())
	assert.Equal(t, 3, TrickModeDomainPolicy(TrickModeDiscardNonReference))

	v, err := ParseDiscardLateFrames("after_synchronize")
	require.NoError(t, err)
	assert.Equal(t, PolicyValueDiscardLateFramesAfterSynchronize, v)
	_, err = ParseMasterClock("wall")
	assert.Error(t, err)
}
