package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAudioSessionConfig(t *testing.T) {
	raw := map[string]interface{}{
		"kind": 0,
		"audio": map[string]interface{}{
			"rtp": map[string]interface{}{
				"remote_address":   "127.0.0.1",
				"remote_rtp_port":  10000,
				"payload_type":     96,
				"sampling_rate_hz": 16000,
				"cname":            "caller",
			},
			"codec_name":        "AMR-WB",
			"codec_mode":        8,
			"ptime_ms":          20,
			"dtmf_payload_type": 100,
			"dtmf_enabled":      true,
		},
		"threshold": map[string]interface{}{
			"rtp_inactivity_timer_ms": 5000,
		},
	}

	cfg, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, MediaAudio, cfg.Kind)
	assert.Equal(t, "127.0.0.1", cfg.Audio.Rtp.RemoteAddress)
	assert.Equal(t, 10000, cfg.Audio.Rtp.RemoteRtpPort)
	assert.Equal(t, uint8(96), cfg.Audio.Rtp.PayloadType)
	assert.Equal(t, uint32(16000), cfg.Audio.Rtp.SamplingRateHz)
	assert.Equal(t, "AMR-WB", cfg.Audio.CodecName)
	assert.Equal(t, 8, cfg.Audio.CodecMode)
	assert.True(t, cfg.Audio.DtmfEnabled)
	assert.Equal(t, 5000, cfg.Threshold.RtpInactivityTimerMs)
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	raw := map[string]interface{}{
		"kind": "not-a-number-and-not-a-kind-string",
	}
	_, err := Decode(raw)
	assert.Error(t, err)
}

func TestSessionConfigEqualComparesOnlyActiveKindSection(t *testing.T) {
	a := SessionConfig{Kind: MediaAudio, Audio: AudioConfig{CodecName: "PCMU"}, Video: VideoConfig{Width: 640}}
	b := SessionConfig{Kind: MediaAudio, Audio: AudioConfig{CodecName: "PCMU"}, Video: VideoConfig{Width: 1280}}
	assert.True(t, a.Equal(b), "Video differs but Kind is audio, so it must not affect equality")

	c := SessionConfig{Kind: MediaAudio, Audio: AudioConfig{CodecName: "PCMA"}}
	assert.False(t, a.Equal(c))
}

func TestSessionConfigEqualRejectsUnknownKind(t *testing.T) {
	a := SessionConfig{Kind: MediaKind(99)}
	b := SessionConfig{Kind: MediaKind(99)}
	assert.False(t, a.Equal(b))
}

func TestMediaKindString(t *testing.T) {
	assert.Equal(t, "audio", MediaAudio.String())
	assert.Equal(t, "video", MediaVideo.String())
	assert.Equal(t, "text", MediaText.String())
	assert.Equal(t, "unknown", MediaKind(42).String())
}

func TestDefaultAudioConfigMatchesJitterDefaults(t *testing.T) {
	c := DefaultAudioConfig()
	assert.Equal(t, 20, c.PtimeMs)
	assert.Equal(t, 4, c.JitterMinFrames)
	assert.Equal(t, 4, c.JitterInitFrames)
	assert.Equal(t, 9, c.JitterMaxFrames)
}
