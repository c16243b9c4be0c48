// Package config defines the configuration structures carried on
// OpenSession/ModifySession/AddConfig/ConfirmConfig and decodes them from
// the generic config bag the host supplies, the Go analogue of the
// original platform's AIDL parcelables (AudioConfig, RtpConfig,
// EvsParams, MediaQualityThreshold) without taking on the parcelable
// marshalling itself — that belongs to the host IPC layer (out of scope).
package config

import (
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/arzzra/imscore/pkg/errs"
)

// MediaKind identifies which of the three StreamGraphs per session a
// config section belongs to.
type MediaKind int

const (
	MediaAudio MediaKind = iota
	MediaVideo
	MediaText
)

func (m MediaKind) String() string {
	switch m {
	case MediaAudio:
		return "audio"
	case MediaVideo:
		return "video"
	case MediaText:
		return "text"
	default:
		return "unknown"
	}
}

// RtpConfig carries the wire-level parameters shared by every media type —
// remote address, payload type assignment, DSCP, MTU — mirroring
// RtpConfig.cpp in the original source.
type RtpConfig struct {
	RemoteAddress     string        `mapstructure:"remote_address"`
	RemoteRtpPort     int           `mapstructure:"remote_rtp_port"`
	RemoteRtcpPort    int           `mapstructure:"remote_rtcp_port"`
	PayloadType       uint8         `mapstructure:"payload_type"`
	SamplingRateHz    uint32        `mapstructure:"sampling_rate_hz"`
	DscpTos           uint8         `mapstructure:"dscp_tos"`
	MtuBytes          int           `mapstructure:"mtu_bytes"`
	RtcpIntervalSec   float64       `mapstructure:"rtcp_interval_sec"`
	RtpInactivityMs   time.Duration `mapstructure:"rtp_inactivity_ms"`
	RtcpInactivitySec int           `mapstructure:"rtcp_inactivity_sec"`
	Cname             string        `mapstructure:"cname"`
}

// AudioConfig is the audio-graph-specific section: codec selection,
// ptime, DTMF payload, jitter buffer sizing.
type AudioConfig struct {
	Rtp              RtpConfig `mapstructure:"rtp"`
	CodecName        string    `mapstructure:"codec_name"` // "AMR", "AMR-WB", "EVS", "PCMU", "PCMA"
	CodecMode        int       `mapstructure:"codec_mode"` // AMR 0..7, AMR-WB 0..8
	PtimeMs          int       `mapstructure:"ptime_ms"`
	DtmfPayloadType  uint8     `mapstructure:"dtmf_payload_type"`
	DtmfEnabled      bool      `mapstructure:"dtmf_enabled"`
	JitterMinFrames  int       `mapstructure:"jitter_min_frames"`
	JitterInitFrames int       `mapstructure:"jitter_init_frames"`
	JitterMaxFrames  int       `mapstructure:"jitter_max_frames"`
}

// DefaultAudioConfig returns the spec §4.5 default jitter targets
// (min=4, init=4, max=9 frames of 20ms) and a 20ms ptime.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		PtimeMs:          20,
		JitterMinFrames:  4,
		JitterInitFrames: 4,
		JitterMaxFrames:  9,
	}
}

// VideoConfig is the video-graph-specific section.
type VideoConfig struct {
	Rtp            RtpConfig `mapstructure:"rtp"`
	CodecName      string    `mapstructure:"codec_name"` // "H264", "HEVC"
	Width          int       `mapstructure:"width"`
	Height         int       `mapstructure:"height"`
	FramerateFps   int       `mapstructure:"framerate_fps"`
	BitrateKbps    int       `mapstructure:"bitrate_kbps"`
	CvoExtensionID int       `mapstructure:"cvo_extension_id"` // 0 = disabled
}

// TextConfig is the real-time-text (T.140/RED) graph section.
type TextConfig struct {
	Rtp            RtpConfig `mapstructure:"rtp"`
	RedundantLevel int       `mapstructure:"redundant_level"` // 0..3
	ConsumeLeadBOM bool      `mapstructure:"consume_lead_bom"`
	IdleEmptyMs    int       `mapstructure:"idle_empty_ms"` // default 300ms
	LossWaitWindow int       `mapstructure:"loss_wait_window_ms"`
}

// DefaultTextConfig applies the §4.5 defaults (300ms idle onset, 1000ms
// reorder wait before declaring loss).
func DefaultTextConfig() TextConfig {
	return TextConfig{IdleEmptyMs: 300, LossWaitWindow: 1000}
}

// MediaQualityThreshold mirrors MediaQualityThreshold.cpp: two
// (duration, threshold) pairs plus inactivity timers.
type MediaQualityThreshold struct {
	RtpInactivityTimerMs   int     `mapstructure:"rtp_inactivity_timer_ms"`
	RtcpInactivityTimerSec int     `mapstructure:"rtcp_inactivity_timer_sec"`
	JitterDurationSec      int     `mapstructure:"jitter_duration_sec"`
	JitterThresholdMs      int     `mapstructure:"jitter_threshold_ms"`
	LossDurationSec        int     `mapstructure:"loss_duration_sec"`
	LossThresholdPercent   float64 `mapstructure:"loss_threshold_percent"`
}

// SessionConfig is the full config bag accepted by OpenSession. Exactly
// one of Audio/Video/Text is populated, selected by Kind.
type SessionConfig struct {
	Kind      MediaKind             `mapstructure:"kind"`
	Audio     AudioConfig           `mapstructure:"audio"`
	Video     VideoConfig           `mapstructure:"video"`
	Text      TextConfig            `mapstructure:"text"`
	Threshold MediaQualityThreshold `mapstructure:"threshold"`
}

// Decode converts a raw host-supplied config bag (as would arrive over an
// IPC boundary, already deserialized into generic maps) into a typed
// SessionConfig using mapstructure, the same decoding approach the pack's
// rtpengine control-plane uses for its own dict-shaped commands.
func Decode(raw map[string]interface{}) (SessionConfig, error) {
	var cfg SessionConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return cfg, errs.Wrap(errs.InvalidParam, "config.Decode", err)
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, errs.Wrap(errs.InvalidParam, "config.Decode", err)
	}
	return cfg, nil
}

// Equal reports whether two configs are semantically identical, used by
// StreamGraph.Update to decide whether a restart is needed at all.
func (c SessionConfig) Equal(o SessionConfig) bool {
	switch c.Kind {
	case MediaAudio:
		return c.Audio == o.Audio && c.Threshold == o.Threshold
	case MediaVideo:
		return c.Video == o.Video && c.Threshold == o.Threshold
	case MediaText:
		return c.Text == o.Text && c.Threshold == o.Threshold
	default:
		return false
	}
}
