// Package graph implements the per-direction StreamGraph and its
// cooperative StreamScheduler (spec §4.1, §4.2, §4.7), plus the Node
// contract and DataEntry type every concrete node kind (pkg/nodes)
// implements against. The design follows the original source's
// BaseStreamGraph/StreamScheduler/BaseNode split: a node never forwards
// data while Stopped, a node's input queue is single-producer/
// single-consumer guarded by its own mutex, and the scheduler's
// registered-node list is guarded by a separate lock so a node cannot be
// deregistered mid-process.
package graph

import (
	"time"
)

// NodeID is the closed enum of concrete node kinds, spec §3.
type NodeID int

const (
	NodeSocketReader NodeID = iota
	NodeSocketWriter
	NodeRtpEncoder
	NodeRtpDecoder
	NodeRtcpEncoder
	NodeRtcpDecoder
	NodeAudioSource
	NodeAudioPlayer
	NodeDtmfEncoder
	NodeDtmfSender
	NodeAudioPayloadEncoder
	NodeAudioPayloadDecoder
	NodeVideoSource
	NodeVideoRenderer
	NodeVideoPayloadEncoder
	NodeVideoPayloadDecoder
	NodeTextSource
	NodeTextRenderer
	NodeTextPayloadEncoder
	NodeTextPayloadDecoder
)

func (n NodeID) String() string {
	names := [...]string{
		"SocketReader", "SocketWriter", "RtpEncoder", "RtpDecoder",
		"RtcpEncoder", "RtcpDecoder", "AudioSource", "AudioPlayer",
		"DtmfEncoder", "DtmfSender", "AudioPayloadEncoder", "AudioPayloadDecoder",
		"VideoSource", "VideoRenderer", "VideoPayloadEncoder", "VideoPayloadDecoder",
		"TextSource", "TextRenderer", "TextPayloadEncoder", "TextPayloadDecoder",
	}
	if int(n) < 0 || int(n) >= len(names) {
		return "Unknown"
	}
	return names[n]
}

// MediaType mirrors config.MediaKind without importing pkg/config, to
// keep the graph package free of a dependency on the config decoder.
type MediaType int

const (
	MediaAudio MediaType = iota
	MediaVideo
	MediaText
)

// NodeState is a node's lifecycle state, spec §3.
type NodeState int

const (
	NodeStopped NodeState = iota
	NodeRunning
)

// Subtype is the closed enum attached to every DataEntry (spec §6).
type Subtype int

const (
	SubUndefined Subtype = iota
	SubRtpPayload
	SubRtpPacket
	SubRtcpPacket
	SubRtcpPacketBye
	SubRawData
	SubRawDataRot90
	SubRawDataRot90Flip
	SubRawDataRot180
	SubRawDataRot270
	SubRawDataCrop
	SubRawDataCropRot90
	SubDtmfStart
	SubDtmfPayload
	SubDtmfEnd
	SubDtxStart
	SubBitstreamH263
	SubBitstreamMpeg4
	SubBitstreamH264
	SubBitstreamHevc
	SubBitstreamPcmu
	SubBitstreamPcma
	SubBitstreamAmrWb
	SubBitstreamAmr
	SubRefreshed
	SubBitstreamT140
	SubBitstreamT140Red
	SubPcmData
	SubPcmNoData
	SubNotReady
	SubBitstreamCodecConfig
)

// DataEntry is the unit of data traversing a graph (spec §3).
type DataEntry struct {
	Subtype   Subtype
	Payload   []byte
	Timestamp uint32 // semantics depend on Subtype: ms, RTP ticks, or presentation µs
	Marker    bool
	Sequence  uint16
	Arrival   time.Time
	// Repeat is an optional redundancy/repeat counter (e.g. T.140 RED
	// block index), 0 when not applicable.
	Repeat int
	// TTL is the IP TTL/hop-limit the datagram arrived with, read back via
	// IP_RECVTTL by SocketReader. HaveTTL is false when the platform or
	// socket didn't surface it.
	TTL     uint8
	HaveTTL bool
}

// StartResult is the closed result-code enum a node's Start returns.
type StartResult int

const (
	Success StartResult = iota
	NotReady
	InvalidParam
	NoResources
	PortUnavailable
	NotSupported
)

func (r StartResult) Ok() bool { return r == Success }

// Node is the capability set every concrete node kind implements (spec
// §4.7, §9's trait-style modeling note).
type Node interface {
	ID() NodeID
	Media() MediaType

	// Start transitions Stopped -> Running, reading back whatever
	// node-specific config SetConfig last stored. Configuration is applied
	// via SetConfig before Start is ever called, the way the StreamGraph's
	// builder configures each node individually rather than handing every
	// node the same session-wide config blob.
	Start() StartResult
	// Stop is infallible and idempotent.
	Stop()

	IsRuntime() bool
	IsSource() bool

	// SetConfig stores a config snapshot; callable only while Stopped.
	SetConfig(config any)
	IsSameConfig(config any) bool
	// UpdateConfig applies a new config. SocketReader and SocketWriter
	// return early when IsSameConfig holds and otherwise Stop, SetConfig,
	// Start; the other node kinds in pkg/nodes store the config through
	// SetConfig and do not restart.
	UpdateConfig(config any) StartResult

	State() NodeState

	// Process consumes zero or one entry from the input queue (or, for
	// source nodes, produces one entry by calling downstream's
	// OnDataFromFrontNode itself). Returns true if it did useful work.
	// StreamScheduler does not read the result; it picks work by
	// QueueLen.
	Process() bool

	// OnDataFromFrontNode is the producer-side enqueue call.
	OnDataFromFrontNode(entry *DataEntry)

	// QueueLen reports the current input queue depth, used by the
	// scheduler to pick the most-backlogged node each tick.
	QueueLen() int
}
