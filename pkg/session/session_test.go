package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/imscore/pkg/logging"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// fixedToneSource repeats one frame of PCM samples every NextFrame call,
// standing in for a host microphone surface.
type fixedToneSource struct {
	frame []int16
}

func (f *fixedToneSource) NextFrame() ([]int16, bool) { return f.frame, true }

// captureSink records every frame the session hands to the host speaker
// surface, so a test can assert on what arrived after decode.
type captureSink struct {
	mu     sync.Mutex
	frames [][]int16
}

func (c *captureSink) PlayFrame(samples []int16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]int16(nil), samples...)
	c.frames = append(c.frames, cp)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func audioSessionConfig(remoteRtpPort, remoteRtcpPort int) map[string]interface{} {
	return map[string]interface{}{
		"kind": 0, // MediaAudio
		"audio": map[string]interface{}{
			"codec_name": "PCMU",
			"ptime_ms":   20,
			"rtp": map[string]interface{}{
				"remote_address":    "127.0.0.1",
				"remote_rtp_port":   remoteRtpPort,
				"remote_rtcp_port":  remoteRtcpPort,
				"payload_type":      0,
				"sampling_rate_hz":  8000,
				"rtcp_interval_sec": 5,
			},
		},
	}
}

// TestAudioSessionEndToEndDeliversCapturedFrameToRemoteSink exercises
// scenario E1's shape: two sessions, one Tx one Rx, exchanging PCMU audio
// over real loopback UDP sockets, with no mocking of the wire codec.
func TestAudioSessionEndToEndDeliversCapturedFrameToRemoteSink(t *testing.T) {
	callerRtp, callerRtcp := listenLoopback(t), listenLoopback(t)
	calleeRtp, calleeRtcp := listenLoopback(t), listenLoopback(t)

	caller := New(1, logging.Nop())
	callee := New(2, logging.Nop())

	tone := &fixedToneSource{frame: make([]int16, 160)}
	for i := range tone.frame {
		tone.frame[i] = int16(i % 100)
	}
	sink := &captureSink{}

	calleeAddr := calleeRtp.LocalAddr().(*net.UDPAddr)
	calleeRtcpAddr := calleeRtcp.LocalAddr().(*net.UDPAddr)
	callerAddr := callerRtp.LocalAddr().(*net.UDPAddr)
	callerRtcpAddr := callerRtcp.LocalAddr().(*net.UDPAddr)

	// Every session transmits as well as receives (spec's session model is
	// symmetric per direction), so both legs need a capture surface even
	// though this test only asserts on the callee's render path.
	silence := &fixedToneSource{frame: make([]int16, 160)}

	require.NoError(t, caller.OpenSession(audioSessionConfig(calleeAddr.Port, calleeRtcpAddr.Port), Sockets{
		RtpConn: callerRtp, RtcpConn: callerRtcp,
		RemoteRtp: calleeAddr, RemoteRtcp: calleeRtcpAddr,
		AudioSource: tone,
		AudioSink:   &captureSink{},
	}))
	defer caller.CloseSession()

	require.NoError(t, callee.OpenSession(audioSessionConfig(callerAddr.Port, callerRtcpAddr.Port), Sockets{
		RtpConn: calleeRtp, RtcpConn: calleeRtcp,
		RemoteRtp: callerAddr, RemoteRtcp: callerRtcpAddr,
		AudioSource: silence,
		AudioSink:   sink,
	}))
	defer callee.CloseSession()

	require.Eventually(t, func() bool {
		return sink.count() > 0
	}, 3*time.Second, 20*time.Millisecond, "callee should have rendered at least one decoded frame")
}

func TestOpenSessionFailsOnMalformedConfig(t *testing.T) {
	s := New(1, logging.Nop())
	err := s.OpenSession(map[string]interface{}{"kind": "not-an-int-and-not-convertible-either"}, Sockets{})
	assert.Error(t, err)

	select {
	case ev := <-s.Events():
		assert.Equal(t, EventOpenFailure, ev.Kind)
	default:
		t.Fatal("expected an EventOpenFailure notification")
	}
}

func TestCloseSessionIsSafeWithoutOpen(t *testing.T) {
	s := New(1, logging.Nop())
	assert.NotPanics(t, func() { s.CloseSession() })
}

func TestSendDtmfRequiresOpenSession(t *testing.T) {
	s := New(1, logging.Nop())
	err := s.SendDtmf('5')
	assert.Error(t, err)
}

// TestRtpInactivityFiresMediaInactivityEvent covers scenario E3 end to end:
// a session configured with a short RTP inactivity timeout but no inbound
// traffic must surface an EventMediaInactivity with Cause "RTP".
func TestRtpInactivityFiresMediaInactivityEvent(t *testing.T) {
	callerRtp, callerRtcp := listenLoopback(t), listenLoopback(t)
	calleeRtp, calleeRtcp := listenLoopback(t), listenLoopback(t)

	callee := New(1, logging.Nop())

	calleeAddr := calleeRtp.LocalAddr().(*net.UDPAddr)
	calleeRtcpAddr := calleeRtcp.LocalAddr().(*net.UDPAddr)
	callerAddr := callerRtp.LocalAddr().(*net.UDPAddr)
	callerRtcpAddr := callerRtcp.LocalAddr().(*net.UDPAddr)

	cfg := audioSessionConfig(callerAddr.Port, callerRtcpAddr.Port)
	cfg["audio"].(map[string]interface{})["rtp"].(map[string]interface{})["rtp_inactivity_ms"] = int64(30 * time.Millisecond)

	require.NoError(t, callee.OpenSession(cfg, Sockets{
		RtpConn: calleeRtp, RtcpConn: calleeRtcp,
		RemoteRtp: callerAddr, RemoteRtcp: callerRtcpAddr,
		AudioSource: &fixedToneSource{frame: make([]int16, 160)},
		AudioSink:   &captureSink{},
	}))
	defer callee.CloseSession()

	require.Eventually(t, func() bool {
		select {
		case ev := <-callee.Events():
			return ev.Kind == EventMediaInactivity && ev.Cause == "RTP"
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond, "expected an EventMediaInactivity with Cause RTP")
}

func TestSendRttRejectsNonTextSession(t *testing.T) {
	callerRtp, callerRtcp := listenLoopback(t), listenLoopback(t)
	calleeRtp, calleeRtcp := listenLoopback(t), listenLoopback(t)
	s := New(1, logging.Nop())

	calleeAddr := calleeRtp.LocalAddr().(*net.UDPAddr)
	calleeRtcpAddr := calleeRtcp.LocalAddr().(*net.UDPAddr)

	require.NoError(t, s.OpenSession(audioSessionConfig(calleeAddr.Port, calleeRtcpAddr.Port), Sockets{
		RtpConn: callerRtp, RtcpConn: callerRtcp,
		RemoteRtp: calleeAddr, RemoteRtcp: calleeRtcpAddr,
		AudioSource: &fixedToneSource{frame: make([]int16, 160)},
	}))
	defer s.CloseSession()

	err := s.SendRtt([]byte("hi"))
	assert.Error(t, err)
}
