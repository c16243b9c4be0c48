package session

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/imscore/pkg/logging"
)

func TestAddConfigConfirmDeleteLifecycle(t *testing.T) {
	s := New(1, logging.Nop())

	handle, err := s.AddConfig(audioSessionConfig(5004, 5005))
	require.NoError(t, err)
	assert.NotZero(t, handle)

	otherHandle, err := s.AddConfig(audioSessionConfig(6004, 6005))
	require.NoError(t, err)
	assert.NotEqual(t, handle, otherHandle)

	require.NoError(t, s.DeleteConfig(otherHandle))
	assert.Error(t, s.DeleteConfig(otherHandle), "deleting twice should fail")

	assert.Error(t, s.ConfirmConfig(otherHandle), "confirming a deleted handle should fail")
}

func TestAddConfigRejectsMalformedInput(t *testing.T) {
	s := New(1, logging.Nop())
	_, err := s.AddConfig(map[string]interface{}{"kind": "not-an-int-and-not-convertible-either"})
	assert.Error(t, err)
}

func TestConfirmConfigAppliesToOpenSession(t *testing.T) {
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

	handle, err := s.AddConfig(audioSessionConfig(calleeAddr.Port, calleeRtcpAddr.Port))
	require.NoError(t, err)
	require.NoError(t, s.ConfirmConfig(handle))

	var sawSessionChanged bool
	for i := 0; i < 8; i++ {
		select {
		case ev := <-s.Events():
			if ev.Kind == EventSessionChanged {
				sawSessionChanged = true
			}
		default:
		}
	}
	assert.True(t, sawSessionChanged, "ConfirmConfig should emit EventSessionChanged")
}

func TestSendRtpHeaderExtensionValidatesPayloadSize(t *testing.T) {
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

	assert.Error(t, s.SendRtpHeaderExtension(1, nil))
	assert.Error(t, s.SendRtpHeaderExtension(1, make([]byte, 17)))
	assert.NoError(t, s.SendRtpHeaderExtension(1, []byte{0x01}))
}

func TestSendRtpHeaderExtensionRequiresOpenSession(t *testing.T) {
	s := New(1, logging.Nop())
	assert.Error(t, s.SendRtpHeaderExtension(1, []byte{0x01}))
}
