// Command imscore-demo exercises the media core end to end: it opens a
// loopback audio session, feeds synthetic PCM frames through the Tx
// graph, reads them back off the wire into the Rx graph, and prints
// session events (SR/RR cadence, quality status) until interrupted or
// for at most 10 seconds. This
// is demo/integration-test tooling, not part of the host FFI surface
// (spec §1).
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arzzra/imscore/pkg/logging"
	"github.com/arzzra/imscore/pkg/session"
)

type toneSource struct {
	phase float64
}

func (t *toneSource) NextFrame() ([]int16, bool) {
	const sampleRate = 8000
	const freq = 440.0
	samples := make([]int16, sampleRate/50) // 20ms @ 8kHz
	for i := range samples {
		t.phase += 2 * 3.14159265 * freq / sampleRate
		samples[i] = int16(8000 * sine(t.phase))
	}
	return samples, true
}

// sine avoids pulling in math just for a demo tone; a tiny Taylor
// approximation is plenty for a sanity-check waveform.
func sine(x float64) float64 {
	for x > 3.14159265 {
		x -= 2 * 3.14159265
	}
	for x < -3.14159265 {
		x += 2 * 3.14159265
	}
	x3 := x * x * x
	x5 := x3 * x * x
	return x - x3/6 + x5/120
}

type nullSink struct{ frames int }

func (n *nullSink) PlayFrame(samples []int16) { n.frames++ }

func main() {
	log := logging.NewDefault(os.Stdout)

	rtpAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
	rtpConn, err := net.ListenUDP("udp4", rtpAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "listen rtp:", err)
		os.Exit(1)
	}
	defer rtpConn.Close()

	rtcpConn, err := net.ListenUDP("udp4", rtpAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "listen rtcp:", err)
		os.Exit(1)
	}
	defer rtcpConn.Close()

	sock := session.Sockets{
		RtpConn:     rtpConn,
		RtcpConn:    rtcpConn,
		RemoteRtp:   rtpConn.LocalAddr().(*net.UDPAddr),
		RemoteRtcp:  rtcpConn.LocalAddr().(*net.UDPAddr),
		AudioSource: &toneSource{},
		AudioSink:   &nullSink{},
	}

	sess := session.New(1, log)

	cfg := map[string]interface{}{
		"kind": 0, // audio
		"audio": map[string]interface{}{
			"rtp": map[string]interface{}{
				"remote_address":   "127.0.0.1",
				"payload_type":     0,
				"sampling_rate_hz": 8000,
				"cname":            "imscore-demo",
			},
			"codec_name": "PCMU",
			"ptime_ms":   20,
		},
	}

	if err := sess.OpenSession(cfg, sock); err != nil {
		fmt.Fprintln(os.Stderr, "open session:", err)
		os.Exit(1)
	}
	log.Info("session opened", "session_id", 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-sess.Events():
			log.Info("session event", "kind", int(ev.Kind), "value", ev.Value)
		case <-sigCh:
			sess.CloseSession()
			return
		case <-timeout:
			sess.CloseSession()
			return
		}
	}
}
