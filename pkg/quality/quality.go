// Package quality implements the media quality observability pipeline
// (spec §4.6): periodic RTCP-XR statistics-summary/VoIP-metrics
// assembly, threshold-crossing event detection, and a Prometheus
// exposition of the same counters, grounded on the teacher's own use of
// prometheus/client_golang for call-quality metrics.
package quality

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/imscore/pkg/config"
	"github.com/arzzra/imscore/pkg/jitterbuffer"
	wirertcp "github.com/arzzra/imscore/pkg/wire/rtcp"
)

// EventKind is the set of threshold-crossing / lifecycle events the
// analyzer can raise, surfaced to the session as MediaQualityStatus /
// Jitter / PacketLoss events (spec §6).
type EventKind int

const (
	EventJitterExceeded EventKind = iota
	EventJitterRecovered
	EventPacketLossExceeded
	EventPacketLossRecovered
	// EventCallQualityReport fires once per closed 5-second window with an
	// aggregate loss-based grade (spec §4.6's periodic call-quality report).
	EventCallQualityReport
)

// MediaInactivity (spec §4.3/§4.4/§7 scenario E3) is detected and raised
// directly by the RTP/RTCP decoder nodes (pkg/nodes), which own the
// per-direction traffic timestamps this analyzer never sees; the session
// wires their OnInactivity callbacks straight to its own event channel
// rather than routing through here.

// Event is one analyzer-raised notification.
type Event struct {
	Kind      EventKind
	SessionID uint32
	Value     float64
	At        time.Time
	// Report carries the aggregate window when Kind is
	// EventCallQualityReport; nil otherwise.
	Report *CallQualityReport
}

// Grade is the coarse call-quality bucket spec §4.6 derives from the
// window's loss percentage.
type Grade int

const (
	GradeExcellent Grade = iota
	GradeGood
	GradeFair
	GradePoor
	GradeBad
)

func (g Grade) String() string {
	switch g {
	case GradeExcellent:
		return "excellent"
	case GradeGood:
		return "good"
	case GradeFair:
		return "fair"
	case GradePoor:
		return "poor"
	default:
		return "bad"
	}
}

// gradeForLoss buckets a loss percentage into a Grade per spec §4.6:
// excellent <3%, good <10%, fair <20%, poor <30%, bad >=30%.
func gradeForLoss(lossPercent float64) Grade {
	switch {
	case lossPercent < 3:
		return GradeExcellent
	case lossPercent < 10:
		return GradeGood
	case lossPercent < 20:
		return GradeFair
	case lossPercent < 30:
		return GradePoor
	default:
		return GradeBad
	}
}

// CallQualityReport is the periodic aggregate the analyzer emits at each
// 5-second window close (spec §4.6).
type CallQualityReport struct {
	SessionID   uint32
	WindowStart time.Time
	WindowEnd   time.Time
	PacketsRecv uint64
	PacketsLost uint64
	LossPercent float64
	AvgJitterMs float64
	Grade       Grade
}

// Sampler is implemented by the Rx-side RtpDecoder to supply the raw
// inputs the analyzer needs every collection tick (spec §4.6's
// collectInfo/collectRxRtpStatus/collectJitterBufferSize).
type Sampler interface {
	Statistics() (jitterbuffer.Statistics, float64, int)
}

// LossLister is an optional extension a Sampler can implement to surface
// the actual gap sequence numbers behind a loss-threshold crossing, so the
// analyzer can build a targeted NACK instead of only counting losses.
type LossLister interface {
	RecentLostSeqs() []uint16
}

// JitterBufferConfigProvider is an optional extension a Sampler can
// implement so XRReport can fill the VoIP-metrics block's jitter-buffer
// nominal/maximum/absolute-maximum delay fields from the buffer's actual
// configured bounds, the same optional-interface pattern LossLister uses.
type JitterBufferConfigProvider interface {
	JitterBufferConfig() jitterbuffer.Config
}

// FeedbackSink is implemented by the Tx-side RtcpEncoder bridge so the
// analyzer can request retransmission/IDR/bitrate changes without
// importing pkg/nodes (mirrors StatsProvider's inversion in
// pkg/nodes/rtcp.go).
type FeedbackSink interface {
	RequestNACK(mediaSSRC uint32, lostSeqs []uint16)
	RequestPLI(mediaSSRC uint32)
	RequestBitrateChange(mediaSSRC uint32, bitrateBps uint64)
}

// minVideoBitrateBps floors the backoff RequestLossFeedback drives a
// struggling video sender toward; below this a stream is not worth
// keeping alive rather than further degraded.
const minVideoBitrateBps = 64_000

// videoBitrateBackoff is the multiplicative reduction applied to the
// last-known-good bitrate on each sustained loss-threshold crossing:
// each crossing cuts the target by 40%.
const videoBitrateBackoff = 0.6

// Analyzer implements nodes.StatsProvider (ReceptionReport/XRReport) so
// an RtcpEncoder can pull the latest snapshot without importing this
// package, and evaluates thresholds against a 5-second rolling window on
// each Collect call, per §4.6. It has no goroutine of its own; the
// session's 1Hz quality loop drives Collect.
type Analyzer struct {
	sessionID uint32
	sampler   Sampler
	ssrc      uint32
	isVideo   bool

	mu             sync.Mutex
	threshold      config.MediaQualityThreshold
	events         chan Event
	feedback       FeedbackSink
	lastStats      jitterbuffer.Statistics
	jitterOver     bool
	lossOver       bool
	windowHist     []sample
	currentBitrate uint64 // bps; 0 until SetTargetBitrate is called

	lastSRNTP  uint32
	lastSRTime time.Time

	roundTripMs float64
	haveRTT     bool

	cqWindowStart   time.Time
	cqBaseRecv      uint64
	cqBaseLost      uint64
	cqJitterSum     float64
	cqJitterSamples int

	jitterGauge   prometheus.Gauge
	lossGauge     prometheus.Gauge
	bufferGauge   prometheus.Gauge
	inactivityCtr prometheus.Counter
}

type sample struct {
	at     time.Time
	lost   uint64
	recv   uint64
	jitter float64
}

// NewAnalyzer constructs an Analyzer for one session/direction, registering
// its gauges on reg (pass prometheus.DefaultRegisterer for process-wide
// exposition, or a per-test registry to avoid collisions across tests).
func NewAnalyzer(sessionID, ssrc uint32, sampler Sampler, threshold config.MediaQualityThreshold, reg prometheus.Registerer, isVideo bool) *Analyzer {
	labels := prometheus.Labels{"session_id": itoa(sessionID)}
	a := &Analyzer{
		sessionID: sessionID,
		ssrc:      ssrc,
		sampler:   sampler,
		isVideo:   isVideo,
		threshold: threshold,
		events:    make(chan Event, 32),
		jitterGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imscore", Subsystem: "media_quality", Name: "jitter_ms", ConstLabels: labels,
		}),
		lossGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imscore", Subsystem: "media_quality", Name: "packet_loss_percent", ConstLabels: labels,
		}),
		bufferGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imscore", Subsystem: "media_quality", Name: "jitter_buffer_depth", ConstLabels: labels,
		}),
		inactivityCtr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imscore", Subsystem: "media_quality", Name: "inactivity_total", ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(a.jitterGauge, a.lossGauge, a.bufferGauge, a.inactivityCtr)
	}
	return a
}

// Events returns the channel the session drains for threshold-crossing
// notifications.
func (a *Analyzer) Events() <-chan Event { return a.events }

// SetFeedbackSink wires the Tx-side RtcpEncoder so a sustained loss-
// threshold crossing can trigger a NACK (audio/video) or PLI (video) per
// §9's "NACK send, video packet-loss feedback" resolution.
func (a *Analyzer) SetFeedbackSink(f FeedbackSink) {
	a.mu.Lock()
	a.feedback = f
	a.mu.Unlock()
}

// SetTargetBitrate records the video encoder's configured/last-known-good
// bitrate, the starting point RequestLossFeedback backs off from on a
// sustained loss-threshold crossing (spec §1's VideoConfig.bitrate_kbps).
func (a *Analyzer) SetTargetBitrate(bitrateBps uint64) {
	a.mu.Lock()
	a.currentBitrate = bitrateBps
	a.mu.Unlock()
}

// SetThreshold updates the threshold bag, applied starting with the next
// collection tick (forwarded here by the session from
// StreamGraph.SetMediaQualityThreshold, spec §4.2).
func (a *Analyzer) SetThreshold(t config.MediaQualityThreshold) {
	a.mu.Lock()
	a.threshold = t
	a.mu.Unlock()
}

// NoteSenderReport records the last SR's NTP timestamp for reception
// report delay-since-last-SR computation.
func (a *Analyzer) NoteSenderReport(ntp uint32, at time.Time) {
	a.mu.Lock()
	a.lastSRNTP = ntp
	a.lastSRTime = at
	a.mu.Unlock()
}

// NoteReceptionReport feeds RFC 3550 §6.4.1's round-trip-time computation
// from a reception-report block a remote SR embedded about our own
// outbound stream (scenario E5): rtt_fraction = now_mid32 - lastSR - dlsr,
// all in 1/65536-second units. A zero DLSR means the remote hasn't yet
// received an SR of ours to time against, so no RTT can be derived.
func (a *Analyzer) NoteReceptionReport(lastSR, delaySinceLastSR uint32, now time.Time) {
	if delaySinceLastSR == 0 {
		return
	}
	nowMid := wirertcp.MidNTP(wirertcp.NTPTime(now))
	fraction := nowMid - lastSR - delaySinceLastSR
	rttMs := float64(fraction) / 65536.0 * 1000.0
	if rttMs < 0 || rttMs > 60_000 {
		return
	}
	a.mu.Lock()
	a.roundTripMs = rttMs
	a.haveRTT = true
	a.mu.Unlock()
}

// Collect runs one 1Hz sampling tick: pulls fresh stats from the
// sampler, appends to the 5-second rolling window, updates gauges, and
// evaluates threshold crossings.
func (a *Analyzer) Collect(now time.Time) {
	if a.sampler == nil {
		return
	}
	stats, jitterEst, depth := a.sampler.Statistics()

	a.mu.Lock()
	a.lastStats = stats
	a.windowHist = append(a.windowHist, sample{at: now, lost: stats.Lost, recv: stats.Received, jitter: jitterEst})
	cutoff := now.Add(-5 * time.Second)
	i := 0
	for i < len(a.windowHist) && a.windowHist[i].at.Before(cutoff) {
		i++
	}
	a.windowHist = a.windowHist[i:]
	threshold := a.threshold
	report := a.closeCallQualityWindowLocked(now, stats, jitterEst)
	a.mu.Unlock()

	a.jitterGauge.Set(jitterEst)
	a.bufferGauge.Set(float64(depth))

	lossPercent := 0.0
	if stats.Received+stats.Lost > 0 {
		lossPercent = float64(stats.Lost) / float64(stats.Received+stats.Lost) * 100
	}
	a.lossGauge.Set(lossPercent)

	if report != nil {
		a.emit(Event{Kind: EventCallQualityReport, SessionID: a.sessionID, At: now, Report: report})
	}

	a.evaluateThresholds(now, jitterEst, lossPercent, threshold)
}

// closeCallQualityWindowLocked tracks the §4.6 periodic call-quality window
// independently of the threshold-crossing rolling window above: it opens on
// the first tick, accumulates jitter samples and a received/lost baseline,
// and closes (returning a non-nil report) once 5 seconds have elapsed,
// immediately opening the next window from the same tick. Caller holds a.mu.
func (a *Analyzer) closeCallQualityWindowLocked(now time.Time, stats jitterbuffer.Statistics, jitterEst float64) *CallQualityReport {
	if a.cqWindowStart.IsZero() {
		a.cqWindowStart = now
		a.cqBaseRecv = stats.Received
		a.cqBaseLost = stats.Lost
	}
	a.cqJitterSum += jitterEst
	a.cqJitterSamples++

	if now.Sub(a.cqWindowStart) < 5*time.Second {
		return nil
	}

	var recvDelta, lostDelta uint64
	if stats.Received >= a.cqBaseRecv {
		recvDelta = stats.Received - a.cqBaseRecv
	}
	if stats.Lost >= a.cqBaseLost {
		lostDelta = stats.Lost - a.cqBaseLost
	}
	lossPercent := 0.0
	if recvDelta+lostDelta > 0 {
		lossPercent = float64(lostDelta) / float64(recvDelta+lostDelta) * 100
	}
	avgJitter := 0.0
	if a.cqJitterSamples > 0 {
		avgJitter = a.cqJitterSum / float64(a.cqJitterSamples)
	}
	report := &CallQualityReport{
		SessionID:   a.sessionID,
		WindowStart: a.cqWindowStart,
		WindowEnd:   now,
		PacketsRecv: recvDelta,
		PacketsLost: lostDelta,
		LossPercent: lossPercent,
		AvgJitterMs: avgJitter,
		Grade:       gradeForLoss(lossPercent),
	}

	a.cqWindowStart = now
	a.cqBaseRecv = stats.Received
	a.cqBaseLost = stats.Lost
	a.cqJitterSum = 0
	a.cqJitterSamples = 0
	return report
}

func (a *Analyzer) evaluateThresholds(now time.Time, jitterMs, lossPercent float64, t config.MediaQualityThreshold) {
	a.mu.Lock()
	jitterOver := a.jitterOver
	lossOver := a.lossOver
	a.mu.Unlock()

	if t.JitterThresholdMs > 0 {
		over := jitterMs > float64(t.JitterThresholdMs)
		if over && !jitterOver {
			a.emit(Event{Kind: EventJitterExceeded, SessionID: a.sessionID, Value: jitterMs, At: now})
		} else if !over && jitterOver {
			a.emit(Event{Kind: EventJitterRecovered, SessionID: a.sessionID, Value: jitterMs, At: now})
		}
		a.mu.Lock()
		a.jitterOver = over
		a.mu.Unlock()
	}

	if t.LossThresholdPercent > 0 {
		over := lossPercent > t.LossThresholdPercent
		if over && !lossOver {
			a.emit(Event{Kind: EventPacketLossExceeded, SessionID: a.sessionID, Value: lossPercent, At: now})
			a.requestLossFeedback()
		} else if !over && lossOver {
			a.emit(Event{Kind: EventPacketLossRecovered, SessionID: a.sessionID, Value: lossPercent, At: now})
		}
		a.mu.Lock()
		a.lossOver = over
		a.mu.Unlock()
	}
}

// requestLossFeedback asks the wired FeedbackSink to NACK whatever gaps the
// sampler can name, and for a video stream additionally requests an IDR via
// PLI (concealment alone cannot recover a lost reference frame) and backs
// the encoder's target bitrate off via REMB, since a sustained loss crossing
// usually means the path can no longer sustain the current rate.
func (a *Analyzer) requestLossFeedback() {
	a.mu.Lock()
	sink := a.feedback
	isVideo := a.isVideo
	ssrc := a.ssrc
	bitrate := a.currentBitrate
	a.mu.Unlock()
	if sink == nil {
		return
	}
	if lister, ok := a.sampler.(LossLister); ok {
		if seqs := lister.RecentLostSeqs(); len(seqs) > 0 {
			sink.RequestNACK(ssrc, seqs)
		}
	}
	if !isVideo {
		return
	}
	sink.RequestPLI(ssrc)
	if bitrate == 0 {
		return
	}
	next := uint64(float64(bitrate) * videoBitrateBackoff)
	if next < minVideoBitrateBps {
		next = minVideoBitrateBps
	}
	a.mu.Lock()
	a.currentBitrate = next
	a.mu.Unlock()
	sink.RequestBitrateChange(ssrc, next)
}

func (a *Analyzer) emit(e Event) {
	select {
	case a.events <- e:
	default:
	}
}

// ReceptionReport implements nodes.StatsProvider.
func (a *Analyzer) ReceptionReport() (ssrc uint32, fractionLost uint8, cumulativeLost int32, extHighestSeq uint32, jitter uint32, lastSR uint32, delaySinceLastSR uint32, ok bool) {
	a.mu.Lock()
	stats := a.lastStats
	lastSRNTP := a.lastSRNTP
	lastSRTime := a.lastSRTime
	a.mu.Unlock()

	total := stats.Received + stats.Lost
	if total == 0 {
		return 0, 0, 0, 0, 0, 0, 0, false
	}
	fraction := uint8(0)
	if total > 0 {
		fraction = uint8(stats.Lost * 256 / total)
	}
	delay := uint32(0)
	if !lastSRTime.IsZero() {
		delay = uint32(time.Since(lastSRTime).Seconds() * 65536)
	}
	return a.ssrc, fraction, int32(stats.Lost), uint32(stats.Received + stats.Lost), 0, lastSRNTP, delay, true
}

// xrUnavailable16/xrUnavailable8 are RFC 3611's sentinel values for a
// metric the reporting implementation cannot measure: 0xFFFF for the
// VoIP-metrics block's 16-bit delay fields, 127 for its 8-bit quality
// fields (signal level, noise level, RERL, R-factor).
const (
	xrUnavailable16 = 0xFFFF
	xrUnavailable8  = 127
	// xrGmin is RFC 3611's recommended default gap-threshold parameter.
	xrGmin = 16
)

// XRReport implements nodes.StatsProvider, assembling the statistics-
// summary and VoIP-metrics blocks from the rolling window, the last-noted
// round-trip delay, and (when the sampler exposes it) the jitter buffer's
// configured bounds.
func (a *Analyzer) XRReport() (*wirertcp.XRReport, bool) {
	a.mu.Lock()
	stats := a.lastStats
	hist := append([]sample(nil), a.windowHist...)
	roundTripMs := a.roundTripMs
	haveRTT := a.haveRTT
	a.mu.Unlock()

	if stats.Received == 0 {
		return nil, false
	}

	total := stats.Received + stats.Lost
	lossPercent := 0.0
	if total > 0 {
		lossPercent = float64(stats.Lost) / float64(total) * 100
	}

	minJ, maxJ, meanJ, devJ := jitterMinMaxMeanDev(hist)
	burstDensity, gapDensity, burstDurMs, gapDurMs := burstGapStats(hist)

	statsBlock := &wirertcp.StatisticsSummaryBlock{
		SSRC:         a.ssrc,
		LossReport:   true,
		DupReport:    true,
		JitterReport: true,
		LostPackets:  uint32(stats.Lost),
		DupPackets:   uint32(stats.Duplicate),
		MinJitter:    uint32(minJ),
		MaxJitter:    uint32(maxJ),
		MeanJitter:   uint32(meanJ),
		DevJitter:    uint32(devJ),
	}
	if stats.HaveTTL {
		statsBlock.MinTTLOrHL = stats.MinTTL
		statsBlock.MaxTTLOrHL = stats.MaxTTL
		statsBlock.MeanTTLOrHL = uint8((uint16(stats.MinTTL) + uint16(stats.MaxTTL)) / 2)
	}

	voip := &wirertcp.VoIPMetricsBlock{
		SSRC: a.ssrc,
		// LossRate/DiscardRate are RFC 3611 Q8 fractions (0..255), the same
		// scale RFC 3550's reception-report fraction-lost field uses.
		LossRate: uint8(lossPercent / 100 * 255),
		// No dedicated late-discard counter exists in jitterbuffer.Statistics
		// (only Duplicate, which the buffer also drops at playout time); it
		// is used here as the closest available discard proxy.
		DiscardRate:    uint8(float64(stats.Duplicate) / float64(total) * 255),
		BurstDensity:   burstDensity,
		GapDensity:     gapDensity,
		BurstDuration:  burstDurMs,
		GapDuration:    gapDurMs,
		RoundTripDelay: xrUnavailable16,
		EndSystemDelay: xrUnavailable16,
		SignalLevel:    xrUnavailable8,
		NoiseLevel:     xrUnavailable8,
		RERL:           xrUnavailable8,
		Gmin:           xrGmin,
	}
	if haveRTT && roundTripMs >= 0 && roundTripMs < 65536 {
		voip.RoundTripDelay = uint16(roundTripMs)
	}
	if jp, ok := a.sampler.(JitterBufferConfigProvider); ok {
		jc := jp.JitterBufferConfig()
		nominalMs := jc.InitialFrames * int(jc.FrameDuration.Milliseconds())
		maxMs := jc.MaxFrames * int(jc.FrameDuration.Milliseconds())
		voip.EndSystemDelay = clampXR16(nominalMs)
		voip.JBNominal = clampXR16(nominalMs)
		voip.JBMaximum = clampXR16(maxMs)
		voip.JBAbsMax = clampXR16(maxMs)
	}

	rFactor, mosLQ, mosCQ := estimateCallQuality(lossPercent, meanJ, roundTripMs, haveRTT)
	voip.RFactor = rFactor
	voip.ExtRFactor = xrUnavailable8
	voip.MOSLQ = mosLQ
	voip.MOSCQ = mosCQ

	return &wirertcp.XRReport{SenderSSRC: a.ssrc, Stats: statsBlock, VoIP: voip}, true
}

func clampXR16(ms int) uint16 {
	if ms < 0 {
		return 0
	}
	if ms > 65535 {
		return 65535
	}
	return uint16(ms)
}

// jitterMinMaxMeanDev reduces the rolling sample window's per-tick jitter
// estimates to the RFC 3611 statistics-summary block's min/max/mean/dev
// fields (units match the Sampler's own jitter estimate, RTP timestamp
// ticks for a Sampler that reports jitterEst in those units).
func jitterMinMaxMeanDev(hist []sample) (minJ, maxJ, meanJ, devJ float64) {
	if len(hist) == 0 {
		return 0, 0, 0, 0
	}
	minJ, maxJ = hist[0].jitter, hist[0].jitter
	sum := 0.0
	for _, s := range hist {
		if s.jitter < minJ {
			minJ = s.jitter
		}
		if s.jitter > maxJ {
			maxJ = s.jitter
		}
		sum += s.jitter
	}
	meanJ = sum / float64(len(hist))
	var sqDiff float64
	for _, s := range hist {
		d := s.jitter - meanJ
		sqDiff += d * d
	}
	devJ = sqDiff / float64(len(hist))
	if devJ > 0 {
		devJ = sqrtApprox(devJ)
	}
	return minJ, maxJ, meanJ, devJ
}

// sqrtApprox is Newton's method to a handful of iterations, avoiding a
// dependency on math for a single call site — the rest of this package
// already keeps its numeric helpers dependency-free (see itoa below).
func sqrtApprox(v float64) float64 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

// burstGapStats approximates RFC 3611's Gilbert-model burst/gap density
// and mean duration from the rolling window's per-second loss deltas: a
// tick where new loss occurred is classified as part of a burst, a
// loss-free tick as part of a gap. Densities are Q8 fractions (0..255).
func burstGapStats(hist []sample) (burstDensity, gapDensity uint8, burstDurMs, gapDurMs uint16) {
	if len(hist) < 2 {
		return 0, 0, 0, 0
	}
	var burstTicks, gapTicks int
	var burstRuns, gapRuns int
	inBurst, started := false, false
	for i := 1; i < len(hist); i++ {
		lossy := hist[i].lost > hist[i-1].lost
		if lossy {
			burstTicks++
			if !started || !inBurst {
				burstRuns++
				inBurst = true
			}
		} else {
			gapTicks++
			if !started || inBurst {
				gapRuns++
				inBurst = false
			}
		}
		started = true
	}
	ticks := len(hist) - 1
	if ticks > 0 {
		burstDensity = uint8(float64(burstTicks) / float64(ticks) * 255)
		gapDensity = uint8(float64(gapTicks) / float64(ticks) * 255)
	}
	if burstRuns > 0 {
		burstDurMs = uint16(burstTicks * 1000 / burstRuns)
	}
	if gapRuns > 0 {
		gapDurMs = uint16(gapTicks * 1000 / gapRuns)
	}
	return burstDensity, gapDensity, burstDurMs, gapDurMs
}

// estimateCallQuality applies a simplified ITU-T G.107 E-model to derive an
// R-factor and the corresponding MOS-LQ/MOS-CQ scores from loss rate,
// jitter and round-trip delay, the same approach VoIP monitoring tools use
// when no raw audio/echo measurement is available. Ie=0 and Bpl=10 are the
// model's generic, codec-agnostic defaults.
func estimateCallQuality(lossPercent, jitterMs, rttMs float64, haveRTT bool) (rFactor, mosLQ, mosCQ uint8) {
	if !haveRTT {
		rttMs = 0
	}
	effectiveLatency := rttMs/2 + jitterMs*2 + 10

	var id float64
	if effectiveLatency < 160 {
		id = effectiveLatency / 40
	} else {
		id = (effectiveLatency - 120) / 10
	}

	const ie, bpl = 0.0, 10.0
	ieEff := ie + (95-ie)*lossPercent/(lossPercent/bpl+1)

	r := 93.2 - id - ieEff
	if r < 0 {
		r = 0
	}
	if r > 100 {
		r = 100
	}

	mos := 1.0
	if r > 0 {
		mos = 1 + 0.035*r + 0.000007*r*(r-60)*(100-r)
	}
	if mos < 1 {
		mos = 1
	}
	if mos > 4.5 {
		mos = 4.5
	}

	mosScaled := uint8(mos * 10)
	return uint8(r), mosScaled, mosScaled
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
