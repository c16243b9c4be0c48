package jitterbuffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeREDRoundTrip(t *testing.T) {
	redundant := []RedBlock{
		{PayloadType: 98, TimestampOffset: 600, Payload: []byte("ab")},
		{PayloadType: 98, TimestampOffset: 300, Payload: []byte("cd")},
	}
	wire := EncodeRED(98, redundant, []byte("efg"))

	gotRedundant, primaryPT, primary, err := DecodeRED(wire)
	require.NoError(t, err)
	assert.Equal(t, uint8(98), primaryPT)
	assert.Equal(t, []byte("efg"), primary)
	require.Len(t, gotRedundant, 2)
	assert.Equal(t, []byte("ab"), gotRedundant[0].Payload)
	assert.Equal(t, uint16(600), gotRedundant[0].TimestampOffset)
	assert.Equal(t, []byte("cd"), gotRedundant[1].Payload)
	assert.Equal(t, uint16(300), gotRedundant[1].TimestampOffset)
}

func TestDecodeREDRejectsTruncatedHeader(t *testing.T) {
	_, _, _, err := DecodeRED([]byte{0x80, 0x00, 0x01})
	assert.Error(t, err)
}

func TestDecodeREDRejectsBlockLengthExceedingPayload(t *testing.T) {
	// One redundant header claiming a 10-byte block, followed by a 1-byte
	// primary header and no body bytes at all.
	data := []byte{0x80 | 98, 0x00, 0x00, 0x0A, 98}
	_, _, _, err := DecodeRED(data)
	assert.Error(t, err)
}

// TestReassemblerEmitsInOrderWithNoLoss covers the common case: every
// primary block arrives in sequence and is passed straight through.
func TestReassemblerEmitsInOrderWithNoLoss(t *testing.T) {
	r := NewReassembler(100*time.Millisecond, false)
	now := time.Now()

	// The first arrival always primes highestSeq to one below itself, so it
	// is emitted immediately rather than held back.
	out := r.Receive(1, []byte("he"), nil, now)
	assert.Equal(t, []byte("he"), out)
	out = r.Receive(2, []byte("ll"), nil, now)
	assert.Equal(t, []byte("ll"), out)
	out = r.Receive(3, []byte("o"), nil, now)
	assert.Equal(t, []byte("o"), out)
}

// TestReassemblerRecoversGapFromRedundancy covers E4: a single dropped
// primary packet is recovered because the next arrival carries it as a
// redundant block.
func TestReassemblerRecoversGapFromRedundancy(t *testing.T) {
	r := NewReassembler(1000*time.Millisecond, false)
	now := time.Now()

	r.Receive(1, []byte("a"), nil, now)
	// seq 2 ("b") is lost on the wire; seq 3 carries it as one redundant
	// block at offset 300ms, matching the RFC 4103 default level-1 framing.
	out := r.Receive(3, []byte("c"), []RedBlock{{TimestampOffset: 300, Payload: []byte("b")}}, now)
	assert.Equal(t, []byte("bc"), out)
}

// TestReassemblerReplacesUnrecoveredGapAfterLossWait covers the
// replacement-character path: if redundancy never supplies a missing
// sequence before the loss-wait deadline, a U+FFFD is emitted instead.
func TestReassemblerReplacesUnrecoveredGapAfterLossWait(t *testing.T) {
	r := NewReassembler(50*time.Millisecond, false)
	now := time.Now()

	r.Receive(1, []byte("a"), nil, now)
	// seq 2 never arrives, with or without redundancy recovering it.
	out := r.Receive(3, []byte("c"), nil, now)
	assert.Empty(t, out, "gap just opened, loss-wait has not elapsed")

	later := now.Add(100 * time.Millisecond)
	out = r.Receive(4, []byte("d"), nil, later)
	assert.Equal(t, []byte(replacementChar+"cd"), out)
}

func TestReassemblerConsumesLeadingBOMOnce(t *testing.T) {
	r := NewReassembler(50*time.Millisecond, true)
	now := time.Now()

	bom := []byte("\xef\xbb\xbf")
	first := append(append([]byte{}, bom...), []byte("hi")...)
	out := r.Receive(1, first, nil, now)
	assert.Equal(t, []byte("hi"), out)

	out = r.Receive(2, []byte("!"), nil, now)
	assert.Equal(t, []byte("!"), out)
}

func TestValidateUTF8(t *testing.T) {
	assert.True(t, ValidateUTF8([]byte("hello")))
	assert.False(t, ValidateUTF8([]byte{0xff, 0xfe, 0xfd}))
}
