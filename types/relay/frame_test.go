package relay

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundtrip(t *testing.T) {
	for _, payload := range [][]byte{
		nil,
		{},
		{0x42},
		bytes.Repeat([]byte{0xab}, 512),
		bytes.Repeat([]byte{0xcd}, MaxPayloadLen),
	} {
		fr, err := EncodeFlags(FrameSendPacket, FlagCompressed, payload)
		require.NoError(t, err)

		hdr, err := DecodeHeader(fr)
		require.NoError(t, err)

		assert.EqualValues(t, ProtocolVersion, hdr.Version)
		assert.Equal(t, FrameSendPacket, hdr.Type)
		assert.Equal(t, FlagCompressed, hdr.Flags)
		assert.EqualValues(t, len(payload), hdr.Length)

		require.NoError(t, hdr.CheckPayload(fr))
		assert.Equal(t, len(payload), len(Payload(fr)))
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(FrameSendPacket, make([]byte, MaxPayloadLen+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestDecodeHeaderRejectsShortInput(t *testing.T) {
	for n := range HeaderLen {
		_, err := DecodeHeader(make([]byte, n))
		assert.ErrorIs(t, err, ErrFrameTooShort, "input of %d bytes", n)
	}
}

func TestCheckPayloadCatchesLengthMismatch(t *testing.T) {
	fr, err := Encode(FrameKeepAlive, nil)
	require.NoError(t, err)

	hdr, err := DecodeHeader(fr)
	require.NoError(t, err)

	// Truncated and padded frames both fail the check.
	assert.ErrorIs(t, hdr.CheckPayload(append(fr, 0x00)), ErrLengthMismatch)

	fr2, err := Encode(FrameServerKey, []byte{1, 2, 3})
	require.NoError(t, err)
	hdr2, err := DecodeHeader(fr2)
	require.NoError(t, err)
	assert.ErrorIs(t, hdr2.CheckPayload(fr2[:HeaderLen+2]), ErrLengthMismatch)
}

func TestDecodeHeaderDoesNotValidateLength(t *testing.T) {
	// The codec parses headers only; a declared length beyond the buffer is
	// the frame reader's problem.
	b := []byte{ProtocolVersion, byte(FrameSendPacket), 0x00, 0xff, 0xff}

	hdr, err := DecodeHeader(b)
	require.NoError(t, err)
	assert.EqualValues(t, 0xffff, hdr.Length)
}

func TestCompressSectionRoundtrip(t *testing.T) {
	pkt := bytes.Repeat([]byte("abcdefgh"), 64)

	section, ok := compressSection(pkt)
	require.True(t, ok, "highly repetitive payload should compress")
	require.Less(t, len(section), len(pkt))

	back, err := expandSection(section)
	require.NoError(t, err)
	assert.Equal(t, pkt, back)
}

func TestCompressSectionSkipsSmallAndIncompressible(t *testing.T) {
	_, ok := compressSection(make([]byte, compressMinSize-1))
	assert.False(t, ok, "below-threshold payloads stay uncompressed")

	random := make([]byte, 256)
	for i := range random {
		random[i] = byte(i*7 + 13)
	}
	// Not asserting ok here; lz4 may or may not squeeze this. The invariant
	// is only that a produced section must expand back.
	if section, ok := compressSection(random); ok {
		back, err := expandSection(section)
		require.NoError(t, err)
		assert.Equal(t, random, back)
	}
}

func TestExpandSectionRejectsGarbage(t *testing.T) {
	_, err := expandSection([]byte{0x00})
	assert.ErrorIs(t, err, ErrBadCompression)

	_, err = expandSection([]byte{0x01, 0x00, 0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrBadCompression)
}
