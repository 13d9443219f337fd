package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePktLine_RoundTrips(t *testing.T) {
	encoded := EncodePktLine("# service=git-upload-pack\n")
	require.Equal(t, "001e# service=git-upload-pack\n", string(encoded))

	length, payload, consumed, err := ReadPktLine(encoded)
	require.NoError(t, err)
	require.Equal(t, 30, length)
	require.Equal(t, "# service=git-upload-pack\n", string(payload))
	require.Equal(t, len(encoded), consumed)
}

func TestReadPktLine_FlushPkt(t *testing.T) {
	length, payload, consumed, err := ReadPktLine(FlushPkt)
	require.NoError(t, err)
	require.Equal(t, 0, length)
	require.Nil(t, payload)
	require.Equal(t, 4, consumed)
}

func TestReadPktLine_DelimPkt(t *testing.T) {
	length, payload, consumed, err := ReadPktLine([]byte("0001"))
	require.NoError(t, err)
	require.Equal(t, 0, length)
	require.Nil(t, payload)
	require.Equal(t, 4, consumed)
}

func TestReadPktLine_ReservedLengthIsRejected(t *testing.T) {
	for _, raw := range []string{"0002", "0003"} {
		length, payload, consumed, err := ReadPktLine([]byte(raw))
		require.ErrorIs(t, err, ErrInvalidPktLineLength)
		require.Equal(t, 0, length)
		require.Nil(t, payload)
		require.Equal(t, 4, consumed)
	}
}

func TestReadPktLine_IncompleteBufferIsNotAnError(t *testing.T) {
	length, payload, consumed, err := ReadPktLine([]byte("001"))
	require.NoError(t, err)
	require.Equal(t, 0, length)
	require.Nil(t, payload)
	require.Equal(t, 3, consumed)
}

func TestSplitPktLines(t *testing.T) {
	var buf []byte
	buf = append(buf, EncodePktLine("ACK abc common\n")...)
	buf = append(buf, EncodePktLine("ACK abc ready\n")...)
	buf = append(buf, FlushPkt...)

	lines := SplitPktLines(buf)
	require.Len(t, lines, 2)
	require.Equal(t, "ACK abc common\n", string(lines[0]))
	require.Equal(t, "ACK abc ready\n", string(lines[1]))
}

func TestEncodeSideBand(t *testing.T) {
	framed := EncodeSideBand(SideBandData, []byte("hello"))
	length, payload, _, err := ReadPktLine(framed)
	require.NoError(t, err)
	require.Equal(t, len(framed), length)
	require.Equal(t, byte(SideBandData), payload[0])
	require.Equal(t, "hello", string(payload[1:]))
}
