// Package protocol implements the L3 Git smart-HTTP engine of spec §4.3:
// pkt-line framing, capability negotiation, and the upload-pack/receive-pack
// state machines, wired over objectstore, refstore and pack instead of a
// working-tree git binary.
package protocol

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FlushPkt is the four-byte pkt-line flush marker.
var FlushPkt = []byte("0000")

// EncodePktLine frames payload as a single pkt-line: a 4-byte hex length
// (including itself) followed by the payload.
func EncodePktLine(payload string) []byte {
	s := strconv.FormatInt(int64(len(payload)+4), 16)
	if len(s)%4 != 0 {
		s = strings.Repeat("0", 4-len(s)%4) + s
	}
	return []byte(s + payload)
}

// EncodePktLineBytes is EncodePktLine for raw bytes.
func EncodePktLineBytes(payload []byte) []byte {
	s := strconv.FormatInt(int64(len(payload)+4), 16)
	if len(s)%4 != 0 {
		s = strings.Repeat("0", 4-len(s)%4) + s
	}
	out := make([]byte, 0, len(s)+len(payload))
	out = append(out, s...)
	return append(out, payload...)
}

// ErrInvalidPktLineLength indicates a pkt-line declared a length header in
// 0002..0003, which the pkt-line grammar reserves and never produces: every
// length MUST be 0 (flush), 1 (delim), or >= 4.
var ErrInvalidPktLineLength = errors.New("protocol: invalid pkt-line length")

// ReadPktLine consumes one pkt-line from buf, returning the declared total
// length, the payload (without the 4-byte length header), and the number of
// bytes consumed from buf. A flush-pkt ("0000") or a delim-pkt ("0001") both
// report length 0 with no error. A declared length of 2..3 is malformed per
// the pkt-line grammar and reported via err rather than sliced, since
// buf[4:length] would underflow. buf shorter than 4 bytes is reported as
// simply incomplete (consumed the whole buffer, no error): the caller is
// expected to wait for more data, not reject the stream.
func ReadPktLine(buf []byte) (length int, payload []byte, consumed int, err error) {
	if len(buf) < 4 {
		return 0, nil, len(buf), nil
	}
	n, perr := strconv.ParseInt(string(buf[0:4]), 16, 64)
	if perr != nil {
		return 0, nil, 4, errors.Wrap(perr, "invalid pkt-line length header")
	}
	switch n {
	case 0, 1:
		return 0, nil, 4, nil
	}
	if n < 4 {
		return 0, nil, 4, ErrInvalidPktLineLength
	}
	end := int(n)
	if end > len(buf) {
		end = len(buf)
	}
	return int(n), buf[4:end], end, nil
}

// SplitPktLines decodes every pkt-line in buf, skipping flush and delim
// markers and stopping at a malformed length or exhausted input.
func SplitPktLines(buf []byte) [][]byte {
	var lines [][]byte
	for len(buf) > 0 {
		length, payload, consumed, err := ReadPktLine(buf)
		if err != nil {
			break
		}
		if length == 0 {
			if consumed == 0 {
				break
			}
			buf = buf[consumed:]
			continue
		}
		lines = append(lines, payload)
		buf = buf[consumed:]
	}
	return lines
}

// SideBandChannel is the side-band-64k multiplexing channel byte.
type SideBandChannel byte

const (
	SideBandData     SideBandChannel = 1
	SideBandProgress SideBandChannel = 2
	SideBandError    SideBandChannel = 3
)

// EncodeSideBand frames payload on channel ch as a pkt-line whose first
// byte is the channel marker, per side-band-64k.
func EncodeSideBand(ch SideBandChannel, payload []byte) []byte {
	framed := append([]byte{byte(ch)}, payload...)
	return EncodePktLineBytes(framed)
}

// ZeroOID is the all-zero object id sentinel used for ref creation and
// deletion commands.
const ZeroOID = "0000000000000000000000000000000000000000"

// maxSideBandPayload is the largest chunk of pack data side-band-64k frames
// in a single pkt-line: 65515 bytes of payload plus the 4-byte length
// header plus the 1-byte channel marker fits the 65520-byte packet a real
// git client expects from that capability's name.
const maxSideBandPayload = 65515

// WritePackStream copies pack into w, side-band-64k framing it on channel 1
// in maxSideBandPayload-sized pieces when sideband is true, or copying it
// unframed when the client never advertised side-band/side-band-64k. It
// never buffers more than one frame of pack in memory at a time.
func WritePackStream(w io.Writer, pack io.Reader, sideband bool) error {
	if !sideband {
		_, err := io.Copy(w, pack)
		return err
	}
	buf := make([]byte, maxSideBandPayload)
	for {
		n, err := pack.Read(buf)
		if n > 0 {
			if _, werr := w.Write(EncodeSideBand(SideBandData, buf[:n])); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
