package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUploadPackRequest(t *testing.T) {
	want := "7bdc783132575d5b3e78400ace9971970ff43a18"
	have := "27dd8d4cf39f3868c6eee38b601bc9e9939304f5"

	var buf []byte
	buf = append(buf, EncodePktLine("want "+want+" multi_ack_detailed no-done side-band-64k\n")...)
	buf = append(buf, FlushPkt...)
	buf = append(buf, EncodePktLine("have "+have+"\n")...)
	buf = append(buf, EncodePktLine("done\n")...)

	req := ParseUploadPackRequest(buf)
	require.Equal(t, []string{want}, req.Want)
	require.Equal(t, []string{have}, req.Have)
	require.True(t, req.Capabilities[CapMultiAckDetailed])
	require.True(t, req.Capabilities[CapNoDone])
}
