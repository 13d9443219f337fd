package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseReceivePackCommands(t *testing.T) {
	var buf []byte
	line := ZeroOID + " 27dd8d4cf39f3868c6eee38b601bc9e9939304f5 refs/heads/main\x00report-status-v2 side-band-64k"
	buf = append(buf, EncodePktLine(line)...)
	buf = append(buf, FlushPkt...)

	commands, caps := ParseReceivePackCommands(buf)
	require.Len(t, commands, 1)
	require.Equal(t, "refs/heads/main", commands[0].RefName)
	require.Equal(t, RefCommandCreate, commands[0].Type)
	require.True(t, caps[CapReportStatusV2])
	require.True(t, caps[CapSideBand64k])
}

func TestClassify(t *testing.T) {
	require.Equal(t, RefCommandCreate, classify(ZeroOID, "abc"))
	require.Equal(t, RefCommandDelete, classify("abc", ZeroOID))
	require.Equal(t, RefCommandUpdate, classify("abc", "def"))
}
