package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildInfoRefs_EmptyRepoUsesCapabilitiesMarker(t *testing.T) {
	out := BuildInfoRefs(ServiceUploadPack, ZeroOID, nil)
	s := string(out)
	require.True(t, strings.Contains(s, "capabilities^{}"))
	require.True(t, strings.Contains(s, "# service=git-upload-pack"))
	require.True(t, strings.HasSuffix(s, "0000"))
}

func TestBuildInfoRefs_NonEmptyRepoAdvertisesHead(t *testing.T) {
	hash := "7bdc783132575d5b3e78400ace9971970ff43a18"
	out := BuildInfoRefs(ServiceUploadPack, hash, []RefAd{
		{Hash: hash, Name: "refs/heads/main"},
	})
	s := string(out)
	require.True(t, strings.Contains(s, hash+" HEAD\x00"))
	require.True(t, strings.Contains(s, hash+" refs/heads/main\n"))
}
