package protocol

import (
	"fmt"

	"github.com/monogit/monogit/refstore"
)

// RefAd is one advertised ref: hash and full ref name.
type RefAd struct {
	Hash string
	Name string
}

// BuildInfoRefs renders the initial ref advertisement for an HTTP smart
// service request. headHash is the resolved HEAD commit id, or ZeroOID for
// an empty repository (in which case the first advertised name is the
// synthetic "capabilities^{}" placeholder per the protocol, carrying only
// the capability list). svc selects which capability list is advertised.
func BuildInfoRefs(svc ServiceType, headHash string, refs []RefAd) []byte {
	name := "HEAD"
	if headHash == ZeroOID {
		name = "capabilities^{}"
	}

	first := fmt.Sprintf("%s %s\x00%s\n", headHash, name, CapListFor(svc))
	lines := []string{first}
	for _, r := range refs {
		lines = append(lines, fmt.Sprintf("%s %s\n", r.Hash, r.Name))
	}

	out := append([]byte{}, EncodePktLine(fmt.Sprintf("# service=git-%s\n", svc))...)
	out = append(out, FlushPkt...)
	for _, l := range lines {
		out = append(out, EncodePktLine(l)...)
	}
	out = append(out, FlushPkt...)
	return out
}

// RefsToAds converts refstore refs into advertisement entries, skipping CL
// refs (refs/cl/*) unless includeCL is set, matching the convention that
// CL refs are not advertised to ordinary fetch/clone clients.
func RefsToAds(refs []*refstore.Ref, includeCL bool) []RefAd {
	var ads []RefAd
	for _, r := range refs {
		if r.IsCLRef && !includeCL {
			continue
		}
		ads = append(ads, RefAd{Hash: r.TargetCommitID, Name: r.RefName})
	}
	return ads
}
