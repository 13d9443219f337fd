package protocol

import "strings"

// Capability is one entry of the git protocol capability list.
type Capability string

const (
	CapMultiAckDetailed  Capability = "multi_ack_detailed"
	CapNoDone            Capability = "no-done"
	CapIncludeTag        Capability = "include-tag"
	CapSideBand          Capability = "side-band"
	CapSideBand64k       Capability = "side-band-64k"
	CapOfsDelta          Capability = "ofs-delta"
	CapReportStatus      Capability = "report-status"
	CapReportStatusV2    Capability = "report-status-v2"
	CapDeleteRefs        Capability = "delete-refs"
	CapQuiet             Capability = "quiet"
	CapAtomic            Capability = "atomic"
	CapNoThin            Capability = "no-thin"
)

// receiveCapList and uploadCapList partition the capability space the way
// upload-pack and receive-pack each recognize it; sideband/ofs-delta/agent
// are shared by both processes.
const (
	receiveCapList = "report-status report-status-v2 delete-refs quiet atomic no-thin"
	commonCapList  = "side-band-64k ofs-delta agent=monogit/0.1.0"
	uploadCapList  = "multi_ack_detailed no-done include-tag"
)

// ServiceType distinguishes the two smart-HTTP services.
type ServiceType string

const (
	ServiceUploadPack  ServiceType = "upload-pack"
	ServiceReceivePack ServiceType = "receive-pack"
)

// CapListFor returns the space-joined capability advertisement string for
// the given service, used on the first advertised ref.
func CapListFor(svc ServiceType) string {
	switch svc {
	case ServiceUploadPack:
		return uploadCapList + " " + commonCapList
	case ServiceReceivePack:
		return receiveCapList + " " + commonCapList
	default:
		return commonCapList
	}
}

// ParseCapabilities splits a space-separated capability string into a set.
func ParseCapabilities(s string) map[Capability]bool {
	caps := make(map[Capability]bool)
	for _, tok := range strings.Fields(s) {
		caps[Capability(strings.TrimSpace(tok))] = true
	}
	return caps
}
