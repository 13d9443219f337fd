package protocol

import (
	"fmt"
	"io"

	"github.com/monogit/monogit/objectstore"
	"github.com/monogit/monogit/pack"
)

// UploadPackRequest is the parsed want/have negotiation line set a client
// sends as the body of a git-upload-pack request.
type UploadPackRequest struct {
	Want         []string
	Have         []string
	Capabilities map[Capability]bool
}

// ParseUploadPackRequest reads the pkt-line stream of a git-upload-pack
// request body, collecting want/have lines until "done" or the end of the
// body (flush-pkts between sections are skipped), and
// parsing capabilities off the first line, per the original protocol's
// fixed 4-byte sha field offsets.
func ParseUploadPackRequest(body []byte) *UploadPackRequest {
	req := &UploadPackRequest{Capabilities: map[Capability]bool{}}
	wantSeen := map[string]bool{}
	haveSeen := map[string]bool{}
	readFirstLine := false

	for len(body) > 0 {
		length, line, consumed, err := ReadPktLine(body)
		if err != nil {
			break
		}
		if length == 0 {
			if consumed == 0 {
				break
			}
			body = body[consumed:]
			continue
		}
		body = body[consumed:]

		if len(line) < 4 {
			continue
		}
		switch string(line[0:4]) {
		case "want":
			if len(line) >= 45 {
				id := string(line[5:45])
				if !wantSeen[id] {
					wantSeen[id] = true
					req.Want = append(req.Want, id)
				}
			}
			if !readFirstLine && len(line) > 46 {
				for k, v := range ParseCapabilities(string(line[46:])) {
					req.Capabilities[k] = v || req.Capabilities[k]
				}
				readFirstLine = true
			}
		case "have":
			if len(line) >= 45 {
				id := string(line[5:45])
				if !haveSeen[id] {
					haveSeen[id] = true
					req.Have = append(req.Have, id)
				}
			}
		case "done":
			return req
		}
	}
	return req
}

// UploadPackResult is the ACK/NAK header plus the packfile body to send
// back to the client.
type UploadPackResult struct {
	Header []byte
	Pack   io.Reader
	State  UploadPackState
}

// UploadPackState is the upload-pack negotiation state machine of spec
// §4.4.4: a request starts out collecting want lines, moves into the
// have/ACK exchange once it has at least one have, and settles into
// sending the resulting packfile once negotiation has picked a boundary
// (or decided there is none).
type UploadPackState int

const (
	StateWaitWants UploadPackState = iota
	StateHaveLoop
	StateSendPack
)

// String renders the state the way spec §4.4.4 names it.
func (s UploadPackState) String() string {
	switch s {
	case StateWaitWants:
		return "WAIT_WANTS"
	case StateHaveLoop:
		return "HAVE_LOOP"
	case StateSendPack:
		return "SEND_PACK"
	default:
		return "UNKNOWN"
	}
}

// UploadPackConfig tunes RunUploadPack's negotiation behavior.
type UploadPackConfig struct {
	// CompatACKInWantLoop makes the non-multi_ack_detailed fallback ACK
	// every common commit as it's discovered while walking the client's
	// have lines (the old multi_ack behavior), instead of staying silent
	// until the loop ends and ACKing only the last one found. Real git
	// has defaulted to multi_ack_detailed for over a decade, so this only
	// matters for a very old or minimal client; it defaults to off.
	CompatACKInWantLoop bool
}

// DefaultUploadPackConfig is RunUploadPack's zero-value behavior made explicit.
func DefaultUploadPackConfig() UploadPackConfig {
	return UploadPackConfig{CompatACKInWantLoop: false}
}

// RunUploadPack executes the fetch negotiation against store: a want set
// with no haves gets a full pack and a bare "NAK". A want set with haves
// gets a multi_ack_detailed exchange (ACK ... common / ACK ... ready) when
// the client advertised that capability; otherwise it falls back to the
// single-ACK negotiation every git server has supported since before
// multi_ack existed, ACKing only the single commit the fallback settles on
// (or NAKing) before moving straight to SEND_PACK.
func RunUploadPack(store *objectstore.Store, req *UploadPackRequest, cfg UploadPackConfig) (*UploadPackResult, error) {
	header := []byte{}

	if len(req.Have) == 0 {
		p, err := pack.FullPack(store, req.Want)
		if err != nil {
			return nil, err
		}
		header = append(header, EncodePktLine("NAK\n")...)
		return &UploadPackResult{Header: header, Pack: p, State: StateSendPack}, nil
	}

	if req.Capabilities[CapMultiAckDetailed] {
		lastCommon := ""
		for _, h := range req.Have {
			if pack.CheckCommitExists(store, h) {
				header = append(header, EncodePktLine(fmt.Sprintf("ACK %s common\n", h))...)
				if lastCommon == "" {
					lastCommon = h
				}
			}
		}

		p, err := pack.IncrementalPack(store, req.Want, req.Have)
		if err != nil {
			return nil, err
		}

		if lastCommon == "" {
			header = append(header, EncodePktLine("NAK\n")...)
			return &UploadPackResult{Header: header, Pack: p, State: StateSendPack}, nil
		}

		if req.Capabilities[CapNoDone] {
			for _, w := range req.Want {
				header = append(header, EncodePktLine(fmt.Sprintf("ACK %s ready\n", w))...)
			}
		}
		header = append(header, EncodePktLine(fmt.Sprintf("ACK %s \n", lastCommon))...)
		return &UploadPackResult{Header: header, Pack: p, State: StateSendPack}, nil
	}

	// Fallback for a client that never advertised multi_ack_detailed: walk
	// the have lines in HAVE_LOOP, noting the commits the store already
	// holds (and, in compat mode only, ACKing each as it is discovered),
	// then settle on the last common commit and move to SEND_PACK.
	lastCommon := ""
	for _, h := range req.Have {
		if !pack.CheckCommitExists(store, h) {
			continue
		}
		lastCommon = h
		if cfg.CompatACKInWantLoop {
			header = append(header, EncodePktLine(fmt.Sprintf("ACK %s continue\n", h))...)
		}
	}

	p, err := pack.IncrementalPack(store, req.Want, req.Have)
	if err != nil {
		return nil, err
	}
	if lastCommon == "" {
		header = append(header, EncodePktLine("NAK\n")...)
		return &UploadPackResult{Header: header, Pack: p, State: StateSendPack}, nil
	}
	header = append(header, EncodePktLine(fmt.Sprintf("ACK %s\n", lastCommon))...)
	return &UploadPackResult{Header: header, Pack: p, State: StateSendPack}, nil
}
