package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/monogit/monogit/objectstore"
	"github.com/monogit/monogit/pack"
	"github.com/monogit/monogit/refstore"
)

// RefCommandType classifies a receive-pack ref command by its old/new OID.
type RefCommandType int

const (
	RefCommandUpdate RefCommandType = iota
	RefCommandCreate
	RefCommandDelete
)

// RefCommand is one `<old> <new> <ref>` line of a receive-pack request.
type RefCommand struct {
	RefName  string
	OldID    string
	NewID    string
	Type     RefCommandType
	Status   string // "ok" or an error message
	IsCLRef  bool
}

func classify(old, new string) RefCommandType {
	switch {
	case old == ZeroOID:
		return RefCommandCreate
	case new == ZeroOID:
		return RefCommandDelete
	default:
		return RefCommandUpdate
	}
}

// ParseReceivePackCommands reads the command lines preceding the packfile
// in a git-receive-pack request body, parsing capabilities off the first
// line's trailing NUL-delimited section.
func ParseReceivePackCommands(body []byte) ([]*RefCommand, map[Capability]bool) {
	var commands []*RefCommand
	caps := map[Capability]bool{}

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

		fields := bytes.SplitN(line, []byte{0}, 2)
		core := fields[0]
		parts := bytes.Fields(core)
		if len(parts) < 3 {
			continue
		}
		old, new, refName := string(parts[0]), string(parts[1]), string(parts[2])

		commands = append(commands, &RefCommand{
			RefName: refName, OldID: old, NewID: new, Type: classify(old, new),
			IsCLRef: len(refName) > 8 && refName[:8] == "refs/cl/",
		})

		if len(fields) == 2 {
			for k, v := range ParseCapabilities(string(fields[1])) {
				caps[k] = v || caps[k]
			}
		}
	}
	return commands, caps
}

// ReceivePackResult is the status report line set built after unpacking
// and applying every ref command, side-band framed when the client
// advertised side-band/side-band-64k.
type ReceivePackResult struct {
	Commands []*RefCommand
	Report   []byte
}

// RunReceivePack unpacks packData into store, then applies every create or
// update command to refs via BatchUpdateRefs (all-or-nothing only when the
// client sent the atomic capability) and every delete command one by one
// afterwards, building a report-status stream
// of "unpack ok"/"unpack <error>" followed by one "ok <ref>"/"ng <ref>
// <error>" line per command. A command failing validation does not abort
// the others; only a failed unpack aborts every ref update.
func RunReceivePack(store *objectstore.Store, refs *refstore.Store, repoPath string, commands []*RefCommand, caps map[Capability]bool, packData io.ReadSeeker) *ReceivePackResult {
	report := &bytes.Buffer{}
	sideband := caps[CapSideBand] || caps[CapSideBand64k]

	writeLine := func(s string) {
		if sideband {
			report.Write(EncodeSideBand(SideBandData, EncodePktLine(s)))
		} else {
			report.Write(EncodePktLine(s))
		}
	}

	unpacker := pack.NewUnpacker(store, nil)
	_, err := unpacker.Unpack(packData)
	if err != nil {
		writeLine("unpack " + err.Error() + "\n")
		for _, c := range commands {
			c.Status = "ng " + errors.Wrap(err, "unpack failed").Error()
			writeLine(fmt.Sprintf("ng %s %s\n", c.RefName, c.Status))
		}
		report.Write(FlushPkt)
		return &ReceivePackResult{Commands: commands, Report: report.Bytes()}
	}
	writeLine("unpack ok\n")

	// atomic means every ref command either all land or none do, per the
	// client's atomic capability; non-atomic lets one ref's conflict be
	// reported without blocking the others in the same push.
	atomic := caps[CapAtomic]

	var updates []refstore.RefUpdate
	var updateCmds []*RefCommand
	for _, c := range commands {
		if c.Type == RefCommandDelete {
			continue
		}
		treeHash, terr := pack.CommitTree(store, c.NewID)
		if terr != nil {
			c.Status = "bad commit: " + terr.Error()
			continue
		}
		oldCommit := c.OldID
		if oldCommit == ZeroOID {
			oldCommit = ""
		}
		updates = append(updates, refstore.RefUpdate{
			Path: repoPath, RefName: c.RefName, NewCommit: c.NewID, NewTree: treeHash,
			OldCommit: oldCommit, Action: refstore.ActionPush,
		})
		updateCmds = append(updateCmds, c)
	}

	applyErrs, batchErr := refs.BatchUpdateRefs(updates, atomic)
	if batchErr != nil {
		for _, c := range updateCmds {
			if c.Status == "" {
				c.Status = "failed: " + batchErr.Error()
			}
		}
	} else {
		for i, c := range updateCmds {
			switch {
			case applyErrs[i] == nil:
			case errors.Is(applyErrs[i], refstore.ErrConflict):
				c.Status = "non-fast-forward"
			default:
				c.Status = applyErrs[i].Error()
			}
		}
	}

	for _, c := range commands {
		if c.Type == RefCommandDelete {
			if err := refs.DeleteRef(repoPath, c.RefName); err != nil {
				c.Status = "failed to delete: " + err.Error()
				writeLine(fmt.Sprintf("ng %s %s\n", c.RefName, c.Status))
				continue
			}
			c.Status = "ok"
			writeLine(fmt.Sprintf("ok %s\n", c.RefName))
			continue
		}
		if c.Status != "" {
			writeLine(fmt.Sprintf("ng %s %s\n", c.RefName, c.Status))
			continue
		}
		c.Status = "ok"
		writeLine(fmt.Sprintf("ok %s\n", c.RefName))
	}

	report.Write(FlushPkt)
	return &ReceivePackResult{Commands: commands, Report: report.Bytes()}
}
