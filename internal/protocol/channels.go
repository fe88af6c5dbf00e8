package protocol

import "strings"

// Per-world channel kinds.
const (
	ChanPositions = "positions"
	ChanBlocks    = "blocks"
	ChanDrops     = "drops"
	ChanChat      = "chat"
	ChanSnapshots = "snapshots"
)

// SystemChannel is the global out-of-band broadcast channel. ParseChannel reports its
// kind as KindSystem.
const (
	SystemChannel = "global/system"
	KindSystem    = "system"
)

var worldKinds = []string{ChanPositions, ChanBlocks, ChanDrops, ChanChat, ChanSnapshots}

// WorldKinds lists every per-world channel kind.
func WorldKinds() []string { return append([]string(nil), worldKinds...) }

func WorldChannel(worldID, kind string) string {
	return "world/" + worldID + "/" + kind
}

// ParseChannel splits a channel name. System has worldID "" and kind "system".
func ParseChannel(ch string) (worldID, kind string, ok bool) {
	if ch == SystemChannel {
		return "", KindSystem, true
	}
	rest, found := strings.CutPrefix(ch, "world/")
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	worldID, kind = rest[:i], rest[i+1:]
	if !ValidWorldID(worldID) {
		return "", "", false
	}
	for _, k := range worldKinds {
		if k == kind {
			return worldID, kind, true
		}
	}
	return "", "", false
}

// ValidWorldID accepts 1..64 chars of [A-Za-z0-9_-].
func ValidWorldID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
