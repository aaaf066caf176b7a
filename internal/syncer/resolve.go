package syncer

import "time"

// Winner is the outcome of latest-wins conflict resolution.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// IsEcho reports whether an incoming remote change merely reflects a
// push this side originated: it matches what the ledger recorded as
// last pushed out. When the remote supplies only one of version/etag,
// the comparison falls back to whichever is present; with neither, a
// change is never an echo.
func IsEcho(row *Row, incomingVersion int64, incomingEtag string) bool {
	if row == nil {
		return false
	}
	hasVersion := incomingVersion != 0
	hasEtag := incomingEtag != ""
	switch {
	case hasVersion && hasEtag:
		return incomingVersion == row.VersionSeen && incomingEtag == row.EtagSeen
	case hasVersion:
		return incomingVersion == row.VersionSeen
	case hasEtag:
		return incomingEtag == row.EtagSeen
	}
	return false
}

// ShouldImport reports whether the remote has advanced beyond the
// recorded state. An unseen remote object always imports.
func ShouldImport(row *Row, incomingVersion int64, incomingEtag string) bool {
	if row == nil {
		return true
	}
	if incomingVersion != 0 {
		return incomingVersion > row.VersionSeen
	}
	if incomingEtag != "" {
		return incomingEtag != row.EtagSeen
	}
	return false
}

// Resolve applies latest-wins between a local write and a remote
// write. Exact timestamp ties are broken deterministically by
// lexicographic comparison of the (source priority, id) tuples, so
// both sides of a sync pair converge on the same winner.
func Resolve(localLastWrite, remoteLastWrite time.Time, localPriority, localEntityID, remotePriority, remoteID string) Winner {
	switch {
	case remoteLastWrite.After(localLastWrite):
		return WinnerRemote
	case localLastWrite.After(remoteLastWrite):
		return WinnerLocal
	}
	if remotePriority != localPriority {
		if remotePriority < localPriority {
			return WinnerRemote
		}
		return WinnerLocal
	}
	if remoteID < localEntityID {
		return WinnerRemote
	}
	return WinnerLocal
}
