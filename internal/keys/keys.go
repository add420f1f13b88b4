package keys

// Package keys centralizes Redis key construction.
// It is kept in internal to avoid leaking key formats to public API.
// The player id rides inside a hash tag so that every key for one player maps
// to the same cluster slot.

func Queue(p string) string   { return "questline:{" + p + "}:queue" }
func Version(p string) string { return "questline:{" + p + "}:ver" }

// Backup returns the key holding one immutable backup copy of the queue document.
func Backup(p, id string) string { return "questline:{" + p + "}:backup:" + id }

// Backups is a ZSET index of backup ids scored by creation timestamp in ms.
func Backups(p string) string { return "questline:{" + p + "}:backups" }

// Audit is an append-only LIST of validation-bypass audit records.
func Audit(p string) string { return "questline:{" + p + "}:audit" }

// Player holds all precomputed keys for a player to avoid repeated concatenations.
type Player struct {
	Queue   string
	Version string
	Backups string
	Audit   string
}

// For returns a set of precomputed keys for the provided player id.
func For(p string) Player {
	prefix := "questline:{" + p + "}:"
	return Player{
		Queue:   prefix + "queue",
		Version: prefix + "ver",
		Backups: prefix + "backups",
		Audit:   prefix + "audit",
	}
}
