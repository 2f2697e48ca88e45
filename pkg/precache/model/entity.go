package model

import "time"

// DatatypeSlot is the per-slot state an entity tracks for one of its three
// datatypes: size, status and the time the status was last set.
type DatatypeSlot struct {
	Size      uint64
	Status    Status
	UpdatedAt time.Time
}

// Entity is the tracking record for a single upstream object. UpstreamPath
// is the unique key; PrecacheDir is the opaque on-disk directory backing
// it. Checksum is the whole-file MD5 once the data slot finishes and the
// checksummer has run.
type Entity struct {
	UpstreamPath string
	PrecacheDir  string

	Data      DatatypeSlot
	Metadata  DatatypeSlot
	Checksums DatatypeSlot

	LastAccess time.Time
	Contention int
	Checksum   string // whole-file MD5, empty until the data slot is Finished and checksummed
}

// Slot returns a pointer to the slot for the given datatype, or nil for an
// invalid datatype.
func (e *Entity) Slot(dt Datatype) *DatatypeSlot {
	switch dt {
	case DatatypeData:
		return &e.Data
	case DatatypeMetadata:
		return &e.Metadata
	case DatatypeChecksums:
		return &e.Checksums
	default:
		return nil
	}
}

// Commitment is the total bytes this entity occupies or has reserved in
// the precache: the sum of the three slot sizes, counting slots that are
// Started or Finished. A Started slot's Size already holds the reserved
// byte figure set at admission, so an in-flight fetch counts against
// capacity exactly as much as a finished one — otherwise concurrent
// admissions could collectively overrun the budget before any of them
// finish.
func (e *Entity) Commitment() uint64 {
	var total uint64
	for _, slot := range []DatatypeSlot{e.Data, e.Metadata, e.Checksums} {
		if slot.Status == StatusStarted || slot.Status == StatusFinished {
			total += slot.Size
		}
	}
	return total
}

// Ready reports whether every slot has reached Finished.
func (e *Entity) Ready() bool {
	return e.Data.Status == StatusFinished &&
		e.Metadata.Status == StatusFinished &&
		e.Checksums.Status == StatusFinished
}

// Idle reports whether an entity has zero readers/writers currently
// holding it, i.e. it is a candidate for eviction.
func (e *Entity) Idle() bool {
	return e.Contention == 0
}
