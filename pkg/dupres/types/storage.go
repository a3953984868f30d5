package types

// PartitionReservation is a scoped handle asserting the holder's right
// to read/write a given partition. Acquisition pins cluster state for
// the operation's duration; it is released exactly once, when the last
// reference to the request holding it drops.
type PartitionReservation interface {
	Release()
}

// RecordDescriptor is an opaque handle to a record open in storage,
// returned by RecordOpen and consumed by LoadBins, Pickle,
// RecordGetKey, RecordClose and RecordDone.
type RecordDescriptor interface {
	Key() RecordKey
	Version() VersionStamp
}

// Bin is a single named value inside a record.
type Bin struct {
	Name  string
	Value []byte
}

// RemoteRecord is the ephemeral value object built from the best probe
// ack when applying a winning duplicate. RecordBytes is the opaque
// pickle produced by the owning peer's storage layer and must be at
// least two bytes (the minimum pickled header); anything shorter is a
// protocol error.
type RemoteRecord struct {
	Reservation    PartitionReservation
	Digest         Digest
	Generation     Generation
	LastUpdateTime uint64
	VoidTime       *uint32
	SetName        []byte
	Key            []byte
	RecordBytes    []byte
}

// Storage is the black-box durable record store the core consumes. It
// can open/load/pickle a record and atomically replace-if-better; it
// never mutates anything the core can observe except through these
// calls.
type Storage interface {
	// ReservePartition pins cluster state for the key's partition for
	// the duration of one probe/apply operation.
	ReservePartition(key RecordKey) (PartitionReservation, error)

	// RecordGet looks up a record without opening it for read, used by
	// the responder's short-circuit check. ok is false when no record
	// exists for key.
	RecordGet(key RecordKey) (version VersionStamp, ok bool, err error)

	// RecordOpen opens the record for a full read (bins + pickle).
	RecordOpen(key RecordKey) (RecordDescriptor, error)

	// LoadNBins returns the bin count of an open record.
	LoadNBins(rd RecordDescriptor) (int, error)

	// LoadBins reads up to len(into) bins from an open record.
	LoadBins(rd RecordDescriptor, into []Bin) (int, error)

	// Pickle serializes an open record into its opaque wire form.
	Pickle(rd RecordDescriptor) ([]byte, error)

	// RecordGetKey returns the stored user key bytes, if any.
	RecordGetKey(rd RecordDescriptor) ([]byte, error)

	// RecordClose releases a descriptor obtained from RecordOpen.
	RecordClose(rd RecordDescriptor) error

	// RecordDone releases a descriptor obtained from RecordOpen;
	// RecordGet hands out no descriptor to release.
	RecordDone(rd RecordDescriptor) error

	// ReplaceIfBetter atomically compares remote against the local
	// copy under policy and replaces it only if remote wins. It never
	// expunges a tombstone when allowExpunge is false, and treats a
	// migration-sourced replace (isMigration) the way local storage
	// would for any other externally-sourced record.
	ReplaceIfBetter(remote RemoteRecord, policy ConflictPolicy, allowExpunge bool, isMigration bool) (ResultCode, error)
}
