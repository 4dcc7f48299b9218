package sdb

import "errors"

// Error taxonomy (§7). Names are contracts: callers switch on these
// sentinels with errors.Is, never on string content.
var (
	// Configuration/availability
	ErrOpenDbFile    = errors.New("sdb: cannot open database file")
	ErrStreamsDir    = errors.New("sdb: cannot access streams directory")
	ErrStreamFile    = errors.New("sdb: cannot access stream file")
	ErrAccessDatabase = errors.New("sdb: database handle not open")
	ErrAccessMeta    = errors.New("sdb: cannot access meta record")

	// Transaction lifecycle
	ErrStartTrans      = errors.New("sdb: cannot start transaction")
	ErrCommitTrans     = errors.New("sdb: cannot commit transaction")
	ErrNotInTransaction = errors.New("sdb: not in transaction")

	// Sub-tree ops
	ErrCreateTable  = errors.New("sdb: cannot create table")
	ErrRemoveTable  = errors.New("sdb: cannot remove table")
	ErrClearTable   = errors.New("sdb: cannot clear table")
	ErrCreateCursor = errors.New("sdb: cannot create cursor")
	ErrAccessCursor = errors.New("sdb: cannot access cursor")

	// Record ops
	ErrUnknownId     = errors.New("sdb: unknown record id")
	ErrAccessRecord  = errors.New("sdb: cannot access record")
	ErrWrongType     = errors.New("sdb: wrong record type")
	ErrRecordFormat  = errors.New("sdb: malformed record encoding")
	ErrRecordLocked  = errors.New("sdb: record locked by another transaction")
	ErrRecordDeleted = errors.New("sdb: record deleted")

	// Schema/dictionary
	ErrReservedName = errors.New("sdb: atom name is reserved")
	ErrAtomClash    = errors.New("sdb: atom/name clash")
	ErrIndexExists  = errors.New("sdb: index already exists")

	// Semantic
	ErrWrongContext    = errors.New("sdb: operation invalid in this context")
	ErrInvalidArgument = errors.New("sdb: invalid argument")
	ErrSelfRelation    = errors.New("sdb: relation cannot target itself here")
	ErrDuplicate       = errors.New("sdb: duplicate value for unique index")
)
