package push

import (
	"context"
	"errors"
)

// ErrStoreClosed is returned by stores used after Close.
var ErrStoreClosed = errors.New("state store closed")

// StateStore persists the single activation record. Save replaces the whole
// record atomically: a reader observes either the previous or the new record,
// never a mix.
type StateStore interface {
	// Load returns the stored record, or NotActivated with an empty identity
	// when nothing has been stored yet.
	Load(ctx context.Context) (PersistedRecord, error)

	// Save replaces the stored record.
	Save(ctx context.Context, rec PersistedRecord) error
}

// emptyRecord is what Load returns before the first Save.
func emptyRecord() PersistedRecord {
	return PersistedRecord{State: NotActivated{}}
}

// decodeStored turns a stored blob into a record, treating an empty blob as
// nothing stored.
func decodeStored(blob []byte) (PersistedRecord, error) {
	if len(blob) == 0 {
		return emptyRecord(), nil
	}
	return UnmarshalRecord(blob)
}
