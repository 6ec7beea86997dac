package service

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind    = errors.New("unknown checklist kind")
	ErrNotLoaded      = errors.New("checklist not loaded")
	ErrNoSection      = errors.New("no section selected")
	ErrSaveInProgress = errors.New("a save is already in progress")
	// ErrNotProvisioned is returned by Finalize when the checklist has never
	// been written. Save at least one section and finalize again.
	ErrNotProvisioned = errors.New("checklist has no zones yet, save a section and retry")
	// ErrNothingPersisted is returned by Finalize when the document has
	// content but the store holds no elements even after a full re-save.
	ErrNothingPersisted = errors.New("no checklist data reached the store, save each section manually before finalizing")
)

// SaveError scopes a failed write to the section being saved. Retryable
// errors can be resolved by triggering the same save again.
type SaveError struct {
	SectionID string
	Retryable bool
	Err       error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("failed to save section %s: %v", e.SectionID, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}
