package wake

import "fmt"

// StoreError means the settings store or log sink failed before the
// scheduler could decide or claim. Nothing was claimed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("wake: store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// PublishError means the window was claimed but the broadcast failed. The
// window stays consumed.
type PublishError struct {
	Slot string
	Err  error
}

func (e *PublishError) Error() string { return fmt.Sprintf("wake: publish for slot %s: %v", e.Slot, e.Err) }

func (e *PublishError) Unwrap() error { return e.Err }
