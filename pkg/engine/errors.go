package engine

import "fmt"

// FetchError marks a failed page or by-id fetch. The store is left
// unchanged; recovery is retry-on-demand or a full window invalidation.
type FetchError struct {
	Op  string // "page" or "hydrate"
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Op, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// MutationError marks an optimistic write the backend rejected. The
// engine has already rolled the store back when this is returned; callers
// surface it to the user.
type MutationError struct {
	Op  string // "send", "edit", "delete", "react", "unreact"
	Err error
}

func (e *MutationError) Error() string { return fmt.Sprintf("mutation %s: %v", e.Op, e.Err) }
func (e *MutationError) Unwrap() error { return e.Err }
