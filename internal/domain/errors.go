package domain

import "fmt"

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// UnknownFeedError is returned when a feed name matches no registration.
// It is surfaced to the caller and never retried.
type UnknownFeedError struct {
	Name string
}

func (e UnknownFeedError) Error() string {
	return fmt.Sprintf("unknown feed %q", e.Name)
}

func (e UnknownFeedError) Is(target error) bool {
	_, ok := target.(UnknownFeedError)
	if ok {
		return true
	}
	_, ok = target.(*UnknownFeedError)
	return ok
}

// ReconciliationError wraps a transaction failure during a source update.
// The whole update has been rolled back; the caller may retry safely because
// reconciliation is idempotent.
type ReconciliationError struct {
	Source string
	Err    error
}

func (e ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation of %s failed: %v", e.Source, e.Err)
}

func (e ReconciliationError) Unwrap() error {
	return e.Err
}

// PermanentBounceError marks a transport failure that will never succeed for
// this recipient. The bounce is recorded and future sends suppressed.
type PermanentBounceError struct {
	Address string
	Err     error
}

func (e PermanentBounceError) Error() string {
	return fmt.Sprintf("permanent bounce for %s: %v", e.Address, e.Err)
}

func (e PermanentBounceError) Unwrap() error {
	return e.Err
}

// TransientSendError marks a transport failure worth retrying on the next
// scheduled run. The subscription cursor stays untouched.
type TransientSendError struct {
	Err error
}

func (e TransientSendError) Error() string {
	return fmt.Sprintf("transient send failure: %v", e.Err)
}

func (e TransientSendError) Unwrap() error {
	return e.Err
}
