package attachment

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPermitted covers both foreign and missing resources so callers
	// cannot probe which task or attachment ids exist
	ErrNotPermitted = errors.New("not permitted")
	ErrCapacity     = errors.New("attachment limit reached")
	// ErrStorageUnavailable means the object store failed after its retries
	ErrStorageUnavailable = errors.New("storage temporarily unavailable, please try again later")
	// ErrBlobMissing is returned when metadata exists but the blob is gone
	ErrBlobMissing = errors.New("attachment file is no longer available")
)

// Reason identifies why an upload was rejected
type Reason string

const (
	ReasonEmpty             Reason = "empty"
	ReasonTooLarge          Reason = "too_large"
	ReasonTypeNotAllowed    Reason = "type_not_allowed"
	ReasonExtensionMismatch Reason = "extension_mismatch"
	ReasonMissingExtension  Reason = "missing_extension"
)

// ValidationError is a rejected upload. Message is safe to show to the user.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func reject(reason Reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// CapacityError reports the per-task attachment cap
type CapacityError struct {
	Max int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("Maximum %d attachments per task. Please delete an existing attachment first.", e.Max)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacity
}

func storageUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
