package skzerrors

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrResourceIsNil = errors.New("object is nil")
	ErrNotFound      = errors.New("object not found")
	ErrDuplicateKey  = errors.New("an object with this key already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidUUID   = errors.New("invalid identifier")
	ErrConflict      = errors.New("conflict")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrPayloadTooBig = errors.New("payload too large")
	ErrUnavailable   = errors.New("capability unavailable")

	// alerts
	ErrInvalidAlert      = errors.New("invalid alert")
	ErrInvalidTransition = errors.New("invalid status transition")

	// encodings and compilation
	ErrVectorDimension  = errors.New("feature vector dimension mismatch")
	ErrEmptyScope       = errors.New("no eligible records in scope")
	ErrUnsupportedImage = errors.New("unsupported image format")
	ErrNoFaceDetected   = errors.New("no face detected in image")

	// fleet
	ErrPairingCodeInvalid  = errors.New("pairing code invalid or expired")
	ErrUpstreamUnreachable = errors.New("device agent unreachable")

	// notifications
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// InvalidInputf wraps ErrInvalidInput with a caller-facing message.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}

// InvalidAlertf wraps ErrInvalidAlert with a caller-facing message.
func InvalidAlertf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidAlert}, args...)...)
}

func ErrorFromGormError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateKey
	default:
		return err
	}
}
