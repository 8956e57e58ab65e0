package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned for entity type names that were never
	// registered.
	ErrUnknownType = errors.New("unknown entity type")

	// ErrDeleted is returned when operating on an entity whose tombstone has
	// been persisted.
	ErrDeleted = errors.New("entity has been deleted")

	// ErrNoStore is returned by Load when the graph has no document source.
	ErrNoStore = errors.New("graph has no document store")

	// ErrNoQueue is the result of Save when the graph has no merge queue.
	ErrNoQueue = errors.New("graph has no merge queue")

	// ErrUnresolved is returned when a fault's identifiers cannot be resolved.
	ErrUnresolved = errors.New("fault could not be resolved")
)

// ValidationError reports a rejected mutation. Nothing was changed.
type ValidationError struct {
	Entity  string
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InstallErrorCode categorizes installation errors.
type InstallErrorCode string

const (
	// ErrCodeAlreadyInstalled: a proxy or relationship was installed twice.
	ErrCodeAlreadyInstalled InstallErrorCode = "ALREADY_INSTALLED"

	// ErrCodeMissingObject: a proxy was installed on a nil entity.
	ErrCodeMissingObject InstallErrorCode = "MISSING_OBJECT"

	// ErrCodeFieldTaken: the field name is already an attribute or
	// relationship of the type.
	ErrCodeFieldTaken InstallErrorCode = "FIELD_TAKEN"

	// ErrCodeUnknownType: a descriptor names an unregistered type.
	ErrCodeUnknownType InstallErrorCode = "UNKNOWN_TYPE"

	// ErrCodeInvalid: a type or descriptor is malformed.
	ErrCodeInvalid InstallErrorCode = "INVALID"
)

// InstallError reports a programming error in type or relationship setup.
type InstallError struct {
	Code    InstallErrorCode
	Message string
	Type    string
	Field   string
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	switch {
	case e.Type != "" && e.Field != "":
		return fmt.Sprintf("%s: %s (type=%s, field=%s)", e.Code, e.Message, e.Type, e.Field)
	case e.Type != "":
		return fmt.Sprintf("%s: %s (type=%s)", e.Code, e.Message, e.Type)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsInstall reports whether err is or wraps an InstallError.
func IsInstall(err error) bool {
	var ie *InstallError
	return errors.As(err, &ie)
}

// InstallCode returns the code of an InstallError in err's chain, or "".
func InstallCode(err error) InstallErrorCode {
	var ie *InstallError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}
