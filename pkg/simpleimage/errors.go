package simpleimage

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrNotFound indicates a metadata document was not found
	ErrNotFound = errors.New("document not found")

	// ErrObjectNotFound indicates a stored object was not found
	ErrObjectNotFound = errors.New("object not found")

	// ErrMissingCredential indicates the request carried no bearer credential
	ErrMissingCredential = errors.New("missing or invalid authorization header")

	// ErrUnauthorized indicates the credential failed verification
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller does not own the document
	ErrForbidden = errors.New("permission denied")

	// ErrMissingFile indicates the upload carried no file payload
	ErrMissingFile = errors.New("missing 'image' field in the request")

	// ErrUnsupportedMediaType indicates the declared MIME type is not allowed
	ErrUnsupportedMediaType = errors.New("unsupported file type")

	// ErrMissingParam indicates a required request parameter is absent
	ErrMissingParam = errors.New("missing required parameter")

	// ErrIncompleteMetadata indicates a stored document lacks its bucket or file name
	ErrIncompleteMetadata = errors.New("the document stored on the server has incomplete metadata")

	// ErrSigningUnsupported indicates the backend cannot mint signed URLs
	ErrSigningUnsupported = errors.New("signed urls not supported by backend")
)

// StorageError represents an error related to object storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// MetadataError represents an error related to metadata store operations
type MetadataError struct {
	DocID string
	Op    string
	Err   error
}

func (e *MetadataError) Error() string {
	if e.DocID == "" {
		return fmt.Sprintf("metadata operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("metadata operation %s failed for document %s: %v", e.Op, e.DocID, e.Err)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// AnnotationError represents a failed vision call
type AnnotationError struct {
	Feature string
	Err     error
}

func (e *AnnotationError) Error() string {
	return fmt.Sprintf("%s detection failed: %v", e.Feature, e.Err)
}

func (e *AnnotationError) Unwrap() error {
	return e.Err
}
