package signing

import (
	"fmt"
)

// KeyImportError represents a key file that could not be read or parsed.
// The build pipeline recovers from it by producing an unsigned image.
type KeyImportError struct {
	// Path is the key file path
	Path string
	// Reason describes why the key is unusable
	Reason string
	// Underlying error if any
	Err error
}

func (e *KeyImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("RSA key %s could not be imported: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("RSA key %s could not be imported: %s", e.Path, e.Reason)
}

func (e *KeyImportError) Unwrap() error {
	return e.Err
}

// KeyMismatchError is returned when a signature does not fill the space
// reserved for it in the image header.
type KeyMismatchError struct {
	// Reserved is the signature length recorded in the header
	Reserved int
	// Actual is the length of the produced signature
	Actual int
}

func (e *KeyMismatchError) Error() string {
	return fmt.Sprintf("signature is %d bytes but the image reserves %d", e.Actual, e.Reserved)
}

// PublicKeyBlobError represents a public key blob that cannot be decoded.
type PublicKeyBlobError struct {
	Offset int
	Reason string
}

func (e *PublicKeyBlobError) Error() string {
	return fmt.Sprintf("malformed public key blob at offset %d: %s", e.Offset, e.Reason)
}
