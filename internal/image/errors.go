package image

import (
	"fmt"
)

// XMLShapeError represents an XML description that is missing a required
// element or attribute, repeats one that must be unique, or carries a value
// that cannot be decoded.
type XMLShapeError struct {
	// Element is the tag or attribute at fault (e.g., "WriteAddress", "@type")
	Element string
	// Section is the 1-based CancellationSection index, 0 for the root element
	Section int
	// Reason describes what is wrong
	Reason string
	// Underlying error if any
	Err error
}

func (e *XMLShapeError) Error() string {
	where := "image root"
	if e.Section > 0 {
		where = fmt.Sprintf("CancellationSection %d", e.Section)
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid XML in %s, %s: %s: %v", where, e.Element, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid XML in %s, %s: %s", where, e.Element, e.Reason)
}

func (e *XMLShapeError) Unwrap() error {
	return e.Err
}

// EmptyImageError is returned when a key cancellation image has no sections.
type EmptyImageError struct{}

func (e *EmptyImageError) Error() string {
	return "key cancellation image must contain at least one CancellationSection"
}

// OverlapError represents a section whose write address does not lie past
// the last byte of the section before it.
type OverlapError struct {
	// Index is the 1-based position of the offending section
	Index int
	// Address is the offending section's write address
	Address uint32
	// PreviousEnd is the address of the previous section's last byte
	PreviousEnd int64
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("section %d write address 0x%08x overlaps previous section ending at 0x%08x",
		e.Index, e.Address, e.PreviousEnd)
}

// OutOfRangeError represents a region that reaches past the end of the
// source blob.
type OutOfRangeError struct {
	// Section is the 1-based section index
	Section int
	// Region is the 1-based region index within the section
	Region int
	// Start and End are the inclusive region bounds
	Start uint64
	End   uint64
	// BlobSize is the size of the source blob in bytes
	BlobSize int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("section %d region %d [0x%x, 0x%x] is outside the %d byte input image",
		e.Section, e.Region, e.Start, e.End, e.BlobSize)
}

// VersionTooLongError is returned when the version ID does not fit the
// 32 byte, null-terminated header field.
type VersionTooLongError struct {
	Version string
	Length  int
}

func (e *VersionTooLongError) Error() string {
	return fmt.Sprintf("version ID %q is %d bytes (max %d)", e.Version, e.Length, MaxVersionIDLength)
}

// UnsupportedTypeError is returned when sections are requested for an image
// type that has no section format.
type UnsupportedTypeError struct {
	Type Type
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("image type %s does not support sections", e.Type)
}

// ImageTooLargeError is returned when the assembled image exceeds MaxImageSize.
type ImageTooLargeError struct {
	// Size is the unsigned image size in bytes
	Size int
	// Limit is the largest unsigned size allowed for the reserved signature
	Limit int
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("generated image is too large: %d bytes (limit %d)", e.Size, e.Limit)
}

// FormatError represents a byte stream that does not decode as an image.
type FormatError struct {
	// Offset is the byte offset where decoding failed
	Offset int
	// Reason describes the problem
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed image at offset %d: %s", e.Offset, e.Reason)
}
