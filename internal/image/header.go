package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Image header constants
const (
	// ImageMarker identifies an image header
	ImageMarker = 0xB6EAFD19
	// VersionIDFieldSize is the fixed size of the null-padded version field
	VersionIDFieldSize = 32
	// MaxVersionIDLength leaves room for at least one terminating null
	MaxVersionIDLength = VersionIDFieldSize - 1
	// MaxPlatformIDLength is bounded by the one byte length field, terminator included
	MaxPlatformIDLength = 255
	// HeaderFixedLength is the header size without the platform ID bytes
	HeaderFixedLength = 49
	// MaxImageSize bounds the signed image (header, sections and signature)
	MaxImageSize = 134217728
)

// Header is the image header that prefixes every image.
//
// Layout (little-endian):
//
//	[0-1]   header_length       HeaderFixedLength + platform_id_length
//	[2-3]   type                Image Type
//	[4-7]   marker              ImageMarker
//	[8-39]  version_id          Null-padded version string
//	[40-43] image_length        Header + sections + signature
//	[44-47] signature_length    0 for unsigned images
//	[48]    platform_id_length  Includes the null terminator
//	[49+]   platform_id         Null-terminated platform string
//
// The trailing public key blob is never counted in image_length.
type Header struct {
	HeaderLength    uint16
	Type            Type
	Marker          uint32
	VersionID       [VersionIDFieldSize]byte
	ImageLength     uint32
	SignatureLength uint32
	PlatformID      []byte
}

// EncodeVersionID returns the null-padded version field for v.
func EncodeVersionID(v string) ([VersionIDFieldSize]byte, error) {
	var field [VersionIDFieldSize]byte
	if len(v) > MaxVersionIDLength {
		return field, &VersionTooLongError{Version: v, Length: len(v)}
	}
	copy(field[:], v)
	return field, nil
}

// EncodePlatformID returns p followed by a single null terminator.
func EncodePlatformID(p string) ([]byte, error) {
	if len(p)+1 > MaxPlatformIDLength {
		return nil, &XMLShapeError{
			Element: "@" + xmlPlatformAttr,
			Reason:  fmt.Sprintf("platform ID is %d bytes (max %d)", len(p), MaxPlatformIDLength-1),
		}
	}
	encoded := make([]byte, 0, len(p)+1)
	encoded = append(encoded, p...)
	return append(encoded, 0), nil
}

// Version returns the version ID without null padding.
func (h *Header) Version() string {
	if i := bytes.IndexByte(h.VersionID[:], 0); i >= 0 {
		return string(h.VersionID[:i])
	}
	return string(h.VersionID[:])
}

// Platform returns the platform ID without its terminator.
func (h *Header) Platform() string {
	return string(bytes.TrimRight(h.PlatformID, "\x00"))
}

// MarshalBinary encodes the header. HeaderLength must agree with the
// platform ID length.
func (h *Header) MarshalBinary() ([]byte, error) {
	if len(h.PlatformID) > MaxPlatformIDLength {
		return nil, fmt.Errorf("platform ID field is %d bytes (max %d)", len(h.PlatformID), MaxPlatformIDLength)
	}
	size := HeaderFixedLength + len(h.PlatformID)
	if int(h.HeaderLength) != size {
		return nil, fmt.Errorf("header length %d does not match encoded size %d", h.HeaderLength, size)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf[0:2], h.HeaderLength)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(h.Type))
	binary.LittleEndian.PutUint32(buf[4:8], h.Marker)
	copy(buf[8:40], h.VersionID[:])
	binary.LittleEndian.PutUint32(buf[40:44], h.ImageLength)
	binary.LittleEndian.PutUint32(buf[44:48], h.SignatureLength)
	buf[48] = byte(len(h.PlatformID))
	copy(buf[HeaderFixedLength:], h.PlatformID)
	return buf, nil
}

// UnmarshalBinary decodes a header from the start of data.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderFixedLength {
		return &FormatError{Offset: 0, Reason: fmt.Sprintf("header needs %d bytes, have %d", HeaderFixedLength, len(data))}
	}

	h.HeaderLength = binary.LittleEndian.Uint16(data[0:2])
	h.Type = Type(binary.LittleEndian.Uint16(data[2:4]))
	h.Marker = binary.LittleEndian.Uint32(data[4:8])
	copy(h.VersionID[:], data[8:40])
	h.ImageLength = binary.LittleEndian.Uint32(data[40:44])
	h.SignatureLength = binary.LittleEndian.Uint32(data[44:48])
	platformLen := int(data[48])

	if h.Marker != ImageMarker {
		return &FormatError{Offset: 4, Reason: fmt.Sprintf("bad image marker 0x%08x", h.Marker)}
	}
	if int(h.HeaderLength) != HeaderFixedLength+platformLen {
		return &FormatError{Offset: 0, Reason: fmt.Sprintf("header length %d disagrees with platform ID length %d", h.HeaderLength, platformLen)}
	}
	if len(data) < int(h.HeaderLength) {
		return &FormatError{Offset: HeaderFixedLength, Reason: "platform ID truncated"}
	}

	h.PlatformID = append([]byte(nil), data[HeaderFixedLength:h.HeaderLength]...)
	return nil
}
