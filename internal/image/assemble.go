package image

import (
	"fmt"
)

// Image is an assembled, not yet signed image.
type Image struct {
	Header   Header
	Sections []PackedSection
	// Body is the serialized header followed by every packed section. Its
	// length is Header.ImageLength - Header.SignatureLength.
	Body []byte
}

// SectionsLength returns the total size of the packed sections.
func SectionsLength(sections []PackedSection) int {
	total := 0
	for i := range sections {
		total += sections[i].Len()
	}
	return total
}

// Assemble serializes the header and sections of desc into one buffer.
// sigLen is the number of signature bytes reserved at the end of the image
// (0 for an unsigned image); they are counted in ImageLength but not
// present in Body.
func Assemble(desc *Descriptor, sections []PackedSection, sigLen int) (*Image, error) {
	switch desc.Type {
	case TypeKeyCancellation:
		if len(sections) == 0 {
			return nil, &EmptyImageError{}
		}
	case TypeDecommission:
		if len(sections) > 0 {
			return nil, &UnsupportedTypeError{Type: desc.Type}
		}
	default:
		return nil, &XMLShapeError{Element: "@" + xmlTypeAttr, Reason: fmt.Sprintf("unsupported image type %d", uint16(desc.Type))}
	}
	if sigLen < 0 {
		return nil, fmt.Errorf("negative signature length %d", sigLen)
	}

	version, err := EncodeVersionID(desc.VersionID)
	if err != nil {
		return nil, err
	}
	platform, err := EncodePlatformID(desc.PlatformID)
	if err != nil {
		return nil, err
	}

	headerLen := HeaderFixedLength + len(platform)
	sectionsLen := SectionsLength(sections)
	imageLen := headerLen + sectionsLen + sigLen
	if imageLen > MaxImageSize {
		return nil, &ImageTooLargeError{Size: headerLen + sectionsLen, Limit: MaxImageSize - sigLen}
	}

	img := &Image{
		Header: Header{
			HeaderLength:    uint16(headerLen),
			Type:            desc.Type,
			Marker:          ImageMarker,
			VersionID:       version,
			ImageLength:     uint32(imageLen),
			SignatureLength: uint32(sigLen),
			PlatformID:      platform,
		},
		Sections: sections,
	}

	hdr, err := img.Header.MarshalBinary()
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, headerLen+sectionsLen)
	body = append(body, hdr...)
	for i := range sections {
		body = sections[i].AppendTo(body)
	}
	img.Body = body

	return img, nil
}
