package image

import (
	"fmt"
	"os"
)

// Parsed is an image decoded from its byte stream.
type Parsed struct {
	Header   Header
	Sections []PackedSection
	// Signed is the region covered by the signature (header and sections)
	Signed []byte
	// Signature is empty for unsigned images
	Signature []byte
	// PublicKey holds whatever follows image_length, normally the public key blob
	PublicKey []byte
}

// Parse decodes an emitted image.
func Parse(data []byte) (*Parsed, error) {
	p := &Parsed{}
	if err := p.Header.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	imageLen := int(p.Header.ImageLength)
	sigLen := int(p.Header.SignatureLength)
	if imageLen > len(data) {
		return nil, &FormatError{Offset: 40, Reason: fmt.Sprintf("image length %d exceeds file size %d", imageLen, len(data))}
	}
	if sigLen > imageLen-int(p.Header.HeaderLength) {
		return nil, &FormatError{Offset: 44, Reason: fmt.Sprintf("signature length %d does not fit image length %d", sigLen, imageLen)}
	}

	bodyEnd := imageLen - sigLen
	p.Signed = data[:bodyEnd]
	p.Signature = data[bodyEnd:imageLen]
	p.PublicKey = data[imageLen:]

	off := int(p.Header.HeaderLength)
	for off < bodyEnd {
		var sh SectionHeader
		if err := sh.UnmarshalBinary(data[off:bodyEnd]); err != nil {
			return nil, &FormatError{Offset: off, Reason: err.Error()}
		}
		if sh.Marker != SectionMarker {
			return nil, &FormatError{Offset: off + 4, Reason: fmt.Sprintf("bad section marker 0x%08x", sh.Marker)}
		}
		if sh.HeaderLength != SectionHeaderLength {
			return nil, &FormatError{Offset: off, Reason: fmt.Sprintf("unexpected section header length %d", sh.HeaderLength)}
		}
		start := off + int(sh.HeaderLength)
		end := start + int(sh.PayloadLength)
		if end > bodyEnd || end < start {
			return nil, &FormatError{Offset: off + 12, Reason: fmt.Sprintf("section payload of %d bytes overruns image", sh.PayloadLength)}
		}
		p.Sections = append(p.Sections, PackedSection{Header: sh, Payload: data[start:end]})
		off = end
	}

	return p, nil
}

// ParseFile reads and decodes the image at path.
func ParseFile(path string) (*Parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}
