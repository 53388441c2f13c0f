package image

import (
	"encoding/binary"
	"fmt"
)

// Section header constants
const (
	// SectionHeaderLength is the size of a key cancellation section header
	SectionHeaderLength = 18
	// SectionFormat is the only defined section header format
	SectionFormat = 0
	// SectionMarker identifies a section header
	SectionMarker = 0xF27F28D7
	// CancellationKeyType marks the payload as a BMC PFM cancellation key
	CancellationKeyType = 0x0103
)

// Section is a write operation with its payload resolved from the source blob.
type Section struct {
	WriteAddress uint32
	Payload      []byte
}

// SectionHeader is the fixed header preceding each section payload.
//
// Layout (little-endian):
//
//	[0-1]   header_length   Always SectionHeaderLength
//	[2-3]   format          Always SectionFormat
//	[4-7]   marker          SectionMarker
//	[8-11]  write_address   Flash address the payload is written to
//	[12-15] payload_length  Number of payload bytes that follow
//	[16-17] key_type        CancellationKeyType
type SectionHeader struct {
	HeaderLength  uint16
	Format        uint16
	Marker        uint32
	WriteAddress  uint32
	PayloadLength uint32
	KeyType       uint16
}

// PackedSection is a section header followed by its payload.
type PackedSection struct {
	Header  SectionHeader
	Payload []byte
}

// Len returns the number of bytes the section occupies in the image.
func (p *PackedSection) Len() int {
	return int(p.Header.HeaderLength) + int(p.Header.PayloadLength)
}

// ExtractPayload concatenates the inclusive byte ranges of desc from blob in
// declared order. A region with Start > End contributes no bytes. index is
// the 1-based section position used in error reports.
func ExtractPayload(index int, desc SectionDescriptor, blob []byte) (Section, error) {
	section := Section{WriteAddress: desc.WriteAddress}
	payload := make([]byte, 0)

	for i, r := range desc.Regions {
		if r.Start > r.End {
			continue
		}
		if r.End >= uint64(len(blob)) {
			return section, &OutOfRangeError{
				Section:  index,
				Region:   i + 1,
				Start:    r.Start,
				End:      r.End,
				BlobSize: len(blob),
			}
		}
		payload = append(payload, blob[r.Start:r.End+1]...)
	}

	section.Payload = payload
	return section, nil
}

// ExtractPayloads resolves every section of desc against blob.
func ExtractPayloads(desc *Descriptor, blob []byte) ([]Section, error) {
	sections := make([]Section, 0, len(desc.Sections))
	for i, s := range desc.Sections {
		section, err := ExtractPayload(i+1, s, blob)
		if err != nil {
			return nil, err
		}
		sections = append(sections, section)
	}
	return sections, nil
}

// PackSection builds the packed form of a section.
func PackSection(s Section) PackedSection {
	return PackedSection{
		Header: SectionHeader{
			HeaderLength:  SectionHeaderLength,
			Format:        SectionFormat,
			Marker:        SectionMarker,
			WriteAddress:  s.WriteAddress,
			PayloadLength: uint32(len(s.Payload)),
			KeyType:       CancellationKeyType,
		},
		Payload: s.Payload,
	}
}

// PackSections packs sections in order.
func PackSections(sections []Section) []PackedSection {
	packed := make([]PackedSection, 0, len(sections))
	for _, s := range sections {
		packed = append(packed, PackSection(s))
	}
	return packed
}

// MarshalBinary encodes the section header.
func (h SectionHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SectionHeaderLength)
	binary.LittleEndian.PutUint16(buf[0:2], h.HeaderLength)
	binary.LittleEndian.PutUint16(buf[2:4], h.Format)
	binary.LittleEndian.PutUint32(buf[4:8], h.Marker)
	binary.LittleEndian.PutUint32(buf[8:12], h.WriteAddress)
	binary.LittleEndian.PutUint32(buf[12:16], h.PayloadLength)
	binary.LittleEndian.PutUint16(buf[16:18], h.KeyType)
	return buf, nil
}

// UnmarshalBinary decodes a section header from the first
// SectionHeaderLength bytes of data.
func (h *SectionHeader) UnmarshalBinary(data []byte) error {
	if len(data) < SectionHeaderLength {
		return fmt.Errorf("section header too short: %d bytes (need %d)", len(data), SectionHeaderLength)
	}
	h.HeaderLength = binary.LittleEndian.Uint16(data[0:2])
	h.Format = binary.LittleEndian.Uint16(data[2:4])
	h.Marker = binary.LittleEndian.Uint32(data[4:8])
	h.WriteAddress = binary.LittleEndian.Uint32(data[8:12])
	h.PayloadLength = binary.LittleEndian.Uint32(data[12:16])
	h.KeyType = binary.LittleEndian.Uint16(data[16:18])
	return nil
}

// AppendTo appends the header and payload to buf.
func (p *PackedSection) AppendTo(buf []byte) []byte {
	hdr, _ := p.Header.MarshalBinary()
	buf = append(buf, hdr...)
	return append(buf, p.Payload...)
}
