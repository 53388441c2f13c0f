package image

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// Type identifies the kind of image being generated.
type Type uint16

const (
	// TypeKeyCancellation revokes keys by writing sections at fixed addresses
	TypeKeyCancellation Type = 4
	// TypeDecommission is a header-only image
	TypeDecommission Type = 5
)

// String returns a human-readable name for the image type
func (t Type) String() string {
	switch t {
	case TypeKeyCancellation:
		return "key-cancellation"
	case TypeDecommission:
		return "decommission"
	default:
		return fmt.Sprintf("Type(%d)", uint16(t))
	}
}

// Region is an inclusive byte range into the source blob.
type Region struct {
	Start uint64
	End   uint64
}

// SectionDescriptor describes one write operation: where to write and which
// bytes of the source blob to write there.
type SectionDescriptor struct {
	WriteAddress uint32
	Regions      []Region
}

// Descriptor is the parsed form of the XML image description.
type Descriptor struct {
	VersionID  string
	PlatformID string
	Type       Type
	Sections   []SectionDescriptor
}

// XML tag and attribute names
const (
	xmlVersionAttr     = "version"
	xmlPlatformAttr    = "platform"
	xmlTypeAttr        = "type"
	xmlWriteAddressTag = "WriteAddress"
	xmlRegionTag       = "Region"
	xmlStartAddrTag    = "StartAddr"
	xmlEndAddrTag      = "EndAddr"
)

type xmlImage struct {
	XMLName  xml.Name
	Version  string       `xml:"version,attr"`
	Platform string       `xml:"platform,attr"`
	Type     string       `xml:"type,attr"`
	Sections []xmlSection `xml:"CancellationSection"`
}

type xmlSection struct {
	WriteAddress []string    `xml:"WriteAddress"`
	Regions      []xmlRegion `xml:"Region"`
}

type xmlRegion struct {
	StartAddr []string `xml:"StartAddr"`
	EndAddr   []string `xml:"EndAddr"`
}

// LoadDescriptor reads and parses the XML image description at path.
func LoadDescriptor(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open XML description %s: %w", path, err)
	}
	defer f.Close()

	desc, err := ParseDescriptor(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return desc, nil
}

// ParseDescriptor decodes an XML image description.
//
// The root element name is not checked; only its version, platform and type
// attributes and its direct CancellationSection children are read. Values
// are whitespace-trimmed. Addresses are hexadecimal with an optional 0x
// prefix.
func ParseDescriptor(r io.Reader) (*Descriptor, error) {
	var doc xmlImage
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &XMLShapeError{Element: "document", Reason: "not well-formed", Err: err}
	}

	desc := &Descriptor{
		VersionID:  strings.TrimSpace(doc.Version),
		PlatformID: strings.TrimSpace(doc.Platform),
	}

	if desc.VersionID == "" {
		return nil, &XMLShapeError{Element: "@" + xmlVersionAttr, Reason: "no image version ID provided"}
	}
	if !isPrintable(desc.VersionID) {
		return nil, &XMLShapeError{Element: "@" + xmlVersionAttr, Reason: "version ID must be printable"}
	}
	if desc.PlatformID == "" {
		return nil, &XMLShapeError{Element: "@" + xmlPlatformAttr, Reason: "no platform ID provided"}
	}
	if !isPrintable(desc.PlatformID) {
		return nil, &XMLShapeError{Element: "@" + xmlPlatformAttr, Reason: "platform ID must be printable"}
	}

	typ, err := strconv.ParseUint(strings.TrimSpace(doc.Type), 10, 16)
	if err != nil {
		return nil, &XMLShapeError{Element: "@" + xmlTypeAttr, Reason: fmt.Sprintf("invalid image type %q", doc.Type), Err: err}
	}
	desc.Type = Type(typ)

	switch desc.Type {
	case TypeKeyCancellation:
		if len(doc.Sections) == 0 {
			return nil, &EmptyImageError{}
		}
		for i, s := range doc.Sections {
			section, err := parseSection(i+1, s)
			if err != nil {
				return nil, err
			}
			desc.Sections = append(desc.Sections, section)
		}
	case TypeDecommission:
		if len(doc.Sections) > 0 {
			return nil, &UnsupportedTypeError{Type: desc.Type}
		}
	default:
		return nil, &XMLShapeError{Element: "@" + xmlTypeAttr, Reason: fmt.Sprintf("unsupported image type %d", typ)}
	}

	return desc, nil
}

func parseSection(index int, s xmlSection) (SectionDescriptor, error) {
	var section SectionDescriptor

	if len(s.WriteAddress) != 1 {
		return section, &XMLShapeError{
			Element: xmlWriteAddressTag,
			Section: index,
			Reason:  fmt.Sprintf("expected exactly one tag, found %d", len(s.WriteAddress)),
		}
	}
	addr, err := parseHex(s.WriteAddress[0], 32)
	if err != nil {
		return section, &XMLShapeError{Element: xmlWriteAddressTag, Section: index, Reason: "invalid address", Err: err}
	}
	section.WriteAddress = uint32(addr)

	if len(s.Regions) == 0 {
		return section, &XMLShapeError{Element: xmlRegionTag, Section: index, Reason: "at least one region is required"}
	}

	for _, r := range s.Regions {
		start, err := parseRegionBound(index, xmlStartAddrTag, r.StartAddr)
		if err != nil {
			return section, err
		}
		end, err := parseRegionBound(index, xmlEndAddrTag, r.EndAddr)
		if err != nil {
			return section, err
		}
		section.Regions = append(section.Regions, Region{Start: start, End: end})
	}

	return section, nil
}

func parseRegionBound(section int, tag string, values []string) (uint64, error) {
	if len(values) != 1 {
		return 0, &XMLShapeError{
			Element: xmlRegionTag + "/" + tag,
			Section: section,
			Reason:  fmt.Sprintf("expected exactly one tag, found %d", len(values)),
		}
	}
	v, err := parseHex(values[0], 64)
	if err != nil {
		return 0, &XMLShapeError{Element: xmlRegionTag + "/" + tag, Section: section, Reason: "invalid address", Err: err}
	}
	return v, nil
}

// parseHex parses a hexadecimal number with an optional 0x prefix.
func parseHex(s string, bits int) (uint64, error) {
	s = strings.TrimSpace(s)
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return strconv.ParseUint(s, 16, bits)
}

func isPrintable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
