package image

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleXML = `<?xml version="1.0"?>
<Image version="1.0.3" platform="PLAT-A" type="4">
  <CancellationSection>
    <WriteAddress>0x1000</WriteAddress>
    <Region>
      <StartAddr>0x0</StartAddr>
      <EndAddr>0x3</EndAddr>
    </Region>
    <Region>
      <StartAddr> 8 </StartAddr>
      <EndAddr>0B</EndAddr>
    </Region>
  </CancellationSection>
  <CancellationSection>
    <WriteAddress>2000</WriteAddress>
    <Region>
      <StartAddr>0x10</StartAddr>
      <EndAddr>0x10</EndAddr>
    </Region>
  </CancellationSection>
</Image>`

// TestParseDescriptor tests a well-formed key cancellation description
func TestParseDescriptor(t *testing.T) {
	desc, err := ParseDescriptor(strings.NewReader(sampleXML))
	if err != nil {
		t.Fatalf("ParseDescriptor failed: %v", err)
	}

	want := &Descriptor{
		VersionID:  "1.0.3",
		PlatformID: "PLAT-A",
		Type:       TypeKeyCancellation,
		Sections: []SectionDescriptor{
			{WriteAddress: 0x1000, Regions: []Region{{Start: 0, End: 3}, {Start: 8, End: 0xB}}},
			{WriteAddress: 0x2000, Regions: []Region{{Start: 0x10, End: 0x10}}},
		},
	}
	if diff := cmp.Diff(want, desc); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}
}

// TestParseDescriptorDecommission tests a type 5 image without sections
func TestParseDescriptorDecommission(t *testing.T) {
	desc, err := ParseDescriptor(strings.NewReader(`<Image version="2" platform="P" type="5"/>`))
	if err != nil {
		t.Fatalf("ParseDescriptor failed: %v", err)
	}
	if desc.Type != TypeDecommission {
		t.Errorf("Expected type %s, got %s", TypeDecommission, desc.Type)
	}
	if len(desc.Sections) != 0 {
		t.Errorf("Expected no sections, got %d", len(desc.Sections))
	}
}

// TestParseDescriptorErrors tests malformed descriptions
func TestParseDescriptorErrors(t *testing.T) {
	section := `<CancellationSection><WriteAddress>0</WriteAddress><Region><StartAddr>0</StartAddr><EndAddr>1</EndAddr></Region></CancellationSection>`

	tests := []struct {
		name    string
		xml     string
		element string
	}{
		{"not xml", `<Image`, "document"},
		{"missing version", `<Image platform="P" type="4">` + section + `</Image>`, "@version"},
		{"blank version", `<Image version="  " platform="P" type="4">` + section + `</Image>`, "@version"},
		{"missing platform", `<Image version="1" type="4">` + section + `</Image>`, "@platform"},
		{"bad type", `<Image version="1" platform="P" type="four">` + section + `</Image>`, "@type"},
		{"unknown type", `<Image version="1" platform="P" type="7">` + section + `</Image>`, "@type"},
		{
			"two write addresses",
			`<Image version="1" platform="P" type="4"><CancellationSection><WriteAddress>0</WriteAddress><WriteAddress>1</WriteAddress><Region><StartAddr>0</StartAddr><EndAddr>1</EndAddr></Region></CancellationSection></Image>`,
			"WriteAddress",
		},
		{
			"missing write address",
			`<Image version="1" platform="P" type="4"><CancellationSection><Region><StartAddr>0</StartAddr><EndAddr>1</EndAddr></Region></CancellationSection></Image>`,
			"WriteAddress",
		},
		{
			"write address too wide",
			`<Image version="1" platform="P" type="4"><CancellationSection><WriteAddress>0x100000000</WriteAddress><Region><StartAddr>0</StartAddr><EndAddr>1</EndAddr></Region></CancellationSection></Image>`,
			"WriteAddress",
		},
		{
			"no regions",
			`<Image version="1" platform="P" type="4"><CancellationSection><WriteAddress>0</WriteAddress></CancellationSection></Image>`,
			"Region",
		},
		{
			"missing end",
			`<Image version="1" platform="P" type="4"><CancellationSection><WriteAddress>0</WriteAddress><Region><StartAddr>0</StartAddr></Region></CancellationSection></Image>`,
			"Region/EndAddr",
		},
		{
			"bad start",
			`<Image version="1" platform="P" type="4"><CancellationSection><WriteAddress>0</WriteAddress><Region><StartAddr>zz</StartAddr><EndAddr>1</EndAddr></Region></CancellationSection></Image>`,
			"Region/StartAddr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDescriptor(strings.NewReader(tt.xml))
			var shapeErr *XMLShapeError
			if !errors.As(err, &shapeErr) {
				t.Fatalf("Expected *XMLShapeError, got %T: %v", err, err)
			}
			if shapeErr.Element != tt.element {
				t.Errorf("Expected element %q, got %q", tt.element, shapeErr.Element)
			}
		})
	}

	t.Run("no sections", func(t *testing.T) {
		_, err := ParseDescriptor(strings.NewReader(`<Image version="1" platform="P" type="4"/>`))
		var emptyErr *EmptyImageError
		if !errors.As(err, &emptyErr) {
			t.Errorf("Expected *EmptyImageError, got %T: %v", err, err)
		}
	})

	t.Run("decommission with sections", func(t *testing.T) {
		_, err := ParseDescriptor(strings.NewReader(`<Image version="1" platform="P" type="5">` + section + `</Image>`))
		var typeErr *UnsupportedTypeError
		if !errors.As(err, &typeErr) {
			t.Fatalf("Expected *UnsupportedTypeError, got %T: %v", err, err)
		}
		if typeErr.Type != TypeDecommission {
			t.Errorf("Expected type 5, got %d", typeErr.Type)
		}
	})

	t.Run("section index reported", func(t *testing.T) {
		bad := `<CancellationSection><WriteAddress>0x10</WriteAddress></CancellationSection>`
		_, err := ParseDescriptor(strings.NewReader(`<Image version="1" platform="P" type="4">` + section + bad + `</Image>`))
		var shapeErr *XMLShapeError
		if !errors.As(err, &shapeErr) {
			t.Fatalf("Expected *XMLShapeError, got %T", err)
		}
		if shapeErr.Section != 2 {
			t.Errorf("Expected section 2, got %d", shapeErr.Section)
		}
	})
}

// TestLoadDescriptor tests reading from disk
func TestLoadDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.xml")
	if err := os.WriteFile(path, []byte(sampleXML), 0644); err != nil {
		t.Fatal(err)
	}

	desc, err := LoadDescriptor(path)
	if err != nil {
		t.Fatalf("LoadDescriptor failed: %v", err)
	}
	if len(desc.Sections) != 2 {
		t.Errorf("Expected 2 sections, got %d", len(desc.Sections))
	}

	if _, err := LoadDescriptor(filepath.Join(t.TempDir(), "missing.xml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}

func TestTypeString(t *testing.T) {
	for typ, want := range map[Type]string{
		TypeKeyCancellation: "key-cancellation",
		TypeDecommission:    "decommission",
		Type(9):             "Type(9)",
	} {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", uint16(typ), got, want)
		}
	}
}
