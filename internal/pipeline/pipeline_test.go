package pipeline

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/muurk/keycancel/internal/config"
	"github.com/muurk/keycancel/internal/image"
	"github.com/muurk/keycancel/internal/logging"
	"github.com/muurk/keycancel/internal/signing"
	"github.com/muurk/keycancel/internal/ui"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func rsaKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("GenerateKey failed: %v", err)
		}
		testKey = k
	})
	return testKey
}

// fixture is a temporary build directory
type fixture struct {
	t   *testing.T
	dir string
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, dir: t.TempDir()}
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.dir, name)
}

func (f *fixture) write(name string, data []byte) string {
	f.t.Helper()
	p := f.path(name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		f.t.Fatal(err)
	}
	return p
}

func (f *fixture) signingKey() string {
	f.t.Helper()
	der := x509.MarshalPKCS1PrivateKey(rsaKey(f.t))
	return f.write("sign.pem", pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}))
}

// section is one CancellationSection: a write address and start/end pairs
type section struct {
	addr    uint32
	regions [][2]uint64
}

func descriptionXML(version, platform string, typ int, sections ...section) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "<Image version=%q platform=%q type=\"%d\">\n", version, platform, typ)
	for _, s := range sections {
		fmt.Fprintf(&b, "  <CancellationSection>\n    <WriteAddress>0x%X</WriteAddress>\n", s.addr)
		for _, r := range s.regions {
			fmt.Fprintf(&b, "    <Region><StartAddr>0x%X</StartAddr><EndAddr>0x%X</EndAddr></Region>\n", r[0], r[1])
		}
		b.WriteString("  </CancellationSection>\n")
	}
	b.WriteString("</Image>\n")
	return []byte(b.String())
}

func inputBlob(n int) []byte {
	blob := make([]byte, n)
	for i := range blob {
		blob[i] = byte(0xA0 + i)
	}
	return blob
}

// observe routes package logging to an observer for the duration of the test
func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(zap.NewNop()) })
	return logs
}

// TestBuildUnsigned tests a single section image without a signing key
func TestBuildUnsigned(t *testing.T) {
	f := newFixture(t)
	cfg := &config.Config{
		XML:        f.write("image.xml", descriptionXML("1.0", "P1", 4, section{0x1000, [][2]uint64{{0x0, 0xF}}})),
		InputImage: f.write("input.bin", inputBlob(256)),
		Output:     f.path("out.img"),
	}

	res, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	data, err := os.ReadFile(cfg.Output)
	if err != nil {
		t.Fatal(err)
	}
	// header 49 + "P1\0", one section header, 16 payload bytes
	wantLen := 49 + 3 + 18 + 16
	if len(data) != wantLen {
		t.Fatalf("Expected %d bytes, got %d", wantLen, len(data))
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != image.ImageMarker {
		t.Errorf("Expected marker 0x%08X at offset 4, got 0x%08X", image.ImageMarker, got)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != uint32(wantLen) {
		t.Errorf("Expected image_length %d, got %d", wantLen, got)
	}
	if got := binary.LittleEndian.Uint32(data[44:48]); got != 0 {
		t.Errorf("Expected signature_length 0, got %d", got)
	}
	if !bytes.Equal(data[wantLen-16:], inputBlob(16)) {
		t.Errorf("Payload mismatch: % x", data[wantLen-16:])
	}

	if res.Signed {
		t.Error("Expected unsigned result")
	}
	if res.Written != wantLen {
		t.Errorf("Expected %d bytes written, got %d", wantLen, res.Written)
	}
	if res.SHA256 != sha256.Sum256(data) {
		t.Error("SHA256 does not match file contents")
	}
	if res.Sections != 1 {
		t.Errorf("Expected 1 section, got %d", res.Sections)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("Expected a missing key warning, got %v", res.Warnings)
	}
}

// TestBuildSigned tests a 2048-bit signed image with its public key blob
func TestBuildSigned(t *testing.T) {
	f := newFixture(t)
	cfg := &config.Config{
		XML: f.write("image.xml", descriptionXML("2.1.0", "PLATFORM", 4,
			section{0x0, [][2]uint64{{0, 3}, {8, 11}}},
			section{0x100, [][2]uint64{{16, 31}}},
		)),
		InputImage: f.write("input.bin", inputBlob(32)),
		Key:        f.signingKey(),
		KeySize:    256,
		Output:     f.path("signed.img"),
	}

	res, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !res.Signed {
		t.Fatal("Expected signed result")
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", res.Warnings)
	}

	data, err := os.ReadFile(cfg.Output)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := image.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if parsed.Header.SignatureLength != 256 {
		t.Errorf("Expected signature_length 256, got %d", parsed.Header.SignatureLength)
	}
	bodyLen := 49 + 9 + (18 + 8) + (18 + 16)
	if int(parsed.Header.ImageLength) != bodyLen+256 {
		t.Errorf("Expected image_length %d, got %d", bodyLen+256, parsed.Header.ImageLength)
	}
	if len(parsed.Signed) != bodyLen {
		t.Errorf("Expected %d signed bytes, got %d", bodyLen, len(parsed.Signed))
	}
	if got := binary.LittleEndian.Uint16(parsed.PublicKey[0:2]); got != 256 {
		t.Errorf("Expected modulus_length 256, got %d", got)
	}

	pub, err := signing.DecodePublicKey(parsed.PublicKey)
	if err != nil {
		t.Fatalf("DecodePublicKey failed: %v", err)
	}
	if !pub.Equal(&rsaKey(t).PublicKey) {
		t.Error("Appended public key does not match the signing key")
	}
	if err := signing.Verify(parsed.Signed, parsed.Signature, pub); err != nil {
		t.Errorf("Signature does not verify: %v", err)
	}

	want := [][]byte{
		append(inputBlob(32)[0:4:4], inputBlob(32)[8:12]...),
		inputBlob(32)[16:32],
	}
	for i, s := range parsed.Sections {
		if diff := cmp.Diff(want[i], s.Payload); diff != "" {
			t.Errorf("section %d payload mismatch (-want +got):\n%s", i+1, diff)
		}
	}
}

// TestBuildIdempotent tests that identical inputs give identical output
func TestBuildIdempotent(t *testing.T) {
	f := newFixture(t)
	cfg := &config.Config{
		XML:        f.write("image.xml", descriptionXML("3", "P", 4, section{0x20, [][2]uint64{{0, 7}}})),
		InputImage: f.write("input.bin", inputBlob(8)),
		Key:        f.signingKey(),
		Output:     f.path("a.img"),
	}

	first, err := Build(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Output = f.path("b.img")
	second, err := Build(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := os.ReadFile(f.path("a.img"))
	b, _ := os.ReadFile(f.path("b.img"))
	if !bytes.Equal(a, b) {
		t.Error("Expected byte-identical output")
	}
	if first.SHA256 != second.SHA256 {
		t.Error("Expected identical digests")
	}
}

// TestBuildOverlap tests that overlapping sections fail before anything is written
func TestBuildOverlap(t *testing.T) {
	f := newFixture(t)
	cfg := &config.Config{
		XML: f.write("image.xml", descriptionXML("1", "P", 4,
			section{0x1000, [][2]uint64{{0, 15}}},
			section{0x1005, [][2]uint64{{0, 1}}},
		)),
		InputImage: f.write("input.bin", inputBlob(16)),
		Key:        f.signingKey(),
		Output:     f.path("out.img"),
	}

	_, err := Build(cfg, nil)
	var overlapErr *image.OverlapError
	if !errors.As(err, &overlapErr) {
		t.Fatalf("Expected *OverlapError, got %T: %v", err, err)
	}
	if overlapErr.Index != 2 || overlapErr.PreviousEnd != 0x100F {
		t.Errorf("Unexpected overlap details: %+v", overlapErr)
	}
	if _, err := os.Stat(cfg.Output); !os.IsNotExist(err) {
		t.Errorf("Expected no output file, stat returned %v", err)
	}
}

// TestBuildKeyImportFailure tests the unsigned fallback for an unusable key
func TestBuildKeyImportFailure(t *testing.T) {
	logs := observe(t)
	f := newFixture(t)
	cfg := &config.Config{
		XML:        f.write("image.xml", descriptionXML("1", "P", 4, section{0, [][2]uint64{{0, 3}}})),
		InputImage: f.write("input.bin", inputBlob(4)),
		Key:        f.write("bad.pem", []byte("-----BEGIN NOTHING-----\n")),
		Output:     f.path("out.img"),
	}

	res, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if res.Signed {
		t.Error("Expected unsigned result")
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("Expected one warning, got %v", res.Warnings)
	}

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	if len(warnings) != 1 {
		t.Fatalf("Expected one logged warning, got %d", len(warnings))
	}
	if !strings.Contains(warnings[0].Message, "Unsigned image") {
		t.Errorf("Unexpected warning message %q", warnings[0].Message)
	}

	data, _ := os.ReadFile(cfg.Output)
	if got := binary.LittleEndian.Uint32(data[44:48]); got != 0 {
		t.Errorf("Expected signature_length 0, got %d", got)
	}
	if len(data) != 49+2+18+4 {
		t.Errorf("Expected no public key blob, file is %d bytes", len(data))
	}
}

// TestBuildKeySizeMismatch tests that the loaded key overrides KeySize
func TestBuildKeySizeMismatch(t *testing.T) {
	f := newFixture(t)
	cfg := &config.Config{
		XML:        f.write("image.xml", descriptionXML("1", "P", 4, section{0, [][2]uint64{{0, 3}}})),
		InputImage: f.write("input.bin", inputBlob(4)),
		Key:        f.signingKey(),
		KeySize:    128,
		Output:     f.path("out.img"),
	}

	res, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if res.Header.SignatureLength != 256 {
		t.Errorf("Expected signature_length 256, got %d", res.Header.SignatureLength)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "KeySize 128") {
		t.Errorf("Expected a KeySize warning, got %v", res.Warnings)
	}
}

// TestBuildCancelKey tests sections taken from a cancelled key's modulus
func TestBuildCancelKey(t *testing.T) {
	f := newFixture(t)
	key := rsaKey(t)
	pkix, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		XML:        f.write("image.xml", descriptionXML("1", "P", 4, section{0x800, [][2]uint64{{0, 0xFF}}})),
		CancelKey:  f.write("old.pem", pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkix})),
		InputImage: f.path("modulus.bin"),
		Output:     f.path("out.img"),
	}

	if _, err := Build(cfg, nil); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	modulus, err := os.ReadFile(cfg.InputImage)
	if err != nil {
		t.Fatalf("Expected exported modulus at %s: %v", cfg.InputImage, err)
	}
	if !bytes.Equal(modulus, key.N.Bytes()) {
		t.Error("Exported modulus does not match the cancel key")
	}

	parsed, err := image.ParseFile(cfg.Output)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(parsed.Sections[0].Payload, key.N.Bytes()) {
		t.Error("Section payload is not the cancel key modulus")
	}
}

// TestBuildCancelKeyFallback tests falling back to the input image
func TestBuildCancelKeyFallback(t *testing.T) {
	f := newFixture(t)
	cfg := &config.Config{
		XML:        f.write("image.xml", descriptionXML("1", "P", 4, section{0, [][2]uint64{{0, 3}}})),
		CancelKey:  f.path("missing.pem"),
		InputImage: f.write("input.bin", inputBlob(4)),
		Output:     f.path("out.img"),
	}

	res, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("Expected cancel key and signing key warnings, got %v", res.Warnings)
	}
	parsed, err := image.ParseFile(cfg.Output)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(parsed.Sections[0].Payload, inputBlob(4)) {
		t.Error("Expected payload from the input image")
	}
}

// TestBuildDecommission tests a header-only image
func TestBuildDecommission(t *testing.T) {
	f := newFixture(t)
	cfg := &config.Config{
		XML:    f.write("image.xml", descriptionXML("9.9", "P", 5)),
		Key:    f.signingKey(),
		Output: f.path("decom.img"),
	}

	var statuses []ui.StepStatus
	res, err := Build(cfg, func(step int, _ string, status ui.StepStatus, _ string) {
		if status != ui.StepRunning {
			statuses = append(statuses, status)
		}
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []ui.StepStatus{
		ui.StepComplete, // parse
		ui.StepSkipped,  // input
		ui.StepComplete, // key
		ui.StepSkipped,  // sections
		ui.StepComplete, // assemble
		ui.StepComplete, // sign
		ui.StepComplete, // write
	}
	if diff := cmp.Diff(want, statuses); diff != "" {
		t.Errorf("step statuses mismatch (-want +got):\n%s", diff)
	}

	if res.Header.Type != image.TypeDecommission {
		t.Errorf("Expected decommission type, got %s", res.Header.Type)
	}
	if int(res.Header.ImageLength) != 49+2+256 {
		t.Errorf("Expected image_length %d, got %d", 49+2+256, res.Header.ImageLength)
	}
}

// TestBuildErrors tests failures that stop the build
func TestBuildErrors(t *testing.T) {
	t.Run("missing input", func(t *testing.T) {
		f := newFixture(t)
		cfg := &config.Config{
			XML:    f.write("image.xml", descriptionXML("1", "P", 4, section{0, [][2]uint64{{0, 3}}})),
			Output: f.path("out.img"),
		}
		_, err := Build(cfg, nil)
		var cfgErr *config.ConfigError
		if !errors.As(err, &cfgErr) || cfgErr.Key != config.KeyInputImage {
			t.Errorf("Expected InputImage ConfigError, got %v", err)
		}
	})

	t.Run("region past input", func(t *testing.T) {
		f := newFixture(t)
		cfg := &config.Config{
			XML:        f.write("image.xml", descriptionXML("1", "P", 4, section{0, [][2]uint64{{0, 8}}})),
			InputImage: f.write("input.bin", inputBlob(8)),
			Output:     f.path("out.img"),
		}
		var rangeErr *image.OutOfRangeError
		if _, err := Build(cfg, nil); !errors.As(err, &rangeErr) {
			t.Errorf("Expected *OutOfRangeError, got %v", err)
		}
	})

	t.Run("version too long", func(t *testing.T) {
		f := newFixture(t)
		cfg := &config.Config{
			XML:        f.write("image.xml", descriptionXML(strings.Repeat("1", 32), "P", 4, section{0, [][2]uint64{{0, 0}}})),
			InputImage: f.write("input.bin", inputBlob(1)),
			Output:     f.path("out.img"),
		}
		var versionErr *image.VersionTooLongError
		if _, err := Build(cfg, nil); !errors.As(err, &versionErr) {
			t.Errorf("Expected *VersionTooLongError, got %v", err)
		}
		if _, err := os.Stat(cfg.Output); !os.IsNotExist(err) {
			t.Error("Expected no output file")
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		var cfgErr *config.ConfigError
		if _, err := Build(&config.Config{Output: "x"}, nil); !errors.As(err, &cfgErr) {
			t.Errorf("Expected *ConfigError, got %v", err)
		}
	})
}
