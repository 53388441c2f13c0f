// Package pipeline runs the image build end to end: parse, resolve, validate,
// pack, assemble, sign and write. Stages run sequentially and every input
// (source blob, signing key) is passed explicitly from one to the next.
package pipeline

import (
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/muurk/keycancel/internal/config"
	"github.com/muurk/keycancel/internal/image"
	"github.com/muurk/keycancel/internal/logging"
	"github.com/muurk/keycancel/internal/signing"
	"github.com/muurk/keycancel/internal/ui"
)

// Step numbers reported through the step callback
const (
	StepParse = iota + 1
	StepInput
	StepKey
	StepSections
	StepAssemble
	StepSign
	StepWrite
)

// StepNames lists the stage names in step order
var StepNames = []string{
	"Parse XML description",
	"Prepare input image",
	"Load signing key",
	"Resolve and validate sections",
	"Assemble image",
	"Sign image",
	"Write output",
}

// Result describes a completed build.
type Result struct {
	Output    string
	Header    image.Header
	Sections  int
	Signed    bool
	PublicKey []byte
	// Written is the number of bytes in the output file, public key blob included
	Written int
	SHA256  [sha256.Size]byte
	// Warnings collects recovered problems, e.g. an unusable signing key
	Warnings []string
}

// Build runs the pipeline for cfg. onStep may be nil.
func Build(cfg *config.Config, onStep ui.StepCallback) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if onStep == nil {
		onStep = func(int, string, ui.StepStatus, string) {}
	}

	b := &build{cfg: cfg, result: &Result{Output: cfg.Output}}
	stages := []struct {
		step int
		run  func() (string, error)
	}{
		{StepParse, b.parse},
		{StepInput, b.prepareInput},
		{StepKey, b.loadKey},
		{StepSections, b.resolveSections},
		{StepAssemble, b.assemble},
		{StepSign, b.sign},
		{StepWrite, b.write},
	}

	for _, s := range stages {
		onStep(s.step, "", ui.StepRunning, "")
		msg, err := s.run()
		if err != nil {
			onStep(s.step, "", ui.StepFailed, "")
			logging.Error("Image build failed",
				zap.String("stage", StepNames[s.step-1]),
				zap.Error(err),
			)
			return nil, err
		}
		status := ui.StepComplete
		if msg == skipped {
			status, msg = ui.StepSkipped, ""
		}
		onStep(s.step, "", status, msg)
	}

	return b.result, nil
}

// skipped is returned as a stage message when the stage has nothing to do
const skipped = "\x00skipped"

type build struct {
	cfg    *config.Config
	result *Result

	desc     *image.Descriptor
	blob     []byte
	key      *rsa.PrivateKey
	sigLen   int
	sections []image.PackedSection
	img      *image.Image
	sig      []byte
}

func (b *build) warn(msg string, err error) {
	text := msg
	if err != nil {
		text = fmt.Sprintf("%s: %v", msg, err)
	}
	b.result.Warnings = append(b.result.Warnings, text)
	logging.Warn(msg, zap.Error(err))
}

func (b *build) parse() (string, error) {
	desc, err := image.LoadDescriptor(b.cfg.XML)
	if err != nil {
		return "", err
	}
	b.desc = desc
	logging.Info("Parsed XML description",
		zap.String("version_id", desc.VersionID),
		zap.String("platform_id", desc.PlatformID),
		zap.Stringer("type", desc.Type),
		zap.Int("sections", len(desc.Sections)),
	)
	return fmt.Sprintf("%s, %d sections", desc.Type, len(desc.Sections)), nil
}

// prepareInput loads the source blob. A configured cancel key replaces the
// input image with the key's modulus; if that key cannot be loaded the
// InputImage file is used instead.
func (b *build) prepareInput() (string, error) {
	if b.cfg.CancelKey != "" {
		modulus, err := signing.ExportCancelModulus(b.cfg.CancelKey)
		if err == nil {
			if b.cfg.InputImage != "" {
				if err := signing.WriteCancelModulus(b.cfg.InputImage, modulus); err != nil {
					return "", err
				}
			}
			b.blob = modulus
			logging.Info("Exported cancel key modulus",
				zap.String("cancel_key", b.cfg.CancelKey),
				zap.Int("modulus_length", len(modulus)),
			)
			return fmt.Sprintf("cancel key modulus, %d bytes", len(modulus)), nil
		}
		b.warn("Failed to load the cancel key, using the input image", err)
	}

	if b.desc.Type != image.TypeKeyCancellation {
		return skipped, nil
	}
	if b.cfg.InputImage == "" {
		return "", &config.ConfigError{
			Key:    config.KeyInputImage,
			Reason: "an input image or cancel key is required for key cancellation images",
			Source: b.cfg.Source,
		}
	}

	blob, err := os.ReadFile(b.cfg.InputImage)
	if err != nil {
		return "", fmt.Errorf("failed to read input image %s: %w", b.cfg.InputImage, err)
	}
	b.blob = blob
	return fmt.Sprintf("%d bytes", len(blob)), nil
}

// loadKey loads the signing key. Any import failure downgrades the build
// to an unsigned image.
func (b *build) loadKey() (string, error) {
	if b.cfg.Key == "" {
		b.warn("No RSA private key provided in config, unsigned image will be generated", nil)
		return skipped, nil
	}

	key, err := signing.LoadKey(b.cfg.Key)
	if err != nil {
		var importErr *signing.KeyImportError
		if !errors.As(err, &importErr) {
			return "", err
		}
		b.warn("Unsigned image will be generated, provided RSA key could not be imported", err)
		return "unsigned", nil
	}

	b.key = key
	b.sigLen = signing.SignatureLength(&key.PublicKey)
	if b.cfg.KeySize != 0 && b.cfg.KeySize != b.sigLen {
		b.warn(fmt.Sprintf("KeySize %d does not match the %d byte key, using the key size", b.cfg.KeySize, b.sigLen), nil)
	}
	return fmt.Sprintf("%d-bit RSA", key.N.BitLen()), nil
}

func (b *build) resolveSections() (string, error) {
	if b.desc.Type != image.TypeKeyCancellation {
		return skipped, nil
	}

	sections, err := image.ExtractPayloads(b.desc, b.blob)
	if err != nil {
		return "", err
	}
	for i, s := range sections {
		logging.LogSection(i+1, s.WriteAddress, s.Payload)
	}
	if err := image.ValidateGeometry(sections); err != nil {
		return "", err
	}

	b.sections = image.PackSections(sections)
	return fmt.Sprintf("%d sections, %d bytes", len(b.sections), image.SectionsLength(b.sections)), nil
}

func (b *build) assemble() (string, error) {
	img, err := image.Assemble(b.desc, b.sections, b.sigLen)
	if err != nil {
		return "", err
	}
	b.img = img
	b.result.Header = img.Header
	b.result.Sections = len(img.Sections)

	logging.LogImageLayout(int(img.Header.HeaderLength), image.SectionsLength(img.Sections),
		int(img.Header.SignatureLength), int(img.Header.ImageLength))
	logging.LogRawBytes("Image header", img.Body[:img.Header.HeaderLength])
	return fmt.Sprintf("image length %d", img.Header.ImageLength), nil
}

func (b *build) sign() (string, error) {
	if b.key == nil {
		return skipped, nil
	}

	sig, err := signing.Sign(b.img.Body, b.key, b.sigLen)
	if err != nil {
		return "", err
	}
	pub, err := signing.EncodePublicKey(&b.key.PublicKey)
	if err != nil {
		return "", err
	}

	b.sig = sig
	b.result.Signed = true
	b.result.PublicKey = pub
	logging.Info("Image signed",
		zap.Int("signature_length", len(sig)),
		zap.Int("public_key_blob_length", len(pub)),
	)
	return fmt.Sprintf("%d byte signature", len(sig)), nil
}

func (b *build) write() (string, error) {
	data, err := image.WriteFile(b.cfg.Output, &b.img.Header, b.img.Body, b.sig, b.result.PublicKey)
	if err != nil {
		return "", err
	}

	b.result.Written = len(data)
	b.result.SHA256 = sha256.Sum256(data)
	logging.Info("Image written",
		zap.String("path", b.cfg.Output),
		zap.Int("bytes", len(data)),
	)
	return fmt.Sprintf("%d bytes", len(data)), nil
}
