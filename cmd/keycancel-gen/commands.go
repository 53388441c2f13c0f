package main

import (
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/keycancel/internal/config"
	"github.com/muurk/keycancel/internal/image"
	"github.com/muurk/keycancel/internal/logging"
	"github.com/muurk/keycancel/internal/pipeline"
	"github.com/muurk/keycancel/internal/signing"
	"github.com/muurk/keycancel/internal/ui"
)

// Build flags, shared by the root command and 'build'
var overrides config.Config

// verify flags
var verifyKey string

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&overrides.Output, "output", "o", "", "Output image path (Output)")
	cmd.Flags().StringVarP(&overrides.XML, "xml", "x", "", "XML image description (Xml)")
	cmd.Flags().StringVar(&overrides.InputImage, "input", "", "Input image the section regions are read from (InputImage)")
	cmd.Flags().StringVarP(&overrides.Key, "key", "k", "", "RSA private key used to sign the image (Key)")
	cmd.Flags().StringVar(&overrides.CancelKey, "cancel-key", "", "Key whose modulus is cancelled (Cancel_Key)")
	cmd.Flags().IntVar(&overrides.KeySize, "key-size", 0, "Expected signing key size in bytes (KeySize)")
}

func init() {
	addBuildFlags(buildCmd)
	verifyCmd.Flags().StringVarP(&verifyKey, "key", "k", "", "Verify with this key instead of the appended public key")
}

// buildCmd implements the 'build' command
var buildCmd = &cobra.Command{
	Use:   "build [config]",
	Short: "Build an image from a configuration file",
	Long: `Build a key cancellation or decommission image.

This command will:
  1. Parse the XML image description
  2. Load the input image, or export the modulus of the cancel key
  3. Load the RSA signing key (an unusable key yields an unsigned image)
  4. Resolve section payloads and check they do not overlap
  5. Assemble the header and sections
  6. Sign the image and encode the public key
  7. Write the output file

Nothing is written unless every step succeeds.`,
	Example: `  # Build with the default configuration file
  keycancel-gen build

  # Build a YAML configured image, overriding the output path
  keycancel-gen build cancel.yaml --output /tmp/cancel.img`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := resolveConfig(args)
	if err != nil {
		ui.NewPrinter(cmd.OutOrStdout()).PrintFailure("Configuration failed", err, troubleshoot(err))
		return err
	}

	params := []ui.Detail{
		{Key: "Config", Value: orNone(cfg.Source)},
		{Key: "Xml", Value: cfg.XML},
		{Key: "Output", Value: cfg.Output},
		{Key: "Input", Value: orNone(cfg.InputImage)},
		{Key: "Key", Value: orNone(cfg.Key)},
	}
	if cfg.CancelKey != "" {
		params = append(params, ui.Detail{Key: "Cancel key", Value: cfg.CancelKey})
	}

	runner := ui.NewRunner(ui.RunnerConfig{
		Title:        "Image Build",
		Command:      cmd.CommandPath(),
		Params:       params,
		StepNames:    pipeline.StepNames,
		Output:       cmd.OutOrStdout(),
		Troubleshoot: troubleshoot,
	})

	return runner.Run(func(onStep ui.StepCallback) (*ui.Outcome, error) {
		res, err := pipeline.Build(cfg, onStep)
		if err != nil {
			return nil, err
		}

		signature := "unsigned"
		if res.Signed {
			signature = fmt.Sprintf("%d bytes", res.Header.SignatureLength)
		}
		return &ui.Outcome{
			Details: []ui.Detail{
				{Key: "Output", Value: res.Output},
				{Key: "Type", Value: res.Header.Type.String()},
				{Key: "Version", Value: res.Header.Version()},
				{Key: "Platform", Value: res.Header.Platform()},
				{Key: "Sections", Value: strconv.Itoa(res.Sections)},
				{Key: "Image length", Value: strconv.Itoa(int(res.Header.ImageLength))},
				{Key: "Signature", Value: signature},
				{Key: "File size", Value: strconv.Itoa(res.Written)},
				{Key: "SHA-256", Value: hex.EncodeToString(res.SHA256[:])},
			},
			Warnings: res.Warnings,
		}, nil
	})
}

// resolveConfig loads the configuration file and applies flag overrides.
// A missing default file is not an error when flags supply the settings.
func resolveConfig(args []string) (*config.Config, error) {
	cfg := &config.Config{}

	if len(args) > 0 {
		loaded, err := config.Load(args[0])
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		path, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		loaded, err := config.Load(path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, fs.ErrNotExist):
			logging.Debug("Default configuration file not found", zap.String("path", path))
		default:
			return nil, err
		}
	}

	cfg.Merge(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// troubleshoot returns tips for the failure box
func troubleshoot(err error) []string {
	var (
		cfgErr      *config.ConfigError
		shapeErr    *image.XMLShapeError
		emptyErr    *image.EmptyImageError
		overlapErr  *image.OverlapError
		rangeErr    *image.OutOfRangeError
		versionErr  *image.VersionTooLongError
		typeErr     *image.UnsupportedTypeError
		sizeErr     *image.ImageTooLargeError
		formatErr   *image.FormatError
		mismatchErr *signing.KeyMismatchError
		blobErr     *signing.PublicKeyBlobError
		keyErr      *signing.KeyImportError
	)

	switch {
	case errors.As(err, &cfgErr):
		return []string{
			"Pass a configuration file: keycancel-gen build path/to/file.config",
			"Or set values with flags: --xml, --output, --input, --key",
			"Keys are case sensitive: Output, InputImage, KeySize, Key, Xml, Cancel_Key",
		}
	case errors.As(err, &shapeErr):
		return []string{
			"The root element needs version, platform and type attributes",
			"Each CancellationSection needs one WriteAddress and at least one Region",
			"Each Region needs one StartAddr and one EndAddr, in hex",
		}
	case errors.As(err, &emptyErr):
		return []string{"Add at least one CancellationSection, or use type 5 for a decommission image"}
	case errors.As(err, &overlapErr):
		return []string{
			"List sections in ascending WriteAddress order",
			"A section's WriteAddress must be past the last byte written by the previous section",
		}
	case errors.As(err, &rangeErr):
		return []string{
			"Region addresses are byte offsets into the input image",
			fmt.Sprintf("The input image is %d bytes, EndAddr must be below that", rangeErr.BlobSize),
		}
	case errors.As(err, &versionErr):
		return []string{fmt.Sprintf("Shorten the version attribute to %d bytes or fewer", image.MaxVersionIDLength)}
	case errors.As(err, &typeErr):
		return []string{"Decommission images (type 5) carry no sections, remove the CancellationSection elements"}
	case errors.As(err, &sizeErr):
		return []string{"Reduce the number or size of regions"}
	case errors.As(err, &mismatchErr):
		return []string{"Set KeySize to the signing key's modulus length in bytes, or remove it"}
	case errors.As(err, &formatErr), errors.As(err, &blobErr):
		return []string{
			"The file is not an image produced by keycancel-gen, or it is truncated",
			"Run with --log-level debug for details",
		}
	case errors.As(err, &keyErr):
		return []string{
			"Keys must be RSA, PEM (PKCS#1, PKCS#8) or OpenSSH encoded",
			"Passphrase protected keys are not supported",
		}
	}
	return []string{"Run with --log-level debug for details"}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// inspectCmd implements the 'inspect' command
var inspectCmd = &cobra.Command{
	Use:   "inspect <image>",
	Short: "Show the header and sections of an image",
	Example: `  keycancel-gen inspect cancel.img`,
	Args:    cobra.ExactArgs(1),
	RunE:    runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Image Layout", cmd.CommandPath(), []ui.Detail{{Key: "Image", Value: args[0]}})

	parsed, err := image.ParseFile(args[0])
	if err != nil {
		p.PrintFailure("Inspect failed", err, troubleshoot(err))
		return err
	}

	h := parsed.Header
	header := ui.NewTable("Header", "Field", "Value").
		AddRow("header_length", strconv.Itoa(int(h.HeaderLength))).
		AddRow("type", fmt.Sprintf("%d (%s)", uint16(h.Type), h.Type)).
		AddRow("marker", fmt.Sprintf("0x%08X", h.Marker)).
		AddRow("version_id", h.Version()).
		AddRow("image_length", strconv.Itoa(int(h.ImageLength))).
		AddRow("signature_length", strconv.Itoa(int(h.SignatureLength))).
		AddRow("platform_id", h.Platform())
	p.PrintTable(header)

	if len(parsed.Sections) > 0 {
		sections := ui.NewTable("Sections", "#", "Write address", "Length", "Key type")
		for i, s := range parsed.Sections {
			sections.AddRow(
				strconv.Itoa(i+1),
				fmt.Sprintf("0x%08X", s.Header.WriteAddress),
				strconv.Itoa(int(s.Header.PayloadLength)),
				fmt.Sprintf("0x%04X", s.Header.KeyType),
			)
		}
		p.PrintTable(sections)
	}

	if len(parsed.PublicKey) > 0 {
		pub, err := signing.DecodePublicKey(parsed.PublicKey)
		if err != nil {
			p.PrintFailure("Inspect failed", err, troubleshoot(err))
			return err
		}
		p.PrintTable(ui.NewTable("Public key", "Field", "Value").
			AddRow("modulus_length", strconv.Itoa(pub.Size())).
			AddRow("bits", strconv.Itoa(pub.N.BitLen())).
			AddRow("exponent", strconv.Itoa(pub.E)))
	}
	return nil
}

// verifyCmd implements the 'verify' command
var verifyCmd = &cobra.Command{
	Use:   "verify <image>",
	Short: "Check the signature of an image",
	Long: `Check an image signature against the public key appended to the image,
or against --key when given (private or public key, PEM or OpenSSH).`,
	Example: `  # Verify with the appended public key
  keycancel-gen verify cancel.img

  # Verify against a known public key
  keycancel-gen verify cancel.img --key signing.pub.pem`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Signature Check", cmd.CommandPath(), []ui.Detail{
		{Key: "Image", Value: args[0]},
		{Key: "Key", Value: orNone(verifyKey)},
	})

	pub, parsed, err := verifyImage(args[0], verifyKey)
	if err != nil {
		p.PrintFailure("Signature check failed", err, troubleshoot(err))
		return err
	}

	p.PrintSuccess("Signature valid", []ui.Detail{
		{Key: "Version", Value: parsed.Header.Version()},
		{Key: "Platform", Value: parsed.Header.Platform()},
		{Key: "Signature", Value: fmt.Sprintf("%d bytes", len(parsed.Signature))},
		{Key: "Key", Value: fmt.Sprintf("%d-bit RSA", pub.N.BitLen())},
	})
	return nil
}

func verifyImage(path, keyPath string) (*rsa.PublicKey, *image.Parsed, error) {
	parsed, err := image.ParseFile(path)
	if err != nil {
		return nil, nil, err
	}
	if len(parsed.Signature) == 0 {
		return nil, nil, fmt.Errorf("%s is not signed", path)
	}

	var pub *rsa.PublicKey
	if keyPath != "" {
		pub, err = signing.LoadPublicKey(keyPath)
	} else {
		pub, err = signing.DecodePublicKey(parsed.PublicKey)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := signing.Verify(parsed.Signed, parsed.Signature, pub); err != nil {
		return nil, nil, err
	}
	logging.Info("Signature verified", zap.String("image", path), zap.Int("key_bits", pub.N.BitLen()))
	return pub, parsed, nil
}
