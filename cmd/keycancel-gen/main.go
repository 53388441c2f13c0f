// Keycancel-gen builds signed key cancellation and decommission images.
//
// An XML description names the image version, platform and type, and for
// key cancellation images the regions of an input binary (or of a
// cancelled key's modulus) that become image sections. The assembled image
// is optionally signed with an RSA key and written with the signer's
// public key appended.
//
// Settings come from a key=value configuration file:
//
//	Xml=image.xml
//	Output=cancel.img
//	InputImage=input.bin
//	Key=signing.pem
//	KeySize=256
//	Cancel_Key=old.pem
//
// By default decommission_image_generator.config next to the executable is
// read. Flags override file values.
//
// See 'keycancel-gen --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/keycancel/internal/logging"
	"github.com/muurk/keycancel/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Sync()
		os.Exit(1)
	}
	logging.Sync()
}

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "keycancel-gen [config]",
	Short: "Key cancellation and decommission image generator",
	Long: `Build key cancellation and decommission images from an XML description.

Running keycancel-gen without a subcommand is the same as 'keycancel-gen build'.
The configuration file defaults to decommission_image_generator.config in the
directory of the executable.

Detailed logs are written to stderr when --log-level or KEYCANCEL_LOG_LEVEL
is set (debug, info, warn, error).`,
	Version: version.Get().Version,
	Example: `  # Build using the default configuration file
  keycancel-gen

  # Build using a specific configuration file
  keycancel-gen build ./cancel.config

  # Override configuration values
  keycancel-gen build --xml image.xml --output cancel.img --key signing.pem

  # Show the layout of an image
  keycancel-gen inspect cancel.img

  # Check an image signature
  keycancel-gen verify cancel.img`,
	Args:              cobra.MaximumNArgs(1),
	PersistentPreRunE: initLogging,
	RunE:              runBuild,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	// Failures are shown in the result box, main prints the final error line
	rootCmd.SilenceErrors = true

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides "+logging.LogLevelEnvVar)
	addBuildFlags(rootCmd)

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(versionCmd)
}

// initLogging sets up zap before any command runs. Logging is silent
// unless a level is requested.
func initLogging(cmd *cobra.Command, args []string) error {
	if logLevel != "" {
		return logging.Initialize(logLevel)
	}
	return logging.InitializeFromEnv()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "keycancel-gen %s\n", version.Full())
	},
}
