package config

import (
	"fmt"
)

// Config holds the generator settings. Every path is used as given,
// relative paths resolve against the working directory.
type Config struct {
	Output     string `yaml:"output"`                // Output image path (required)
	InputImage string `yaml:"input_image,omitempty"` // Binary that section regions are read from
	KeySize    int    `yaml:"key_size,omitempty"`    // Expected signing key size in bytes
	Key        string `yaml:"key,omitempty"`         // RSA private key used to sign the image
	XML        string `yaml:"xml"`                   // XML image description (required)
	CancelKey  string `yaml:"cancel_key,omitempty"`  // Key whose modulus replaces the input image

	// Source is the file the configuration was loaded from, if any
	Source string `yaml:"-"`
}

// ConfigError represents a missing or invalid configuration value.
type ConfigError struct {
	// Key is the configuration key at fault
	Key string
	// Reason describes the problem
	Reason string
	// Source is the configuration file, if any
	Source string
	// Underlying error if any
	Err error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("configuration error: %s", e.Reason)
	if e.Key != "" {
		msg = fmt.Sprintf("configuration error for %s: %s", e.Key, e.Reason)
	}
	if e.Source != "" {
		msg += fmt.Sprintf(" (file: %s)", e.Source)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Validate checks that the values needed for a build are present.
func (c *Config) Validate() error {
	if c.XML == "" {
		return &ConfigError{Key: KeyXML, Reason: "no XML image description provided", Source: c.Source}
	}
	if c.Output == "" {
		return &ConfigError{Key: KeyOutput, Reason: "no output path provided", Source: c.Source}
	}
	if c.KeySize < 0 {
		return &ConfigError{Key: KeyKeySize, Reason: fmt.Sprintf("key size must not be negative, got %d", c.KeySize), Source: c.Source}
	}
	return nil
}

// Merge overrides c with every non-zero value of other.
func (c *Config) Merge(other Config) {
	if other.Output != "" {
		c.Output = other.Output
	}
	if other.InputImage != "" {
		c.InputImage = other.InputImage
	}
	if other.KeySize != 0 {
		c.KeySize = other.KeySize
	}
	if other.Key != "" {
		c.Key = other.Key
	}
	if other.XML != "" {
		c.XML = other.XML
	}
	if other.CancelKey != "" {
		c.CancelKey = other.CancelKey
	}
}
