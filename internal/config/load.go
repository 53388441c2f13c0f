package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/muurk/keycancel/internal/logging"
)

// DefaultFileName is looked up next to the executable when no configuration
// file is given.
const DefaultFileName = "decommission_image_generator.config"

// Keys recognized in key=value configuration files
const (
	KeyOutput     = "Output"
	KeyInputImage = "InputImage"
	KeyKeySize    = "KeySize"
	KeyKey        = "Key"
	KeyXML        = "Xml"
	KeyCancelKey  = "Cancel_Key"
)

// DefaultPath returns DefaultFileName in the executable's directory.
func DefaultPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("cannot determine executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), DefaultFileName), nil
}

// Load reads a configuration file. Files ending in .yaml or .yml are
// parsed as YAML, anything else as key=value lines.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	default:
		cfg, err = ParseKeyValue(data)
	}
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Source = path
		}
		return nil, err
	}

	cfg.Source = path
	logging.Debug("Loaded configuration",
		zap.String("source", path),
		zap.String("xml", cfg.XML),
		zap.String("output", cfg.Output),
		zap.String("input_image", cfg.InputImage),
		zap.Bool("key_set", cfg.Key != ""),
		zap.Bool("cancel_key_set", cfg.CancelKey != ""),
	)
	return cfg, nil
}

// ParseKeyValue parses the generator's key=value format. Blank lines and
// lines starting with # or ; are skipped, as are lines without '=' and
// unknown keys.
func ParseKeyValue(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConfigError{Reason: "configuration file is empty"}
	}

	cfg := &Config{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			logging.Debug("Ignoring configuration line without '='", zap.Int("line", lineNo))
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case KeyOutput:
			cfg.Output = value
		case KeyInputImage:
			cfg.InputImage = value
		case KeyKeySize:
			if value == "" {
				continue
			}
			size, err := strconv.Atoi(value)
			if err != nil {
				return nil, &ConfigError{Key: KeyKeySize, Reason: fmt.Sprintf("line %d: not an integer: %q", lineNo, value), Err: err}
			}
			cfg.KeySize = size
		case KeyKey:
			cfg.Key = value
		case KeyXML:
			cfg.XML = value
		case KeyCancelKey:
			cfg.CancelKey = value
		default:
			logging.Debug("Ignoring unknown configuration key",
				zap.String("key", key),
				zap.Int("line", lineNo),
			)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ConfigError{Reason: "failed to scan configuration", Err: err}
	}

	return cfg, nil
}

// ParseYAML parses a YAML configuration document.
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Reason: "failed to parse YAML configuration", Err: err}
	}
	return &cfg, nil
}
