// Package config loads generator settings.
//
// The native format is one key=value pair per line, split at the first '='.
// Keys are case sensitive; unknown keys and lines without '=' are ignored so
// old configuration files keep working. Lines starting with # or ; are
// comments.
//
//	Output=cancel.img
//	InputImage=input.bin
//	KeySize=256
//	Key=signing.pem
//	Xml=image.xml
//	Cancel_Key=old.pem
//
// Files ending in .yaml or .yml are read as YAML with the same settings
// (output, input_image, key_size, key, xml, cancel_key).
//
// Without an explicit file the CLI looks for DefaultFileName next to the
// executable. Command line flags are merged over the loaded values with
// Config.Merge.
package config
