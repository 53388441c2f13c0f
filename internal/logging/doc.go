// Package logging provides structured logging for keycancel-gen.
//
// This package wraps a global zap logger. It is silent by default so the
// command's terminal output stays clean; set KEYCANCEL_LOG_LEVEL or pass
// --log-level to see what each pipeline stage does.
//
// # Log Levels
//
//   - Debug: configuration values, resolved sections, header hex dumps
//   - Info: stage results (image layout, signing, output written)
//   - Warn: recovered problems (unusable signing key, key size mismatch)
//   - Error: fatal pipeline failures
//
// # Usage
//
//	if err := logging.Initialize("debug"); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
//	logging.Info("Image written",
//	    zap.String("path", "cancel.bin"),
//	    zap.Int("bytes", 347),
//	)
//
// Output goes to stderr in zap's console format.
package logging
