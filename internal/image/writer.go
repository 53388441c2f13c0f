package image

import (
	"fmt"
	"os"
	"path/filepath"
)

// Emit lays out the final byte stream: the image_length region holding body
// and signature, then the public key blob. For unsigned images signature
// and pubKey must be empty and the output is body alone.
func Emit(hdr *Header, body, signature, pubKey []byte) ([]byte, error) {
	sigLen := int(hdr.SignatureLength)
	if limit := MaxImageSize - sigLen; len(body) > limit {
		return nil, &ImageTooLargeError{Size: len(body), Limit: limit}
	}
	if len(body)+sigLen != int(hdr.ImageLength) {
		return nil, fmt.Errorf("image length %d does not match body %d + signature %d",
			hdr.ImageLength, len(body), sigLen)
	}
	if len(signature) != sigLen {
		return nil, fmt.Errorf("signature is %d bytes, header reserves %d", len(signature), sigLen)
	}
	if sigLen == 0 && len(pubKey) > 0 {
		return nil, fmt.Errorf("public key blob supplied for an unsigned image")
	}

	out := make([]byte, int(hdr.ImageLength), int(hdr.ImageLength)+len(pubKey))
	copy(out, body)
	copy(out[len(body):], signature)
	return append(out, pubKey...), nil
}

// WriteFile emits the image and writes it to path, returning the bytes
// written.
//
// The data goes to a temporary file in the same directory which is renamed
// over path once complete, so a failed run never leaves a truncated image
// behind.
func WriteFile(path string, hdr *Header, body, signature, pubKey []byte) ([]byte, error) {
	data, err := Emit(hdr, body, signature, pubKey)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary output file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to set permissions on %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to save output image %s: %w", path, err)
	}

	return data, nil
}
