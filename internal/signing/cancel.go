package signing

import (
	"fmt"
	"os"
)

// ExportCancelModulus loads the key being cancelled and returns its raw
// modulus. The modulus becomes the input image that section regions are
// extracted from. The exponent is ignored.
func ExportCancelModulus(path string) ([]byte, error) {
	pub, err := LoadPublicKey(path)
	if err != nil {
		return nil, err
	}
	return Modulus(pub), nil
}

// WriteCancelModulus stores an exported modulus at path, replacing the
// input image file.
func WriteCancelModulus(path string, modulus []byte) error {
	if err := os.WriteFile(path, modulus, 0644); err != nil {
		return fmt.Errorf("failed to write cancel key modulus to %s: %w", path, err)
	}
	return nil
}
