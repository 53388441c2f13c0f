package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Digest returns the SHA-256 digest of the signed region.
func Digest(body []byte) [sha256.Size]byte {
	return sha256.Sum256(body)
}

// Sign produces the RSA PKCS#1 v1.5 signature of SHA-256(body). reserved is
// the signature length recorded in the image header; a signature of any
// other length is a *KeyMismatchError.
//
// PKCS#1 v1.5 is deterministic, so the same key and body always yield the
// same signature.
func Sign(body []byte, key *rsa.PrivateKey, reserved int) ([]byte, error) {
	digest := Digest(body)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign image: %w", err)
	}
	if len(sig) != reserved {
		return nil, &KeyMismatchError{Reserved: reserved, Actual: len(sig)}
	}
	return sig, nil
}

// Verify checks sig against SHA-256(body) with pub.
func Verify(body, sig []byte, pub *rsa.PublicKey) error {
	digest := Digest(body)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}
