package signing

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// LoadKey reads an RSA private key from path. PEM encoded PKCS#1
// ("RSA PRIVATE KEY"), PKCS#8 ("PRIVATE KEY") and OpenSSH keys are
// accepted. Every failure is a *KeyImportError.
func LoadKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &KeyImportError{Path: path, Reason: "cannot read key file", Err: err}
	}
	return ParsePrivateKey(path, data)
}

// ParsePrivateKey parses an RSA private key. path is only used in errors.
func ParsePrivateKey(path string, data []byte) (*rsa.PrivateKey, error) {
	raw, err := ssh.ParseRawPrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, &KeyImportError{Path: path, Reason: "key is passphrase protected", Err: err}
		}
		return nil, &KeyImportError{Path: path, Reason: "not a private key", Err: err}
	}

	key, ok := raw.(*rsa.PrivateKey)
	if !ok {
		return nil, &KeyImportError{Path: path, Reason: fmt.Sprintf("unsupported key type %T, RSA required", raw)}
	}
	if err := key.Validate(); err != nil {
		return nil, &KeyImportError{Path: path, Reason: "key failed validation", Err: err}
	}
	return key, nil
}

// LoadPublicKey reads an RSA public key from path. Besides every private
// key format accepted by LoadKey, PEM "PUBLIC KEY" (PKIX), PEM
// "RSA PUBLIC KEY" (PKCS#1) and an authorized_keys line are accepted.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &KeyImportError{Path: path, Reason: "cannot read key file", Err: err}
	}

	priv, privErr := ParsePrivateKey(path, data)
	if privErr == nil {
		return &priv.PublicKey, nil
	}

	if block, _ := pem.Decode(data); block != nil {
		// A private key block that did not import keeps its own reason
		if strings.HasSuffix(block.Type, "PRIVATE KEY") {
			return nil, privErr
		}
		switch block.Type {
		case "PUBLIC KEY":
			pub, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err != nil {
				return nil, &KeyImportError{Path: path, Reason: "invalid PKIX public key", Err: err}
			}
			return asRSAPublicKey(path, pub)
		case "RSA PUBLIC KEY":
			pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
			if err != nil {
				return nil, &KeyImportError{Path: path, Reason: "invalid PKCS#1 public key", Err: err}
			}
			return pub, nil
		}
	}

	sshPub, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, &KeyImportError{Path: path, Reason: "no RSA key found", Err: err}
	}
	cpk, ok := sshPub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, &KeyImportError{Path: path, Reason: fmt.Sprintf("unsupported SSH key type %s", sshPub.Type())}
	}
	return asRSAPublicKey(path, cpk.CryptoPublicKey())
}

func asRSAPublicKey(path string, pub any) (*rsa.PublicKey, error) {
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, &KeyImportError{Path: path, Reason: fmt.Sprintf("unsupported key type %T, RSA required", pub)}
	}
	return key, nil
}

// SignatureLength returns the PKCS#1 v1.5 signature size for key, which is
// the modulus length in bytes.
func SignatureLength(key *rsa.PublicKey) int {
	return key.Size()
}
