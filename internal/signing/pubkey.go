package signing

import (
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

// EncodePublicKey builds the public key blob appended after a signed image.
//
// Layout:
//
//	[0-1]      modulus_length   Little-endian byte count of the modulus
//	[2..m+1]   modulus          Big-endian, ceil(bits/8) bytes
//	[m+2]      exponent_length  Byte count of the exponent
//	[m+3..]    exponent         Big-endian, no leading zeros
func EncodePublicKey(pub *rsa.PublicKey) ([]byte, error) {
	modulus := Modulus(pub)
	if len(modulus) > math.MaxUint16 {
		return nil, fmt.Errorf("modulus of %d bytes does not fit the blob", len(modulus))
	}
	exponent := big.NewInt(int64(pub.E)).Bytes()
	if len(exponent) == 0 || len(exponent) > math.MaxUint8 {
		return nil, fmt.Errorf("unsupported public exponent %d", pub.E)
	}

	blob := make([]byte, 2, 2+len(modulus)+1+len(exponent))
	binary.LittleEndian.PutUint16(blob[0:2], uint16(len(modulus)))
	blob = append(blob, modulus...)
	blob = append(blob, byte(len(exponent)))
	return append(blob, exponent...), nil
}

// DecodePublicKey parses a public key blob. Trailing bytes are an error.
func DecodePublicKey(blob []byte) (*rsa.PublicKey, error) {
	if len(blob) < 2 {
		return nil, &PublicKeyBlobError{Offset: 0, Reason: "missing modulus length"}
	}
	modLen := int(binary.LittleEndian.Uint16(blob[0:2]))
	off := 2
	if modLen == 0 || len(blob) < off+modLen+1 {
		return nil, &PublicKeyBlobError{Offset: off, Reason: fmt.Sprintf("modulus of %d bytes truncated", modLen)}
	}
	n := new(big.Int).SetBytes(blob[off : off+modLen])
	off += modLen

	expLen := int(blob[off])
	off++
	if expLen == 0 || len(blob) < off+expLen {
		return nil, &PublicKeyBlobError{Offset: off - 1, Reason: fmt.Sprintf("exponent of %d bytes truncated", expLen)}
	}
	e := new(big.Int).SetBytes(blob[off : off+expLen])
	off += expLen

	if off != len(blob) {
		return nil, &PublicKeyBlobError{Offset: off, Reason: fmt.Sprintf("%d trailing bytes", len(blob)-off)}
	}
	if !e.IsInt64() || e.Int64() > math.MaxInt32 {
		return nil, &PublicKeyBlobError{Offset: off - expLen, Reason: "exponent too large"}
	}

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// Modulus returns the big-endian modulus of pub, ceil(bits/8) bytes long.
func Modulus(pub *rsa.PublicKey) []byte {
	return pub.N.FillBytes(make([]byte, pub.Size()))
}
