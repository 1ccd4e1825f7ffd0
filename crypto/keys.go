// Package crypto implements the node's asymmetric key material: RSA-2048
// keypairs, PEM encoding, and PKCS#1 v1.5/SHA-256 signing. Signature
// routines never see PEM strings directly — callers always go through a
// PublicKey/PrivateKey value or PublicKeyPEM parsing, keeping PEM handling
// isolated here.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// keyBits is the RSA modulus size used for node keypairs.
const keyBits = 2048

// PrivateKey wraps an RSA private key.
type PrivateKey struct {
	key *rsa.PrivateKey
}

// PublicKey wraps an RSA public key.
type PublicKey struct {
	key *rsa.PublicKey
}

// GenerateKeypair creates a new RSA-2048 keypair with public exponent 65537
// (rsa.GenerateKey always uses 65537 for keys of this size).
func GenerateKeypair() (PrivateKey, PublicKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return PrivateKey{}, PublicKey{}, fmt.Errorf("generate rsa key: %w", err)
	}
	return PrivateKey{key: key}, PublicKey{key: &key.PublicKey}, nil
}

// Public derives the public key from priv.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey{key: &priv.key.PublicKey}
}

// PEM encodes priv as a TraditionalOpenSSL (PKCS#1) PEM block.
func (priv PrivateKey) PEM() []byte {
	der := x509.MarshalPKCS1PrivateKey(priv.key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	return pem.EncodeToMemory(block)
}

// PEM encodes pub as a SubjectPublicKeyInfo PEM block.
func (pub PublicKey) PEM() []byte {
	der, err := x509.MarshalPKIXPublicKey(pub.key)
	if err != nil {
		// x509.MarshalPKIXPublicKey only fails for unsupported key types;
		// *rsa.PublicKey is always supported.
		panic(fmt.Sprintf("crypto: marshal public key: %v", err))
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return pem.EncodeToMemory(block)
}

// PrivateKeyFromPEM parses a TraditionalOpenSSL (PKCS#1) private key PEM
// block.
func PrivateKeyFromPEM(data []byte) (PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return PrivateKey{}, errors.New("crypto: no PEM block found")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("parse private key: %w", err)
	}
	return PrivateKey{key: key}, nil
}

// PublicKeyFromPEM parses a SubjectPublicKeyInfo PEM block.
func PublicKeyFromPEM(data []byte) (PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return PublicKey{}, errors.New("crypto: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return PublicKey{}, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return PublicKey{}, fmt.Errorf("crypto: expected RSA public key, got %T", pub)
	}
	return PublicKey{key: rsaPub}, nil
}
