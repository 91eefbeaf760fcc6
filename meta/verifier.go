package meta

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// SignatureVerifier checks a signature over message against the key in keyFile.
type SignatureVerifier interface {
	VerifySignature(message, signature []byte, keyFile string) error
}

// SignatureVerifierFunc adapts a function to SignatureVerifier.
type SignatureVerifierFunc func(message, signature []byte, keyFile string) error

func (f SignatureVerifierFunc) VerifySignature(message, signature []byte, keyFile string) error {
	return f(message, signature, keyFile)
}

// KeyFileVerifier verifies signatures with a PEM encoded public key file.
//
// RSA keys use RSASSA-PSS over SHA-256, Ed25519 keys sign the message directly. The signature
// blob is fixed-size on disk, only its first key-sized bytes are used.
type KeyFileVerifier struct{}

func (KeyFileVerifier) VerifySignature(message, signature []byte, keyFile string) error {
	pub, err := loadPublicKey(keyFile)
	if err != nil {
		return err
	}

	switch key := pub.(type) {
	case *rsa.PublicKey:
		if len(signature) < key.Size() {
			return fmt.Errorf("signature of %d bytes is shorter than the %d byte key", len(signature), key.Size())
		}
		digest := sha256.Sum256(message)
		return rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature[:key.Size()], &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthAuto,
		})
	case ed25519.PublicKey:
		if len(signature) < ed25519.SignatureSize {
			return fmt.Errorf("signature of %d bytes is shorter than %d bytes", len(signature), ed25519.SignatureSize)
		}
		if !ed25519.Verify(key, message, signature[:ed25519.SignatureSize]) {
			return fmt.Errorf("ed25519 signature mismatch")
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T in '%s'", pub, keyFile)
	}
}

func loadPublicKey(keyFile string) (crypto.PublicKey, error) {
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM data in '%s'", keyFile)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key '%s': %w", keyFile, err)
	}
	return pub, nil
}
