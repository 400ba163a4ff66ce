package processing

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
)

// SignatureVerifier checks the provider's RSA-SHA1 signature over the
// canonical callback URL. The certificate is loaded once at process
// startup; verification fails closed when the certificate or the
// signature is unusable.
type SignatureVerifier struct {
	publicKey *rsa.PublicKey
}

// LoadSignatureVerifier reads a PEM certificate (or a bare PEM public
// key) from disk.
func LoadSignatureVerifier(path string) (*SignatureVerifier, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read certificate %s: %w", path, err)
	}
	return NewSignatureVerifier(content)
}

// NewSignatureVerifier parses PEM certificate or public-key content.
func NewSignatureVerifier(pemContent []byte) (*SignatureVerifier, error) {
	block, _ := pem.Decode(pemContent)
	if block == nil {
		return nil, errors.New("no PEM block in certificate content")
	}

	var key interface{}
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		key = cert.PublicKey
	default:
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		key = parsed
	}

	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate does not carry an RSA public key")
	}
	return &SignatureVerifier{publicKey: rsaKey}, nil
}

// Verify checks a base64 signature (URL-encoded as delivered in the
// callback query string) against the canonical URL.
func (v *SignatureVerifier) Verify(signature, canonicalURL string) error {
	if decoded, err := url.QueryUnescape(signature); err == nil {
		signature = decoded
	}
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("signature is not valid base64: %w", err)
	}

	digest := sha1.Sum([]byte(canonicalURL))
	return rsa.VerifyPKCS1v15(v.publicKey, crypto.SHA1, digest[:], raw)
}
