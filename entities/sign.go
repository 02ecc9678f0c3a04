package entities

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"github.com/pkg/errors"
)

var ErrSignatureVerificationFailed = errors.New("signature verification failed")

// Sign signs data with an RSA-SHA256 PKCS#1 v1.5 signature and returns it base64 encoded.
func Sign(priv *rsa.PrivateKey, data []byte) (string, error) {
	if priv == nil {
		return "", errors.New("no private key")
	}
	hashed := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, hashed[:])
	if err != nil {
		return "", errors.Wrap(err, "failed to sign")
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 signature produced by Sign.
// Any failure is reported as ErrSignatureVerificationFailed.
func Verify(pub *rsa.PublicKey, data []byte, signature string) error {
	if pub == nil {
		return errors.Wrap(ErrSignatureVerificationFailed, "no public key")
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return errors.Wrap(ErrSignatureVerificationFailed, "malformed signature")
	}
	hashed := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], sig); err != nil {
		return errors.Wrap(ErrSignatureVerificationFailed, err.Error())
	}
	return nil
}

// SignRelayable sets the author signature of r.
func SignRelayable(priv *rsa.PrivateKey, r Relayable) error {
	sig, err := Sign(priv, r.SignatureData())
	if err != nil {
		return err
	}
	r.SetAuthorSignature(sig)
	return nil
}

func VerifyRelayable(pub *rsa.PublicKey, r Relayable) error {
	err := Verify(pub, r.SignatureData(), r.GetAuthorSignature())
	if err != nil {
		return errors.Wrapf(err, "%s:%s", r.Kind().ClassName(), r.GetGUID())
	}
	return nil
}

// MigrationSignatureData is what the new identity signs to authorize a migration.
func MigrationSignatureData(oldHandle, newHandle string) []byte {
	return []byte("AccountMigration:" + oldHandle + ":" + newHandle)
}

func GenerateKey(bits int) (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, bits)
}

// ParsePrivateKey loads a PEM encoded PKCS#1 or PKCS#8 RSA private key.
func ParsePrivateKey(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing the key")
	}

	if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return priv, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse DER encoded private key")
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return priv, nil
}

// ParsePublicKey loads a PEM encoded PKIX or PKCS#1 RSA public key.
func ParsePublicKey(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing the key")
	}

	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse DER encoded public key")
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return pub, nil
}

func ExportPrivateKey(priv *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	}))
}

func ExportPublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal public key")
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	})), nil
}

func SamePublicKey(a, b *rsa.PublicKey) bool {
	if a == nil || b == nil {
		return false
	}
	return a.E == b.E && a.N.Cmp(b.N) == 0
}
