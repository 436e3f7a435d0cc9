package key

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt"
	"github.com/lestrrat-go/jwx/jwk"
)

type JWKS struct {
	Keys []interface{} `json:"keys"`
}

type KeyPair struct {
	Kid        string
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

func NewKeyPairFromRSAPrivateKeyPem(privateKeyPem string) (*KeyPair, error) {
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPem))
	if err != nil {
		return nil, fmt.Errorf("unable to parse RSA private key: %v", err)
	}

	return newKeyPair(privateKey), nil
}

// GenerateKeyPair creates a throwaway RSA key pair, tokens signed with it
// stop working once the process exits
func GenerateKeyPair(bits int) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("GenerateKeyPair: %v", err)
	}

	return newKeyPair(privateKey), nil
}

func (keyPair *KeyPair) JWK() (jwk.Key, error) {
	keyPairJWK, err := jwk.New(keyPair.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("JWK: %v", err)
	}

	for field, value := range map[string]interface{}{
		jwk.KeyIDKey:     keyPair.Kid,
		jwk.AlgorithmKey: "RS256",
		jwk.KeyUsageKey:  "sig",
	} {
		if err := keyPairJWK.Set(field, value); err != nil {
			return nil, fmt.Errorf("JWK: %v", err)
		}
	}

	return keyPairJWK, nil
}

func ExportJWKAsJWKS(jwk jwk.Key) JWKS {
	return JWKS{Keys: []interface{}{jwk}}
}

func newKeyPair(privateKey *rsa.PrivateKey) *KeyPair {
	// kid is derived from the modulus so it changes when the key is rotated
	sum := sha256.Sum256(privateKey.PublicKey.N.Bytes())

	return &KeyPair{
		Kid:        "safeline-" + hex.EncodeToString(sum[:6]),
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey}
}
