package auth

import (
	"fmt"
	"time"

	"github.com/Daskott/safeline/server/auth/key"
	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"
)

const TokenLifetime = 7 * 24 * time.Hour

// BcryptCost is lowered in tests, hashing at cost 14 takes about a second
var BcryptCost = 14

type SafelineTokenClaims struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
	jwt.StandardClaims
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// NewClaims returns claims for subject valid for TokenLifetime from now
func NewClaims(subject string, firstName, lastName, username string, isAdmin bool) SafelineTokenClaims {
	now := time.Now()
	return SafelineTokenClaims{
		FirstName: firstName,
		LastName:  lastName,
		Username:  username,
		IsAdmin:   isAdmin,
		StandardClaims: jwt.StandardClaims{
			Subject:   subject,
			Issuer:    "safeline",
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(TokenLifetime).Unix(),
		},
	}
}

func EncodeJWT(claims SafelineTokenClaims, keyPair *key.KeyPair) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyPair.Kid

	tokenString, err := token.SignedString(keyPair.PrivateKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func DecodeJWT(tokenString string, keyPair *key.KeyPair) (*SafelineTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SafelineTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return keyPair.PublicKey, nil
	})

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid jwt: %v", err)
	}

	tokenClaims, ok := token.Claims.(*SafelineTokenClaims)
	if !ok {
		return nil, fmt.Errorf("unable to assert token.Claims to SafelineTokenClaims")
	}

	return tokenClaims, nil
}
