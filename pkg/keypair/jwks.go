package keypair

import (
	"encoding/base64"
	"math/big"
)

// JWK is a single RSA public key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the key set published for token verification.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the active public key as a JSON Web Key set, so resource
// servers can verify access tokens without sharing the private key.
func (s *Service) JWKS() (*JWKS, error) {
	if err := s.materialize(); err != nil {
		return nil, err
	}

	public := &s.privateKey.PublicKey
	return &JWKS{
		Keys: []JWK{{
			Kty: "RSA",
			Use: "sig",
			Alg: "RS256",
			Kid: s.keyID,
			N:   base64.RawURLEncoding.EncodeToString(public.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(public.E)).Bytes()),
		}},
	}, nil
}
