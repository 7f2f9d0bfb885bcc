package keypair

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	goerrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tendant/realm-idm/pkg/errors"
)

const (
	privateKeyFile = "private.key"
	publicKeyFile  = "public.key"

	keySize = 2048
)

// Service owns the active signing key pair. The pair is materialized once on
// first use and is immutable afterwards: when a directory is configured the
// PEM files are loaded if present, otherwise a fresh pair is generated and
// persisted. With an empty directory the pair lives in memory only.
type Service struct {
	dir string

	once       sync.Once
	initErr    error
	privateKey *rsa.PrivateKey
	keyID      string
}

// NewService creates a key pair service backed by the given directory.
// Pass an empty directory for an ephemeral in-memory pair.
func NewService(dir string) *Service {
	return &Service{dir: dir}
}

func (s *Service) materialize() error {
	s.once.Do(func() {
		s.initErr = s.loadOrGenerate()
	})
	return s.initErr
}

func (s *Service) loadOrGenerate() error {
	if s.dir != "" {
		key, err := s.loadFromDir()
		if err == nil {
			s.privateKey = key
			s.keyID = fingerprint(&key.PublicKey)
			slog.Info("Loaded signing key pair", "dir", s.dir, "kid", s.keyID)
			return nil
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to load key pair: %w", err)
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}

	if s.dir != "" {
		if err := s.persist(key); err != nil {
			return fmt.Errorf("failed to persist key pair: %w", err)
		}
	}

	s.privateKey = key
	s.keyID = fingerprint(&key.PublicKey)
	slog.Info("Generated signing key pair", "kid", s.keyID)
	return nil
}

func (s *Service) loadFromDir() (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, privateKeyFile))
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", privateKeyFile)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type %T", parsed)
	}
	return key, nil
}

func (s *Service) persist(key *rsa.PrivateKey) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}

	privateDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return err
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER})
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})

	if err := os.WriteFile(filepath.Join(s.dir, privateKeyFile), privatePEM, 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, publicKeyFile), publicPEM, 0o644)
}

// KeyID returns the identifier of the active key pair.
func (s *Service) KeyID() (string, error) {
	if err := s.materialize(); err != nil {
		return "", err
	}
	return s.keyID, nil
}

// PublicKey returns the public half of the active key pair.
func (s *Service) PublicKey() (*rsa.PublicKey, error) {
	if err := s.materialize(); err != nil {
		return nil, err
	}
	return &s.privateKey.PublicKey, nil
}

// Sign signs the given claims with the active private key using RS256 and
// includes the key id in the token header.
func (s *Service) Sign(claims jwt.Claims) (string, error) {
	if err := s.materialize(); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		slog.Error("Failed to sign token", "err", err)
		return "", err
	}
	return signed, nil
}

// Verify parses tokenStr into the given claims value and validates the
// signature against the active public key. Expired tokens map to
// ErrCodeTokenExpired, everything else to ErrCodeTokenInvalid.
func (s *Service) Verify(tokenStr string, into jwt.Claims) error {
	if err := s.materialize(); err != nil {
		return err
	}

	token, err := jwt.ParseWithClaims(tokenStr, into, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &s.privateKey.PublicKey, nil
	})
	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return errors.Wrap(err, errors.ErrCodeTokenExpired, "token expired")
		}
		return errors.Wrap(err, errors.ErrCodeTokenInvalid, "token invalid")
	}
	if !token.Valid {
		return errors.New(errors.ErrCodeTokenInvalid, "token invalid")
	}
	return nil
}

func fingerprint(key *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8])
}
