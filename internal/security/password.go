package security

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"

	// MaxBcryptPasswordBytes is the input limit of bcrypt.
	MaxBcryptPasswordBytes = 72
)

var (
	ErrPasswordTooLong      = errors.New("password too long")
	ErrUnsupportedHash      = errors.New("unsupported password hash")
	ErrUnsupportedAlgorithm = errors.New("unsupported password algorithm")
)

type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 2,
	KeyLen:  32,
	SaltLen: 16,
}

// PasswordHasher derives salted one-way hashes. Verification accepts both
// bcrypt and argon2id encodings regardless of the configured algorithm, so
// switching algorithms does not lock out existing accounts.
type PasswordHasher struct {
	algorithm  string
	bcryptCost int
	argon      Argon2Params

	dummyOnce sync.Once
	dummy     []byte
}

func NewPasswordHasher(algorithm string, bcryptCost int) (*PasswordHasher, error) {
	switch algorithm {
	case AlgorithmBcrypt:
		if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost %d out of range", bcryptCost)
		}
	case AlgorithmArgon2id:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	return &PasswordHasher{
		algorithm:  algorithm,
		bcryptCost: bcryptCost,
		argon:      DefaultArgon2Params,
	}, nil
}

func (h *PasswordHasher) Algorithm() string {
	return h.algorithm
}

// CheckLength rejects passwords the configured algorithm would silently
// truncate.
func (h *PasswordHasher) CheckLength(password string) error {
	if h.algorithm == AlgorithmBcrypt && len(password) > MaxBcryptPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

func (h *PasswordHasher) Hash(password string) ([]byte, error) {
	if err := h.CheckLength(password); err != nil {
		return nil, err
	}

	if h.algorithm == AlgorithmBcrypt {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("bcrypt: %w", err)
		}
		return hash, nil
	}
	return hashArgon2id(password, h.argon)
}

// Verify reports whether password matches encodedHash. A mismatch is
// (false, nil); errors are reserved for undecodable hashes.
func (h *PasswordHasher) Verify(password string, encodedHash []byte) (bool, error) {
	switch {
	case bytes.HasPrefix(encodedHash, []byte("$argon2id$")):
		return verifyArgon2id(password, encodedHash)
	case isBcryptHash(encodedHash):
		err := bcrypt.CompareHashAndPassword(encodedHash, []byte(password))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("bcrypt compare: %w", err)
	default:
		return false, ErrUnsupportedHash
	}
}

// Burn runs one full verification against a fixed hash so that a lookup
// miss costs as much as a real password check.
func (h *PasswordHasher) Burn(password string) {
	h.dummyOnce.Do(func() {
		dummy, err := h.Hash("burn-" + base64.RawStdEncoding.EncodeToString(randomBytes(12)))
		if err == nil {
			h.dummy = dummy
		}
	})
	if h.dummy == nil {
		return
	}
	if len(password) > MaxBcryptPasswordBytes {
		password = password[:MaxBcryptPasswordBytes]
	}
	_, _ = h.Verify(password, h.dummy)
}

func isBcryptHash(encoded []byte) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if bytes.HasPrefix(encoded, []byte(prefix)) {
			return true
		}
	}
	return false
}

func hashArgon2id(password string, params Argon2Params) ([]byte, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)

	result := fmt.Sprintf("$argon2id$v=%d$t=%d,m=%d,p=%d$%s$%s",
		argon2.Version,
		params.Time, params.Memory, params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
	return []byte(result), nil
}

func verifyArgon2id(password string, encodedHash []byte) (bool, error) {
	parts := strings.Split(string(encodedHash), "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("%w: malformed argon2id hash", ErrUnsupportedHash)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parse version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("%w: argon2 version %d", ErrUnsupportedHash, version)
	}

	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "t=%d,m=%d,p=%d", &params.Time, &params.Memory, &params.Threads); err != nil {
		return false, fmt.Errorf("parse params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	computed := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, uint32(len(hash)))

	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}

func randomBytes(n int) []byte {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return buf
}
