package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"pin-auth-service/internal/config"
	"pin-auth-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash = errors.New("invalid hash format")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Pepper struct {
	Value     string
	CreatedAt time.Time
	Version   int
}

// Hasher computes argon2id digests over low-entropy secrets (PINs, passwords).
// A server-held pepper is mixed in before hashing; old pepper versions are
// retained so digests written under a previous version still verify.
type Hasher struct {
	params        Argon2Params
	currentPepper *Pepper
	oldPeppers    []*Pepper
	config        *config.Config
	mu            sync.RWMutex
}

// HashResult is the self-describing digest stored alongside each credential.
type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  32,
		KeyLength:   32,
	}

	h := &Hasher{
		params: params,
		config: cfg,
	}

	if cfg.Hashing.PepperSecret != "" {
		h.currentPepper = &Pepper{
			Value:     cfg.Hashing.PepperSecret,
			CreatedAt: time.Now(),
			Version:   1,
		}
	} else {
		h.rotatePepper()
	}

	return h
}

func (h *Hasher) rotatePepper() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.currentPepper != nil {
		h.oldPeppers = append(h.oldPeppers, h.currentPepper)
	}

	pepperBytes := make([]byte, 32)
	if _, err := rand.Read(pepperBytes); err != nil {
		util.Fatal("Failed to generate pepper", zap.Error(err))
	}

	version := 1
	if h.currentPepper != nil {
		version = h.currentPepper.Version + 1
	}

	h.currentPepper = &Pepper{
		Value:     base64.RawURLEncoding.EncodeToString(pepperBytes),
		CreatedAt: time.Now(),
		Version:   version,
	}

	util.Info("Pepper rotated",
		zap.Int("version", h.currentPepper.Version),
		zap.Time("created_at", h.currentPepper.CreatedAt),
	)
}

// StartPepperRotation starts background pepper rotation.
func (h *Hasher) StartPepperRotation() {
	ticker := time.NewTicker(time.Duration(h.config.Hashing.PepperRotationDays) * 24 * time.Hour)

	go func() {
		for range ticker.C {
			h.rotatePepper()

			// Keep only the last two old versions.
			h.mu.Lock()
			if len(h.oldPeppers) > 2 {
				h.oldPeppers = h.oldPeppers[len(h.oldPeppers)-2:]
			}
			h.mu.Unlock()
		}
	}()
}

// HashPIN hashes a device PIN. The PIN space is tiny, so the digest carries
// the same argon2id cost as passwords; offline resistance comes from the
// per-binding salt plus the server pepper.
func (h *Hasher) HashPIN(pin string) (*HashResult, error) {
	return h.hashWithPepper(pin, "pin")
}

// HashPassword hashes a login password.
func (h *Hasher) HashPassword(password string) (*HashResult, error) {
	return h.hashWithPepper(password, "password")
}

func (h *Hasher) hashWithPepper(data, context string) (*HashResult, error) {
	h.mu.RLock()
	pepper := h.currentPepper
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// Context string prevents hash reuse between purposes.
	contextualData := data + pepper.Value + context

	hash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: pepper.Version,
		Algorithm:     "argon2id-v1",
	}, nil
}

// VerifyPIN verifies a PIN against a stored digest in constant time.
func (h *Hasher) VerifyPIN(pin string, hashResult *HashResult) (bool, error) {
	return h.verifyWithPepper(pin, hashResult, "pin")
}

// VerifyPassword verifies a password against a stored digest in constant time.
func (h *Hasher) VerifyPassword(password string, hashResult *HashResult) (bool, error) {
	return h.verifyWithPepper(password, hashResult, "password")
}

func (h *Hasher) verifyWithPepper(data string, hashResult *HashResult, context string) (bool, error) {
	pepper, err := h.getPepper(hashResult.PepperVersion)
	if err != nil {
		return false, fmt.Errorf("pepper version not found: %w", err)
	}

	salt, err := base64.RawURLEncoding.DecodeString(hashResult.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}

	expectedHash, err := base64.RawURLEncoding.DecodeString(hashResult.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	contextualData := data + pepper + context

	computedHash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}

func (h *Hasher) getPepper(version int) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.currentPepper != nil && h.currentPepper.Version == version {
		return h.currentPepper.Value, nil
	}

	for _, pepper := range h.oldPeppers {
		if pepper.Version == version {
			return pepper.Value, nil
		}
	}

	return "", errors.New("pepper version not found")
}

// DigestToken computes the deterministic SHA-256 digest used as the lookup key
// for refresh and device tokens. The tokens are 256-bit CSPRNG values, so a
// plain unsalted digest is enough; determinism is what makes the unique
// token_hash index possible.
func DigestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Benchmark measures hashing throughput for cost tuning.
func (h *Hasher) Benchmark(iterations int) time.Duration {
	start := time.Now()

	for i := 0; i < iterations; i++ {
		testData := fmt.Sprintf("benchmark%d", i)
		if _, err := h.HashPIN(testData); err != nil {
			util.Error("Benchmark failed", zap.Error(err))
			return 0
		}
	}

	return time.Since(start)
}
