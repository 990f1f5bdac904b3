// Package crypto provides credential hashing for npassword.
//
// Passwords are hashed with Argon2id and stored in the self-describing
// PHC string format, so a stored credential carries its own algorithm,
// version, cost parameters and salt:
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt>$<key>
//
// Salt and key are unpadded standard base64.
//
// # Example Usage
//
//	h := crypto.NewHasher(crypto.DefaultParams)
//	encoded, err := h.Hash([]byte("Passw0rd!"))
//
//	ok, err := h.Verify([]byte("Passw0rd!"), encoded)
//
//	// Securely wipe sensitive data
//	crypto.SecureWipe(password)
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters following OWASP recommendations.
const (
	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4

	// SaltLength is the length of the random salt in bytes (128 bits).
	SaltLength = 16

	// KeyLength is the length of the derived key in bytes (256 bits).
	KeyLength = 32
)

// Bounds accepted when decoding a stored credential. A stored hash outside
// these is treated as corrupt rather than run.
const (
	maxMemory     = 4 * 1024 * 1024 // 4 GiB in KiB
	maxTime       = 64
	minSaltLength = 8
	minKeyLength  = 16
	maxKeyLength  = 64
)

const algorithmID = "argon2id"

// Sentinel errors returned by crypto functions.
var (
	// ErrCorruptCredential indicates a stored credential hash could not be parsed.
	ErrCorruptCredential = errors.New("crypto: corrupt credential hash")

	// ErrInvalidParams indicates hashing parameters are out of range.
	ErrInvalidParams = errors.New("crypto: invalid argon2 parameters")
)

// Params are the Argon2id cost parameters.
type Params struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
}

// DefaultParams are the OWASP-recommended parameters.
var DefaultParams = Params{
	Memory:  Argon2Memory,
	Time:    Argon2Time,
	Threads: Argon2Threads,
}

// Validate reports whether p is usable for hashing.
func (p Params) Validate() error {
	if p.Time == 0 || p.Time > maxTime {
		return fmt.Errorf("%w: time=%d", ErrInvalidParams, p.Time)
	}
	if p.Threads == 0 {
		return fmt.Errorf("%w: threads=0", ErrInvalidParams)
	}
	// argon2 requires at least 8 KiB per lane
	if p.Memory < 8*uint32(p.Threads) || p.Memory > maxMemory {
		return fmt.Errorf("%w: memory=%d", ErrInvalidParams, p.Memory)
	}
	return nil
}

// Hasher hashes and verifies credentials. It holds no mutable state and is
// safe for concurrent use.
type Hasher struct {
	params Params
}

// NewHasher returns a Hasher that produces hashes with the given params.
// Verification always uses the params embedded in the stored hash.
func NewHasher(params Params) *Hasher {
	return &Hasher{params: params}
}

// Params returns the parameters used for new hashes.
func (h *Hasher) Params() Params {
	return h.params
}

// Hash derives a salted Argon2id hash of plaintext and returns it PHC-encoded.
func (h *Hasher) Hash(plaintext []byte) (string, error) {
	if err := h.params.Validate(); err != nil {
		return "", err
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: failed to generate salt: %w", err)
	}

	key := argon2.IDKey(plaintext, salt, h.params.Time, h.params.Memory, h.params.Threads, KeyLength)
	defer SecureWipe(key)

	return encode(h.params, salt, key), nil
}

// DummyHash returns a well-formed hash with the Hasher's params and a
// random salt and key. It runs no Argon2 derivation, so verifying against
// it costs exactly one derivation and matches no plaintext.
func (h *Hasher) DummyHash() (string, error) {
	if err := h.params.Validate(); err != nil {
		return "", err
	}

	buf := make([]byte, SaltLength+KeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto: failed to generate dummy hash: %w", err)
	}
	return encode(h.params, buf[:SaltLength], buf[SaltLength:]), nil
}

// Verify reports whether plaintext matches the PHC-encoded hash. The derived
// key is compared in constant time. A hash that cannot be parsed yields
// ErrCorruptCredential.
func (h *Hasher) Verify(plaintext []byte, encoded string) (bool, error) {
	params, salt, want, err := Decode(encoded)
	if err != nil {
		return false, err
	}

	got := argon2.IDKey(plaintext, salt, params.Time, params.Memory, params.Threads, uint32(len(want)))
	defer SecureWipe(got)

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func encode(p Params, salt, key []byte) string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

// Decode parses a PHC-encoded Argon2id hash.
func Decode(encoded string) (params Params, salt, key []byte, err error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return Params{}, nil, nil, fmt.Errorf("%w: unexpected field count", ErrCorruptCredential)
	}
	if parts[1] != algorithmID {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported algorithm %q", ErrCorruptCredential, parts[1])
	}

	version, ok := parseField(parts[2], "v", 32)
	if !ok {
		return Params{}, nil, nil, fmt.Errorf("%w: bad version field", ErrCorruptCredential)
	}
	if version != argon2.Version {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptCredential, version)
	}

	fields := strings.Split(parts[3], ",")
	if len(fields) != 3 {
		return Params{}, nil, nil, fmt.Errorf("%w: bad parameter field", ErrCorruptCredential)
	}
	memory, okM := parseField(fields[0], "m", 32)
	iterations, okT := parseField(fields[1], "t", 32)
	threads, okP := parseField(fields[2], "p", 8)
	if !okM || !okT || !okP {
		return Params{}, nil, nil, fmt.Errorf("%w: bad parameter field", ErrCorruptCredential)
	}
	if threads == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: parameters out of range", ErrCorruptCredential)
	}
	params.Memory = uint32(memory)
	params.Time = uint32(iterations)
	params.Threads = uint8(threads)
	if params.Validate() != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: parameters out of range", ErrCorruptCredential)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < minSaltLength {
		return Params{}, nil, nil, fmt.Errorf("%w: bad salt", ErrCorruptCredential)
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) < minKeyLength || len(key) > maxKeyLength {
		return Params{}, nil, nil, fmt.Errorf("%w: bad key", ErrCorruptCredential)
	}

	return params, salt, key, nil
}

// parseField parses "<name>=<decimal>". The whole field must be consumed.
func parseField(field, name string, bitSize int) (uint64, bool) {
	digits, ok := strings.CutPrefix(field, name+"=")
	if !ok || digits == "" || digits[0] < '0' || digits[0] > '9' {
		return 0, false
	}
	v, err := strconv.ParseUint(digits, 10, bitSize)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the write operations are not optimized away
	// by the compiler since b is still "in use" after the loop.
	runtime.KeepAlive(b)
}
