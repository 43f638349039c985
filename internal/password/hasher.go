package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// Params are the argon2id cost parameters for one hashing profile.
type Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultPasswordParams returns the password profile: 64 MiB, 3 passes.
// Passwords are hashed rarely, so the profile favors attack cost.
func DefaultPasswordParams() Params {
	return Params{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// DefaultTokenParams returns the token profile: 16 MiB, 2 passes.
// Refresh and reset tokens are hashed on every use, so this profile
// stays within request latency budget.
func DefaultTokenParams() Params {
	return Params{Memory: 16 * 1024, Time: 2, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// Hasher produces and verifies argon2id hashes in PHC encoding
// ($argon2id$v=..$m=..,t=..,p=..$salt$hash). It carries two cost
// profiles: one for passwords and a cheaper one for high-frequency
// token hashing. Verification is constant-time over the digest and
// never returns an error for malformed input.
type Hasher struct {
	password Params
	token    Params
}

// NewHasher validates both profiles and returns a Hasher.
func NewHasher(passwordParams, tokenParams Params) (*Hasher, error) {
	if err := validateParams("password", passwordParams); err != nil {
		return nil, err
	}
	if err := validateParams("token", tokenParams); err != nil {
		return nil, err
	}
	return &Hasher{password: passwordParams, token: tokenParams}, nil
}

// HashPassword hashes a plaintext password with the password profile.
func (h *Hasher) HashPassword(plaintext string) (string, error) {
	return hash(h.password, plaintext)
}

// VerifyPassword reports whether plaintext matches the encoded hash.
// Malformed hashes verify as false, never as an error.
func (h *Hasher) VerifyPassword(plaintext, encoded string) bool {
	return verify(plaintext, encoded)
}

// HashToken hashes an opaque token with the cheaper token profile.
func (h *Hasher) HashToken(plaintext string) (string, error) {
	return hash(h.token, plaintext)
}

// VerifyToken reports whether plaintext matches the encoded hash.
func (h *Hasher) VerifyToken(plaintext, encoded string) bool {
	return verify(plaintext, encoded)
}

func hash(p Params, plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("cannot hash empty input")
	}

	salt := make([]byte, p.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	digest := argon2.IDKey([]byte(plaintext), salt, p.Time, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		p.Memory,
		p.Time,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// verify recomputes the digest with the parameters embedded in the
// encoded hash, so it works for either profile and for hashes minted
// under older cost settings.
func verify(plaintext, encoded string) bool {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false
	}

	computed := argon2.IDKey(
		[]byte(plaintext),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.digest)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.digest) == 1
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	digest      []byte
}

func parsePHC(encoded string) (*parsedPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	if !strings.HasPrefix(parts[2], "v=") {
		return nil, errors.New("missing argon2 version")
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	out := &parsedPHC{}
	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid parameter entry")
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v == 0 {
				return nil, errors.New("invalid memory parameter")
			}
			out.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v == 0 {
				return nil, errors.New("invalid time parameter")
			}
			out.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v == 0 {
				return nil, errors.New("invalid parallelism parameter")
			}
			out.parallelism = uint8(v)
		default:
			return nil, errors.New("unsupported parameter")
		}
	}
	if out.memory == 0 || out.time == 0 || out.parallelism == 0 {
		return nil, errors.New("missing parameters")
	}

	out.salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(out.salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt")
	}
	out.digest, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(out.digest) == 0 {
		return nil, errors.New("invalid digest")
	}

	return out, nil
}

func validateParams(profile string, p Params) error {
	if p.Memory < minMemoryKB {
		return fmt.Errorf("%s memory must be >= %d KB", profile, minMemoryKB)
	}
	if p.Time < minTimeCost {
		return fmt.Errorf("%s time cost must be >= %d", profile, minTimeCost)
	}
	if p.Parallelism < minParallelism {
		return fmt.Errorf("%s parallelism must be >= %d", profile, minParallelism)
	}
	if p.SaltLength < minSaltLength {
		return fmt.Errorf("%s salt length must be >= %d", profile, minSaltLength)
	}
	if p.KeyLength < minKeyLength {
		return fmt.Errorf("%s key length must be >= %d", profile, minKeyLength)
	}
	return nil
}
