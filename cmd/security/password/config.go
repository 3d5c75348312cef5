package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Legacy controls verification of hashes written by the previous
// (Spring Security) deployment, which stored bcrypt hashes.
type Legacy struct {
	AllowBcrypt   bool
	BcryptMaxCost int
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Legacy Legacy
}

// DefaultConfig returns a strong baseline for interactive forum logins.
func DefaultConfig() Config {
	// Parallelism follows the CPU count, clamped to [1..4] for containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Legacy: Legacy{
			AllowBcrypt:   true,
			BcryptMaxCost: 14,
		},
	}
}

// FromEnv loads config from environment variables on top of DefaultConfig.
//
// Env surface:
//   - FILMDOMS_ARGON2_MEMORY_KIB
//   - FILMDOMS_ARGON2_ITERATIONS
//   - FILMDOMS_ARGON2_PARALLELISM
//   - FILMDOMS_ARGON2_SALT_LEN
//   - FILMDOMS_ARGON2_KEY_LEN
//   - FILMDOMS_PASSWORD_ALLOW_BCRYPT (true/false)
//   - FILMDOMS_BCRYPT_MAX_COST
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{"FILMDOMS_BCRYPT_MAX_COST", 4, 31, &cfg.Legacy.BcryptMaxCost},
	}
	for _, f := range ints {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		n, err := atoiInRange(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = n
	}

	u32s := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{"FILMDOMS_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB}, // 8 MiB .. 1 GiB
		{"FILMDOMS_ARGON2_ITERATIONS", 1, 20, &cfg.Params.Iterations},
		{"FILMDOMS_ARGON2_SALT_LEN", 8, 64, &cfg.Params.SaltLength},
		{"FILMDOMS_ARGON2_KEY_LEN", 16, 64, &cfg.Params.KeyLength},
	}
	for _, f := range u32s {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		u, err := atou32(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = u
	}

	if v, ok := os.LookupEnv("FILMDOMS_ARGON2_PARALLELISM"); ok {
		u, err := atou32(v, 1, 64)
		if err != nil {
			return Config{}, fmt.Errorf("FILMDOMS_ARGON2_PARALLELISM: %w", err)
		}
		p, err := u32ToU8(u)
		if err != nil {
			return Config{}, fmt.Errorf("FILMDOMS_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = p
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"FILMDOMS_PASSWORD_ALLOW_BCRYPT", &cfg.Legacy.AllowBcrypt},
	}
	for _, f := range bools {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = b
	}

	return cfg, nil
}

func atoiInRange(s string, minVal, maxVal int) (int, error) {
	i64, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}

	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}

	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func u32ToU8(u uint32) (uint8, error) {
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("out of range [0..%d]", math.MaxUint8)
	}
	return uint8(u), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean")
	}
}
