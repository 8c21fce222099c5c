package server

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/deb2000-sudo/connrelay/internal/config"
	"github.com/deb2000-sudo/connrelay/internal/cryptoadapter"
	"github.com/deb2000-sudo/connrelay/internal/dispatch"
	"github.com/deb2000-sudo/connrelay/pkg/codec"
)

// Per-priority dispatch handler timeouts.
const (
	highTimeout   = 100 * time.Millisecond
	mediumTimeout = 500 * time.Millisecond
	lowTimeout    = 1 * time.Second

	// egressTimeout bounds a single send attempt, generous enough to cover
	// the rate limiter's WaitN blocking on a token.
	egressTimeout = 5 * time.Second
)

// boundsFor returns cfg's configured worker bounds for a priority name when
// one is set in priority_worker_bounds, falling back to the CPU-derived
// default otherwise.
func boundsFor(cfg config.Config, name string) dispatch.Bounds {
	if b, ok := cfg.PriorityWorkerBounds[name]; ok {
		return dispatch.Bounds{Min: b.Min, Max: b.Max}
	}
	return dispatch.BoundsForPriority(name)
}

// permitsFor mirrors boundsFor for the semaphore permit count: a configured
// Max doubles as the permit count override, since a pool can never run more
// concurrent handlers than it has workers at Max.
func permitsFor(cfg config.Config, name string) int {
	if b, ok := cfg.PriorityWorkerBounds[name]; ok && b.Max > 0 {
		return b.Max
	}
	return dispatch.PermitsForPriority(name)
}

// portAddr formats a bare port number into a listen address.
func portAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func secToDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

// buildCodec constructs the Codec every transport listener shares, wrapping
// the default JSON serializer in a SecureSerializer so file-chunk payloads
// are zstd-compressed and, when an encryption key is configured, each
// frame's payload is AES-256-GCM sealed (header, length and checksum stay
// in the clear).
func buildCodec(cfg config.Config) (*codec.Codec, error) {
	base := codec.DefaultConfig()

	secure := codec.SecureSerializer{Base: base.Serializer}
	if cfg.EncryptionKeyHex != "" {
		key, err := hex.DecodeString(cfg.EncryptionKeyHex)
		if err != nil {
			return nil, fmt.Errorf("server: decode encryption_key_hex: %w", err)
		}
		aead, err := cryptoadapter.NewAEAD(key)
		if err != nil {
			return nil, fmt.Errorf("server: construct AEAD: %w", err)
		}
		secure.AEAD = aead
	}
	base.Serializer = secure

	return codec.New(base), nil
}

// rateLimiter builds the egress throughput limiter for one priority class.
// An unset or non-positive rate means unlimited, matching egress.Pipeline's
// nil-Limiter convention. Burst is sized to one second of traffic at the
// configured rate.
func rateLimiter(cfg config.Config, priority string) *rate.Limiter {
	bytesPerSec := cfg.EgressRateLimitBytesPerSec[priority]
	if bytesPerSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
}
