// Package envelope implements the signed message envelope used for every
// protocol message between agent and server.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"
)

// FreshnessWindow bounds the allowed clock skew between signing and
// verification. Envelopes older than this are rejected.
const FreshnessWindow = 10 * time.Second

// Verification failures. All of them mean "discard the message"; none are
// fatal to the connection handling them.
var (
	ErrMalformed = errors.New("envelope: not a valid envelope")
	ErrStale     = errors.New("envelope: timestamp outside freshness window")
	ErrChecksum  = errors.New("envelope: checksum mismatch")
)

// IsAuthError reports whether err is a verification failure, as opposed to a
// transport error. Callers ignore the former and reconnect on the latter.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrStale) || errors.Is(err, ErrChecksum)
}

// Envelope is the wire form: the payload, the signing time as unix seconds,
// and a sha256 checksum over payload, timestamp and the shared secret.
type Envelope struct {
	Payload   string  `json:"payload"`
	Timestamp float64 `json:"timestamp"`
	Checksum  string  `json:"checksum"`
}

// Codec signs and verifies envelopes with a pre-shared secret token. The
// scheme proves possession of the token and freshness only; the channel is
// not confidential, and anyone holding the token can forge messages.
type Codec struct {
	Secret string
	Now    func() time.Time
}

func (c *Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// timestampString is the canonical string form of a timestamp for hashing.
// Signer and verifier must produce it from the same float64 value.
func timestampString(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}

func checksum(payload, ts, secret string) string {
	sum := sha256.Sum256([]byte(payload + ts + secret))
	return hex.EncodeToString(sum[:])
}

// Sign wraps payload in a checksummed envelope stamped with the current time.
func (c *Codec) Sign(payload string) ([]byte, error) {
	ts := float64(c.now().UnixNano()) / float64(time.Second)
	env := Envelope{
		Payload:   payload,
		Timestamp: ts,
		Checksum:  checksum(payload, timestampString(ts), c.Secret),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Verify parses and authenticates a wire message and returns its payload.
// Each rejection reason is logged; all failures surface as one of the
// sentinel errors above.
func (c *Codec) Verify(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[ERROR] Rejected message: not a JSON envelope: %v", err)
		return "", ErrMalformed
	}
	stamped := time.Unix(0, int64(env.Timestamp*float64(time.Second)))
	skew := c.now().Sub(stamped)
	if skew < 0 {
		skew = -skew
	}
	if skew >= FreshnessWindow {
		log.Printf("[ERROR] Rejected envelope: timestamp skew %v exceeds %v", skew.Round(time.Millisecond), FreshnessWindow)
		return "", ErrStale
	}
	if checksum(env.Payload, timestampString(env.Timestamp), c.Secret) != env.Checksum {
		log.Print("[ERROR] Rejected envelope: checksum mismatch")
		return "", ErrChecksum
	}
	return env.Payload, nil
}
