// Package id provides centralized ID generation for the engine.
//
// Two families of identifiers exist:
//   - Random ULIDs for things created by an event at a point in time
//     (recovery replacements, emitted events, request traces).
//   - Derived IDs for instances produced by schedule generation. They are a
//     pure function of their inputs so regenerating an unchanged blueprint
//     yields byte-identical schedules.
//
// Every ID carries a short type prefix (inst_, evt_, req_) to keep logs readable.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mentora/engine/internal/shared/utils"
)

// InstanceID identifies one dated task instance
type InstanceID string

// EventID identifies an emitted engine event
type EventID string

// RequestID identifies an API request or trace span
type RequestID string

const (
	InstancePrefix = "inst"
	EventPrefix    = "evt"
	RequestPrefix  = "req"
)

// derivedLength is the number of hex characters kept from a derived digest.
const derivedLength = 20

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
	now       func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
	hasher           = utils.DefaultHasher()
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{entropy: entropy, now: now}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewInstanceID generates a random instance ID for replacements created by recovery.
func NewInstanceID() InstanceID {
	return InstanceID(Default().GenerateWithPrefix(InstancePrefix))
}

// NewEventID generates a new event ID
func NewEventID() EventID {
	return EventID(Default().GenerateWithPrefix(EventPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// DeriveInstanceID returns a stable instance ID for the given parts.
// Part order is significant.
func DeriveInstanceID(parts ...string) InstanceID {
	digest := hasher.HashParts(parts...)
	return InstanceID(fmt.Sprintf("%s_%s", InstancePrefix, digest[:derivedLength]))
}

func (i InstanceID) String() string { return string(i) }
func (i EventID) String() string    { return string(i) }
func (i RequestID) String() string  { return string(i) }

// IsValid checks if an ID string is a valid ULID
func IsValid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(s string) (time.Time, error) {
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
