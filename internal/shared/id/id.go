// Package id provides centralized ID generation for the editor backend.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: elements of one scan sort in emission order
//   - Prefixed types: type-specific prefixes for debugging (elem_*, ses_*, req_*)
//   - Type safety: separate types prevent ID misuse
//
// Correlation identifiers for protocol messages are UUIDs: they are compared,
// never sorted, and are generated on both sides of the channel.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// ElementID identifies one editable element within a single scan
type ElementID string

// SessionID identifies an editing session
type SessionID string

// CorrelationID links a command to the reply it provokes
type CorrelationID string

// RequestID identifies one HTTP request in logs
type RequestID string

// ============================================================================
// ID Prefixes (for debugging and type identification)
// ============================================================================

const (
	ElementPrefix = "elem"
	SessionPrefix = "ses"
	RequestPrefix = "req"
)

// ============================================================================
// ULID Generator (Primary)
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by a monotonic reader so
// that IDs minted within the same millisecond still sort in creation order.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewElementID generates a new element ID
func NewElementID() ElementID {
	return ElementID(Default().GenerateWithPrefix(ElementPrefix))
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewCorrelationID generates a new random correlation ID
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

func (id ElementID) String() string     { return string(id) }
func (id SessionID) String() string     { return string(id) }
func (id CorrelationID) String() string { return string(id) }
func (id RequestID) String() string     { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
