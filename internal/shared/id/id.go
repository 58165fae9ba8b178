// Package id provides centralized ID generation for the gateway.
//
// Connection and session identifiers are prefixed ULIDs: lexicographically
// sortable, unique across nodes, and readable in logs (conn_*, sess_*).
// Separate Go types prevent one kind of ID being passed where another is
// expected.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ConnectionID identifies one accepted socket.
type ConnectionID string

// SessionID identifies a logical chat session.
type SessionID string

// ID prefixes for debugging and type identification.
const (
	ConnectionPrefix = "conn"
	SessionPrefix    = "sess"
	RequestPrefix    = "req"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator with secure entropy.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// Generate creates a new ULID string.
func (g *Generator) Generate() string {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

// NewConnectionID generates a new connection ID.
func NewConnectionID() ConnectionID {
	return ConnectionID(Default().GenerateWithPrefix(ConnectionPrefix))
}

// NewSessionID generates a new session ID.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewRequestID generates an ID for correlating one HTTP request in logs.
func NewRequestID() string {
	return Default().GenerateWithPrefix(RequestPrefix)
}

func (id ConnectionID) String() string { return string(id) }
func (id SessionID) String() string    { return string(id) }
