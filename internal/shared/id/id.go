// Package id provides correlation ID generation for qrexec-proxy sessions.
//
// Every invocation gets a session ID attached to each of its journal
// records; every stage instance scheduled within that session gets its own
// stage ID so that two instances of the same filter in one chain produce
// distinguishable log lines. IDs are ULIDs: lexicographically sortable by
// creation time, which makes `journalctl | sort` a meaningful operation.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies one proxy invocation.
type SessionID string

// StageID identifies one scheduled stage instance within a session.
type StageID string

const (
	SessionPrefix = "sess"
	StagePrefix   = "stage"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
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

// NewGenerator creates a new ULID generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source,
// useful for deterministic IDs in tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

func (g *Generator) generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

func (g *Generator) withPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.generate().String())
}

// NewSessionID generates a new session correlation ID.
func NewSessionID() SessionID {
	return SessionID(Default().withPrefix(SessionPrefix))
}

// NewStageID generates a new stage correlation ID.
func NewStageID() StageID {
	return StageID(Default().withPrefix(StagePrefix))
}

func (id SessionID) String() string { return string(id) }
func (id StageID) String() string   { return string(id) }
