// Package uuid issues worker job identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 job ids, which sort by creation time.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewJobID returns a fresh id as the 16 raw bytes carried by progress events.
func (Generator) NewJobID() ([16]byte, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return [16]byte{}, fmt.Errorf("generate job id: %w", err)
	}
	return id, nil
}

// String renders a raw job id in canonical form.
func String(id [16]byte) string {
	return uuid.UUID(id).String()
}
