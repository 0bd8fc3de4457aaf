package idhash

import "github.com/google/uuid"

// NewJobID returns a random job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// NewWFOID returns a random WFO identifier, prefixed to tell it apart from job ids in logs.
func NewWFOID() string {
	return "wfo-" + uuid.NewString()
}

// IsValidJobID reports whether id has the shape produced by NewJobID.
func IsValidJobID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
