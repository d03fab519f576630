// Package models defines core data structures for identities, transcripts, chunks and queries.
package models

import "fmt"

// IdentityID is the registry row ordinal assigned at enrollment.
type IdentityID int

// String returns the decimal form used in the registry sidecar.
func (id IdentityID) String() string {
	return fmt.Sprintf("%d", int(id))
}

// Identity is a registered person. Never mutated once enrolled.
type Identity struct {
	ID   IdentityID `json:"id"`
	Name string     `json:"name"`
}

// VoiceMatch is one registry hit. Distance is Euclidean; lower is closer.
type VoiceMatch struct {
	Identity Identity `json:"identity"`
	Distance float64  `json:"distance"`
}
