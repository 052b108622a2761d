package passkey

import (
	"strings"

	"github.com/gear-foundation/one-of-us/internal/localstore"
)

// ProgramIDKey is where the authenticated account program id is kept.
const ProgramIDKey = "varauth_program_id"

// ProgramIDs persists the account program id obtained from WaitForAuth.
type ProgramIDs struct {
	storage localstore.Storage
}

// NewProgramIDs creates a ProgramIDs on storage.
func NewProgramIDs(storage localstore.Storage) *ProgramIDs {
	return &ProgramIDs{storage: storage}
}

// Get returns the stored id, or "" when none is stored or the stored value
// is not 0x-prefixed.
func (p *ProgramIDs) Get() (string, error) {
	v, ok, err := p.storage.Get(ProgramIDKey)
	if err != nil || !ok || !strings.HasPrefix(v, "0x") {
		return "", err
	}
	return v, nil
}

// Set stores id.
func (p *ProgramIDs) Set(id string) error {
	return p.storage.Set(ProgramIDKey, id)
}

// Clear removes the stored id.
func (p *ProgramIDs) Clear() error {
	return p.storage.Remove(ProgramIDKey)
}
