package model

import (
	"fmt"

	"github.com/google/uuid"
)

// EntityID binds a scoped name to the internal id assigned at first creation
type EntityID struct {
	Scope string
	Name  string
	ID    uuid.UUID
}

// ScopedName returns "scope/name"
func ScopedName(scope, name string) string {
	return fmt.Sprintf("%s/%s", scope, name)
}

// String returns the scoped name followed by the id when it is known
func (e EntityID) String() string {
	if e.ID == uuid.Nil {
		return ScopedName(e.Scope, e.Name)
	}
	return fmt.Sprintf("%s/%s (%s)", e.Scope, e.Name, e.ID)
}
