package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Identity is an opaque cryptographic identity as handed over by the
// decryption layer. The engine only compares identities for equality.
type Identity string

// Lane is one append-only numbering lane: a sender identity and one of its
// device-local thread UUIDs.
type Lane struct {
	Sender   Identity
	ThreadID uuid.UUID
}

func (l Lane) String() string {
	return fmt.Sprintf("%s/%s", l.Sender, l.ThreadID)
}

// Reference names a message by its logical identity rather than its
// storage key. It is the only way to address a message that may not have
// arrived yet.
type Reference struct {
	Sender   Identity
	ThreadID uuid.UUID
	Sequence int64
}

// Lane returns the numbering lane the referenced message belongs to.
func (r Reference) Lane() Lane {
	return Lane{Sender: r.Sender, ThreadID: r.ThreadID}
}

func (r Reference) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Sender, r.ThreadID, r.Sequence)
}

// IsZero reports whether the reference is unset.
func (r Reference) IsZero() bool {
	return r.Sender == "" && r.ThreadID == uuid.Nil && r.Sequence == 0
}
