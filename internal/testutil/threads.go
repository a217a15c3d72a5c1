package testutil

import "github.com/google/uuid"

// threadNamespace scopes the name-based thread ids handed out by ThreadID.
var threadNamespace = uuid.MustParse("6f1c2b7e-3a4d-5e6f-8a9b-0c1d2e3f4a5b")

// ThreadID derives a stable sender thread id from a readable name.
//
// Scenario files name threads ("alice-phone") instead of spelling out
// UUIDs; the same name always maps to the same id. A name that already
// parses as a UUID is returned as is.
func ThreadID(name string) uuid.UUID {
	if id, err := uuid.Parse(name); err == nil {
		return id
	}
	return uuid.NewSHA1(threadNamespace, []byte(name))
}
