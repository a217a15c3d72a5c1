package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identities. The version suffix
// allows a future change of the encoded fields.
const (
	DomainMutation = "msgweave/mutation/v1"
	DomainMessage  = "msgweave/message/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MutationFingerprint identifies a mutation request by content, so that
// the same request delivered twice (retry, relay by another device) is
// stored once. Authorized is excluded: it describes the local decision,
// not the request.
func MutationFingerprint(p MutationPayload) (string, error) {
	obj := map[string]any{
		"discussion": p.DiscussionID,
		"kind":       string(p.Kind),
		"requester":  string(p.Requester),
		"target":     referenceObject(p.Target),
		"server_ms":  p.ServerTimestamp.UnixMilli(),
	}
	switch p.Kind {
	case MutationEdit:
		obj["body"] = NormalizeBody(p.Body)
		obj["mentions"] = identityStrings(p.Mentions)
	case MutationReaction:
		obj["emoji"] = NormalizeEmoji(p.Emoji)
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("mutation fingerprint: %w", err)
	}
	return hashWithDomain(DomainMutation, canonical), nil
}

// MessageFingerprint identifies a message payload by its logical identity.
// It stands in for the engine message id when the transport supplied none.
func MessageFingerprint(discussionID int64, ref Reference) (string, error) {
	obj := map[string]any{
		"discussion": discussionID,
		"reference":  referenceObject(ref),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("message fingerprint: %w", err)
	}
	return hashWithDomain(DomainMessage, canonical), nil
}

func referenceObject(r Reference) map[string]any {
	return map[string]any{
		"sender":   string(r.Sender),
		"thread":   r.ThreadID.String(),
		"sequence": r.Sequence,
	}
}

func identityStrings(ids []Identity) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
