// Package types provides data types for persisting topic authorization records.
package types

import (
	"encoding/base64"
	"encoding/binary"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// StoreError satisfies Error interface but allows constant values for
// direct comparison.
type StoreError string

// Error is required by error interface.
func (s StoreError) Error() string {
	return string(s)
}

const (
	// ErrInternal means DB or other internal failure.
	ErrInternal = StoreError("internal")
	// ErrMalformed means the topic name or identity is empty or otherwise invalid.
	ErrMalformed = StoreError("malformed")
	// ErrTopicNotFound means the topic has no authorization record.
	ErrTopicNotFound = StoreError("topic not found")
	// ErrUnauthorized means the user is neither the creator nor a member of the topic.
	ErrUnauthorized = StoreError("unauthorized")
	// ErrPermissionDenied means the requester may not modify the record.
	ErrPermissionDenied = StoreError("denied")
	// ErrDuplicate means the record already exists.
	ErrDuplicate = StoreError("duplicate value")
)

// Uid is a database-specific record id, suitable to be used as a primary key.
type Uid uint64

// ZeroUid is a constant representing uninitialized Uid.
const ZeroUid Uid = 0

// Lengths of various Uid representations.
const (
	uidBase64Unpadded = 11
)

// String converts Uid to base64 string.
func (uid Uid) String() string {
	if uid.IsZero() {
		return ""
	}
	src := make([]byte, 8)
	binary.LittleEndian.PutUint64(src, uint64(uid))
	return base64.URLEncoding.EncodeToString(src)[:uidBase64Unpadded]
}

// IsZero checks if Uid is uninitialized.
func (uid Uid) IsZero() bool {
	return uid == ZeroUid
}

// cases.Caser is stateful and cannot be shared between goroutines.
func fold(s string) string {
	return cases.Fold().String(s)
}

// NormalizeIdentity converts user identity to its canonical form used for storage and comparison.
// Identities are case-insensitive.
func NormalizeIdentity(user string) string {
	return fold(strings.TrimSpace(user))
}

// SameIdentity checks if two identities refer to the same user.
func SameIdentity(a, b string) bool {
	return NormalizeIdentity(a) == NormalizeIdentity(b)
}

// AuthRecord is the access control record of a topic: the creator plus explicitly added members.
type AuthRecord struct {
	Topic     string
	Creator   string
	Members   []string
	CreatedAt time.Time
}

// IsCreator checks if the user is the creator of the topic.
func (ar *AuthRecord) IsCreator(user string) bool {
	return ar != nil && SameIdentity(ar.Creator, user)
}

// IsMember checks if the user is in the member list. The creator is not implicitly a member.
func (ar *AuthRecord) IsMember(user string) bool {
	if ar == nil {
		return false
	}
	user = NormalizeIdentity(user)
	for _, m := range ar.Members {
		if NormalizeIdentity(m) == user {
			return true
		}
	}
	return false
}

// IsAuthorized checks if the user may interact with the topic: creator or member.
func (ar *AuthRecord) IsAuthorized(user string) bool {
	return ar.IsCreator(user) || ar.IsMember(user)
}

// Clone makes a copy of the record so it can be modified without affecting readers of the original.
func (ar *AuthRecord) Clone() *AuthRecord {
	if ar == nil {
		return nil
	}
	clone := *ar
	clone.Members = append([]string(nil), ar.Members...)
	return &clone
}

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
