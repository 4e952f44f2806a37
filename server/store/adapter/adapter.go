// Package adapter contains the interfaces to be implemented by the database adapter
package adapter

import (
	"encoding/json"

	t "github.com/aigentx/gateway/server/store/types"
)

// Adapter is the interface that must be implemented by a database
// adapter. The current schema supports a single connection by database type.
type Adapter interface {
	// General

	// Open and configure the adapter
	Open(config json.RawMessage) error
	// Close the adapter
	Close() error
	// IsOpen checks if the adapter is ready for use
	IsOpen() bool
	// GetDbVersion returns current database version.
	GetDbVersion() (int, error)
	// CheckDbVersion checks if the actual database version matches adapter version.
	CheckDbVersion() error
	// GetName returns the name of the adapter
	GetName() string
	// Version returns adapter version
	Version() int
	// CreateDb creates the database optionally dropping an existing database first.
	CreateDb(reset bool) error
	// Stats returns the DB connection stats object.
	Stats() any

	// Topic authorization records

	// TopicCreate saves a new authorization record. Returns types.ErrDuplicate if the topic already exists.
	TopicCreate(rec *t.AuthRecord) error
	// TopicGet loads a single record by topic name, if it exists. If the topic does not exist the call returns (nil, nil)
	TopicGet(topic string) (*t.AuthRecord, error)
	// MemberAdd appends a normalized identity to the member list as a single atomic set-insert.
	// Returns false if the identity is already a member. Returns types.ErrTopicNotFound if the topic is missing.
	MemberAdd(topic, user string) (bool, error)
}
