// Package memory is an in-process database adapter. Records do not survive a restart.
package memory

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/aigentx/gateway/server/store"
	t "github.com/aigentx/gateway/server/store/types"
)

const (
	adpVersion  = 1
	adapterName = "memory"
)

type configType struct {
	// Records to preload on Open.
	Topics []struct {
		Name    string   `json:"name"`
		Creator string   `json:"creator"`
		Members []string `json:"members"`
	} `json:"topics,omitempty"`
}

// adapter keeps records in a map. Records are never mutated in place: a writer publishes
// a modified copy, so a reader holding a record always sees a complete value.
type adapter struct {
	lock   sync.RWMutex
	topics map[string]*t.AuthRecord
	open   bool
}

// Open initializes the adapter
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.open {
		return errors.New("memory adapter is already connected")
	}

	var config configType
	if len(jsonconfig) > 1 {
		if err := json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("memory adapter failed to parse config: " + err.Error())
		}
	}

	if a.topics == nil {
		a.topics = make(map[string]*t.AuthRecord)
	}
	for _, tt := range config.Topics {
		rec := &t.AuthRecord{
			Topic:     tt.Name,
			Creator:   t.NormalizeIdentity(tt.Creator),
			CreatedAt: t.TimeNow(),
		}
		for _, m := range tt.Members {
			m = t.NormalizeIdentity(m)
			if !rec.IsAuthorized(m) {
				rec.Members = append(rec.Members, m)
			}
		}
		a.topics[tt.Name] = rec
	}

	a.open = true
	return nil
}

// Close marks the adapter closed. Records are kept.
func (a *adapter) Close() error {
	a.lock.Lock()
	a.open = false
	a.lock.Unlock()
	return nil
}

// IsOpen returns true if the adapter has been opened.
func (a *adapter) IsOpen() bool {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.open
}

// GetDbVersion returns the adapter version: there is nothing to migrate.
func (a *adapter) GetDbVersion() (int, error) {
	return adpVersion, nil
}

// CheckDbVersion always succeeds.
func (a *adapter) CheckDbVersion() error {
	return nil
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// Version returns adapter version.
func (*adapter) Version() int {
	return adpVersion
}

// CreateDb drops all records if reset is true.
func (a *adapter) CreateDb(reset bool) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if reset || a.topics == nil {
		a.topics = make(map[string]*t.AuthRecord)
	}
	return nil
}

// Stats returns the number of stored topics.
func (a *adapter) Stats() any {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return map[string]int{"topics": len(a.topics)}
}

// TopicCreate saves a new record.
func (a *adapter) TopicCreate(rec *t.AuthRecord) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.topics == nil {
		a.topics = make(map[string]*t.AuthRecord)
	}
	if _, ok := a.topics[rec.Topic]; ok {
		return t.ErrDuplicate
	}
	a.topics[rec.Topic] = rec.Clone()
	return nil
}

// TopicGet returns a copy of the record or (nil, nil).
func (a *adapter) TopicGet(topic string) (*t.AuthRecord, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	return a.topics[topic].Clone(), nil
}

// MemberAdd publishes a copy of the record with the member appended.
func (a *adapter) MemberAdd(topic, user string) (bool, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	rec := a.topics[topic]
	if rec == nil {
		return false, t.ErrTopicNotFound
	}
	if rec.IsAuthorized(user) {
		return false, nil
	}

	upd := rec.Clone()
	upd.Members = append(upd.Members, user)
	a.topics[topic] = upd
	return true, nil
}

func init() {
	store.RegisterAdapter(&adapter{})
}
