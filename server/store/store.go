// Package store provides methods for registering and accessing database adapters.
package store

//go:generate mockgen -source=store.go -destination=mock_store/mock_store.go -package=mock_store

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/aigentx/gateway/server/store/adapter"
	"github.com/aigentx/gateway/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

// Unique ID generator
var uGen types.UidGenerator

type configType struct {
	// 16-byte key for XTEA. Used to initialize types.UidGenerator.
	UidKey []byte `json:"uid_key"`
	// DB adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

func openAdapter(workerId int, jsonconf json.RawMessage) error {
	var config configType
	if len(jsonconf) > 0 {
		if err := json.Unmarshal(jsonconf, &config); err != nil {
			return errors.New("store: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
		}
	}

	if adp == nil {
		if len(config.UseAdapter) > 0 {
			// Adapter name specified explicitly.
			if ad, ok := availableAdapters[config.UseAdapter]; ok {
				adp = ad
			} else {
				return errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
			}
		} else if len(availableAdapters) == 1 {
			// Default to the only entry in availableAdapters.
			for _, v := range availableAdapters {
				adp = v
			}
		} else {
			return errors.New("store: db adapter is not specified. Please set `store_config.use_adapter` in `gateway.conf`")
		}
	}

	if adp.IsOpen() {
		return errors.New("store: connection is already opened")
	}

	// Initialize snowflake.
	if workerId < 0 || workerId > 1023 {
		return errors.New("store: invalid worker ID")
	}

	if err := uGen.Init(uint(workerId), config.UidKey); err != nil {
		return errors.New("store: failed to init snowflake: " + err.Error())
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}

	return adp.Open(adapterConfig)
}

// PersistentStorageInterface defines methods used for interation with persistent storage.
type PersistentStorageInterface interface {
	Open(workerId int, jsonconf json.RawMessage) error
	Close() error
	IsOpen() bool
	GetAdapterName() string
	GetAdapterVersion() int
	GetDbVersion() int
	InitDb(jsonconf json.RawMessage, reset bool) error
	GetUidString() string
	DbStats() func() any
}

// Store is the main object for interacting with persistent storage.
var Store PersistentStorageInterface

type storeObj struct{}

// Open initializes the persistence system. Adapter holds a connection pool for a database instance.
//
//	name - name of the adapter rquested in the config file
//	jsonconf - configuration string
func (storeObj) Open(workerId int, jsonconf json.RawMessage) error {
	if err := openAdapter(workerId, jsonconf); err != nil {
		return err
	}

	return adp.CheckDbVersion()
}

// Close terminates connection to persistent storage.
func (storeObj) Close() error {
	if adp != nil && adp.IsOpen() {
		return adp.Close()
	}

	return nil
}

// IsOpen checks if persistent storage connection has been initialized.
func (storeObj) IsOpen() bool {
	if adp != nil {
		return adp.IsOpen()
	}

	return false
}

// GetAdapterName returns the name of the current adater.
func (storeObj) GetAdapterName() string {
	if adp != nil {
		return adp.GetName()
	}

	return ""
}

// GetAdapterVersion returns version of the current adater.
func (storeObj) GetAdapterVersion() int {
	if adp != nil {
		return adp.Version()
	}

	return -1
}

// GetDbVersion returns version of the underlying database.
func (storeObj) GetDbVersion() int {
	if adp != nil {
		vers, _ := adp.GetDbVersion()
		return vers
	}

	return -1
}

// InitDb creates and configures a new database instance. If 'reset' is true it will first
// attempt to drop an existing database. If jsconf is nil it will assume that the adapter is
// already open. If it's non-nil and the adapter is not open, it will use the config string
// to open the adapter first.
func (s storeObj) InitDb(jsonconf json.RawMessage, reset bool) error {
	if !s.IsOpen() {
		if err := openAdapter(1, jsonconf); err != nil {
			return err
		}
	}
	return adp.CreateDb(reset)
}

// GetUidString generate unique ID as string
func (storeObj) GetUidString() string {
	return uGen.GetStr()
}

// DbStats returns a callback returning db connection stats object.
func (s storeObj) DbStats() func() any {
	if !s.IsOpen() {
		return nil
	}
	return adp.Stats
}

// RegisterAdapter makes a persistence adapter available.
// If Register is called twice or if the adapter is nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: Register adapter is nil")
	}

	adapterName := a.GetName()
	if _, ok := availableAdapters[adapterName]; ok {
		panic("store: adapter '" + adapterName + "' is already registered")
	}
	availableAdapters[adapterName] = a
}

// AvailableAdapters returns sorted names of adapters compiled into the binary.
func AvailableAdapters() []string {
	names := make([]string, 0, len(availableAdapters))
	for name := range availableAdapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TopicsObjMapperInterface is an interface which defines methods for reading and
// mutating topic authorization records.
type TopicsObjMapperInterface interface {
	// Create makes a new record with the given creator and no members.
	Create(topic, creator string) (*types.AuthRecord, error)
	// Get loads the record. Returns (nil, nil) if the topic does not exist.
	Get(topic string) (*types.AuthRecord, error)
	// AddMember adds a member on behalf of the requester who must be the creator.
	// Returns false if the member already exists.
	AddMember(topic, member, requester string) (bool, error)
}

// TopicsObjMapper is a struct to hold methods for persistence mapping for topic authorization.
type TopicsObjMapper struct{}

// Topics is an instance of TopicsObjMapper to map methods to.
var Topics TopicsObjMapperInterface

// Create makes a new authorization record. The creator identity is stored normalized.
func (TopicsObjMapper) Create(topic, creator string) (*types.AuthRecord, error) {
	creator = types.NormalizeIdentity(creator)
	if strings.TrimSpace(topic) == "" || creator == "" {
		return nil, types.ErrMalformed
	}

	rec := &types.AuthRecord{
		Topic:     topic,
		Creator:   creator,
		Members:   []string{},
		CreatedAt: types.TimeNow(),
	}
	if err := adp.TopicCreate(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get loads the authorization record of the topic.
func (TopicsObjMapper) Get(topic string) (*types.AuthRecord, error) {
	if topic == "" {
		return nil, nil
	}
	return adp.TopicGet(topic)
}

// AddMember appends the member to the topic. Only the creator is allowed to add members.
// Adding an existing member (or the creator) is not an error, it just returns false.
func (TopicsObjMapper) AddMember(topic, member, requester string) (bool, error) {
	member = types.NormalizeIdentity(member)
	if member == "" {
		return false, types.ErrMalformed
	}

	rec, err := adp.TopicGet(topic)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, types.ErrTopicNotFound
	}
	if !rec.IsCreator(requester) {
		return false, types.ErrPermissionDenied
	}
	if rec.IsAuthorized(member) {
		return false, nil
	}

	return adp.MemberAdd(topic, member)
}

// Authorize checks if the user is allowed to interact with the topic.
// Returns types.ErrTopicNotFound, types.ErrUnauthorized or an internal error.
func Authorize(topics TopicsObjMapperInterface, topic, user string) (*types.AuthRecord, error) {
	rec, err := topics.Get(topic)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, types.ErrTopicNotFound
	}
	if types.NormalizeIdentity(user) == "" || !rec.IsAuthorized(user) {
		return nil, types.ErrUnauthorized
	}
	return rec, nil
}

func init() {
	Store = storeObj{}
	Topics = TopicsObjMapper{}
}
