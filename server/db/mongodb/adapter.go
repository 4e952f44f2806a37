// Package mongodb is a database adapter for MongoDB.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/aigentx/gateway/server/logs"
	"github.com/aigentx/gateway/server/store"
	t "github.com/aigentx/gateway/server/store/types"
	b "go.mongodb.org/mongo-driver/bson"
	mdb "go.mongodb.org/mongo-driver/mongo"
	mdbopts "go.mongodb.org/mongo-driver/mongo/options"
)

// adapter holds MongoDB connection data.
type adapter struct {
	conn    *mdb.Client
	db      *mdb.Database
	dbName  string
	version int
	ctx     context.Context

	// Single request timeout.
	timeout time.Duration
}

const (
	defaultHost     = "localhost:27017"
	defaultDatabase = "gateway"

	adpVersion  = 1
	adapterName = "mongodb"
)

// See https://godoc.org/go.mongodb.org/mongo-driver/mongo/options#ClientOptions for explanations.
type configType struct {
	Addresses      any `json:"addresses,omitempty"`
	ConnectTimeout int `json:"timeout,omitempty"`

	// Options separately from ClientOptions (custom options):
	Database   string `json:"database,omitempty"`
	ReplicaSet string `json:"replica_set,omitempty"`

	AuthSource string `json:"auth_source,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
}

// topicDoc is the stored shape of an authorization record.
type topicDoc struct {
	Id        string    `bson:"_id"`
	Creator   string    `bson:"creator"`
	Members   []string  `bson:"members"`
	CreatedAt time.Time `bson:"createdat"`
}

func (a *adapter) getContext() (context.Context, context.CancelFunc) {
	if a.timeout > 0 {
		return context.WithTimeout(a.ctx, a.timeout)
	}
	return a.ctx, func() {}
}

// Open initializes mongodb session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.conn != nil {
		return errors.New("adapter mongodb is already connected")
	}

	var err error
	var config configType
	if len(jsonconfig) > 1 {
		if err = json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("adapter mongodb failed to parse config: " + err.Error())
		}
	}

	var opts mdbopts.ClientOptions

	switch addr := config.Addresses.(type) {
	case nil:
		opts.SetHosts([]string{defaultHost})
	case string:
		opts.SetHosts([]string{addr})
	case []any:
		var hosts []string
		for _, h := range addr {
			if host, ok := h.(string); ok {
				hosts = append(hosts, host)
			} else {
				return errors.New("adapter mongodb failed to parse config.Addresses")
			}
		}
		opts.SetHosts(hosts)
	default:
		return errors.New("adapter mongodb failed to parse config.Addresses")
	}

	if config.Database == "" {
		a.dbName = defaultDatabase
	} else {
		a.dbName = config.Database
	}

	if config.ReplicaSet != "" {
		opts.SetReplicaSet(config.ReplicaSet)
	}

	if config.ConnectTimeout > 0 {
		a.timeout = time.Duration(config.ConnectTimeout) * time.Second
		opts.SetConnectTimeout(a.timeout)
	}

	if config.Username != "" {
		var passwordSet bool
		if config.AuthSource == "" {
			config.AuthSource = "admin"
		}
		if config.Password != "" {
			passwordSet = true
		}
		opts.SetAuth(
			mdbopts.Credential{
				AuthMechanism: "SCRAM-SHA-256",
				AuthSource:    config.AuthSource,
				Username:      config.Username,
				Password:      config.Password,
				PasswordSet:   passwordSet,
			})
	}

	a.ctx = context.Background()
	a.conn, err = mdb.Connect(a.ctx, &opts)
	if err != nil {
		a.conn = nil
		return err
	}
	a.db = a.conn.Database(a.dbName)
	a.version = -1

	return nil
}

// Close the adapter
func (a *adapter) Close() error {
	var err error
	if a.conn != nil {
		err = a.conn.Disconnect(a.ctx)
		a.conn = nil
		a.version = -1
	}
	return err
}

// IsOpen checks if the adapter is ready for use
func (a *adapter) IsOpen() bool {
	return a.conn != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	ctx, cancel := a.getContext()
	defer cancel()

	var result struct {
		Key   string `bson:"_id"`
		Value int
	}
	if err := a.db.Collection("kvmeta").FindOne(ctx, b.M{"_id": "version"}).Decode(&result); err != nil {
		if err == mdb.ErrNoDocuments {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}

	a.version = result.Value
	return result.Value, nil
}

// CheckDbVersion checks if the actual database version matches adapter version.
func (a *adapter) CheckDbVersion() error {
	version, err := a.GetDbVersion()
	if err != nil {
		return err
	}

	if version != adpVersion {
		return errors.New("Invalid database version " + strconv.Itoa(version) +
			". Expected " + strconv.Itoa(adpVersion))
	}

	return nil
}

// Version returns adapter version
func (a *adapter) Version() int {
	return adpVersion
}

// GetName returns the name of the adapter
func (a *adapter) GetName() string {
	return adapterName
}

// Stats returns the number of open sessions of the client.
func (a *adapter) Stats() any {
	if a.conn == nil {
		return nil
	}
	return map[string]int{"sessions": a.conn.NumberSessionsInProgress()}
}

// CreateDb creates the database optionally dropping an existing database first.
func (a *adapter) CreateDb(reset bool) error {
	ctx, cancel := a.getContext()
	defer cancel()

	if reset {
		logs.Info.Print("Dropping database...")
		if err := a.db.Drop(ctx); err != nil {
			return err
		}
	} else if a.isDbInitialized() {
		return errors.New("Database already initialized")
	}
	// Collections (tables) do not need to be explicitly created since MongoDB creates them with first write operation

	// Members are looked up by value when checking authorization.
	if _, err := a.db.Collection("topics").Indexes().CreateOne(ctx,
		mdb.IndexModel{Keys: b.M{"members": 1}}); err != nil {
		return err
	}

	// Record current DB version.
	if _, err := a.db.Collection("kvmeta").InsertOne(ctx, b.M{"_id": "version", "value": adpVersion}); err != nil {
		return err
	}
	a.version = adpVersion

	return nil
}

func (a *adapter) isDbInitialized() bool {
	ctx, cancel := a.getContext()
	defer cancel()

	var result map[string]int
	findOpts := mdbopts.FindOne().SetProjection(b.M{"value": 1, "_id": 0})
	if err := a.db.Collection("kvmeta").FindOne(ctx, b.M{"_id": "version"}, findOpts).Decode(&result); err != nil {
		return false
	}
	return true
}

// TopicCreate saves an authorization record. The topic name is the document id.
func (a *adapter) TopicCreate(rec *t.AuthRecord) error {
	ctx, cancel := a.getContext()
	defer cancel()

	members := rec.Members
	if members == nil {
		members = []string{}
	}
	_, err := a.db.Collection("topics").InsertOne(ctx, &topicDoc{
		Id:        rec.Topic,
		Creator:   rec.Creator,
		Members:   members,
		CreatedAt: rec.CreatedAt,
	})
	if mdb.IsDuplicateKeyError(err) {
		return t.ErrDuplicate
	}
	return err
}

// TopicGet loads a single record by topic name.
func (a *adapter) TopicGet(topic string) (*t.AuthRecord, error) {
	ctx, cancel := a.getContext()
	defer cancel()

	var doc topicDoc
	err := a.db.Collection("topics").FindOne(ctx, b.M{"_id": topic}).Decode(&doc)
	if err != nil {
		if err == mdb.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}

	if doc.Members == nil {
		doc.Members = []string{}
	}
	return &t.AuthRecord{
		Topic:     doc.Id,
		Creator:   doc.Creator,
		Members:   doc.Members,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// MemberAdd appends the member with $addToSet which is atomic per document.
func (a *adapter) MemberAdd(topic, user string) (bool, error) {
	ctx, cancel := a.getContext()
	defer cancel()

	res, err := a.db.Collection("topics").UpdateOne(ctx,
		b.M{"_id": topic},
		b.M{"$addToSet": b.M{"members": user}})
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 0 {
		return false, t.ErrTopicNotFound
	}
	return res.ModifiedCount > 0, nil
}

// GetTestAdapter returns an adapter object. It's required for running tests.
func GetTestAdapter() *adapter {
	return &adapter{}
}

func init() {
	store.RegisterAdapter(&adapter{})
}
