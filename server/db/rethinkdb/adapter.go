// Package rethinkdb is a database adapter for RethinkDB.
package rethinkdb

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aigentx/gateway/server/store"
	t "github.com/aigentx/gateway/server/store/types"
	rdb "gopkg.in/rethinkdb/rethinkdb-go.v6"
)

// adapter holds RethinkDb connection data.
type adapter struct {
	conn    *rdb.Session
	dbName  string
	version int
}

const (
	defaultHost     = "localhost:28015"
	defaultDatabase = "gateway"

	adpVersion  = 1
	adapterName = "rethinkdb"
)

type configType struct {
	Database            string `json:"database,omitempty"`
	Addresses           any    `json:"addresses,omitempty"`
	Username            string `json:"username,omitempty"`
	Password            string `json:"password,omitempty"`
	AuthKey             string `json:"authkey,omitempty"`
	Timeout             int    `json:"timeout,omitempty"`
	WriteTimeout        int    `json:"write_timeout,omitempty"`
	ReadTimeout         int    `json:"read_timeout,omitempty"`
	MaxIdle             int    `json:"max_idle,omitempty"`
	MaxOpen             int    `json:"max_open,omitempty"`
	DiscoverHosts       bool   `json:"discover_hosts,omitempty"`
	NodeRefreshInterval int    `json:"node_refresh_interval,omitempty"`
}

// topicDoc is the stored shape of an authorization record.
type topicDoc struct {
	Name      string    `rethinkdb:"name"`
	Creator   string    `rethinkdb:"creator"`
	Members   []string  `rethinkdb:"members"`
	CreatedAt time.Time `rethinkdb:"createdat"`
}

// Open initializes rethinkdb session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.conn != nil {
		return errors.New("adapter rethinkdb is already connected")
	}

	var err error
	var config configType

	if len(jsonconfig) > 1 {
		if err = json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("adapter rethinkdb failed to parse config: " + err.Error())
		}
	}

	var opts rdb.ConnectOpts

	switch addr := config.Addresses.(type) {
	case nil:
		opts.Address = defaultHost
	case string:
		opts.Address = addr
	case []any:
		for _, h := range addr {
			host, ok := h.(string)
			if !ok {
				return errors.New("adapter rethinkdb failed to parse config.Addresses")
			}
			opts.Addresses = append(opts.Addresses, host)
		}
	default:
		return errors.New("adapter rethinkdb failed to parse config.Addresses")
	}

	if config.Database == "" {
		a.dbName = defaultDatabase
	} else {
		a.dbName = config.Database
	}

	opts.Database = a.dbName
	opts.Username = config.Username
	opts.Password = config.Password
	opts.AuthKey = config.AuthKey
	opts.Timeout = time.Duration(config.Timeout) * time.Second
	opts.WriteTimeout = time.Duration(config.WriteTimeout) * time.Second
	opts.ReadTimeout = time.Duration(config.ReadTimeout) * time.Second
	opts.MaxIdle = config.MaxIdle
	opts.MaxOpen = config.MaxOpen
	opts.DiscoverHosts = config.DiscoverHosts
	opts.NodeRefreshInterval = time.Duration(config.NodeRefreshInterval) * time.Second

	a.conn, err = rdb.Connect(opts)
	if err != nil {
		a.conn = nil
		return err
	}
	a.version = -1

	return nil
}

// Close closes the underlying database connection
func (a *adapter) Close() error {
	var err error
	if a.conn != nil {
		// Close will wait for all outstanding requests to finish
		err = a.conn.Close()
		a.conn = nil
		a.version = -1
	}
	return err
}

// IsOpen returns true if connection to database has been established. It does not check if
// connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.conn != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	cursor, err := rdb.DB(a.dbName).Table("kvmeta").Get("version").Field("value").Run(a.conn)
	if err != nil {
		if isMissingDb(err) {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}
	defer cursor.Close()

	if cursor.IsNil() {
		return -1, errors.New("Database not initialized")
	}

	var vers int
	if err = cursor.One(&vers); err != nil {
		return -1, err
	}

	a.version = vers

	return vers, nil
}

// CheckDbVersion checks whether the actual DB version matches the expected version of this adapter.
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

// Version returns adapter version.
func (adapter) Version() int {
	return adpVersion
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// Stats returns connection pool status.
func (a *adapter) Stats() any {
	if a.conn == nil {
		return nil
	}
	return map[string]bool{"connected": a.conn.IsConnected()}
}

// CreateDb initializes the storage. If reset is true, the database is first deleted losing all the data.
func (a *adapter) CreateDb(reset bool) error {
	// Drop database if exists, ignore error if it does not.
	if reset {
		rdb.DBDrop(a.dbName).RunWrite(a.conn)
	}

	if _, err := rdb.DBCreate(a.dbName).RunWrite(a.conn); err != nil {
		return err
	}

	// Key-value metadata for managing schema updates.
	if _, err := rdb.DB(a.dbName).TableCreate("kvmeta", rdb.TableCreateOpts{PrimaryKey: "key"}).RunWrite(a.conn); err != nil {
		return err
	}
	if _, err := rdb.DB(a.dbName).Table("kvmeta").Insert(
		map[string]any{"key": "version", "value": adpVersion}).RunWrite(a.conn); err != nil {
		return err
	}

	// Topic authorization records. The primary key is the topic name.
	if _, err := rdb.DB(a.dbName).TableCreate("topics", rdb.TableCreateOpts{PrimaryKey: "name"}).RunWrite(a.conn); err != nil {
		return err
	}
	// Secondary index on members to find topics a user belongs to.
	if _, err := rdb.DB(a.dbName).Table("topics").IndexCreate("members",
		rdb.IndexCreateOpts{Multi: true}).RunWrite(a.conn); err != nil {
		return err
	}

	a.version = adpVersion
	return nil
}

// TopicCreate saves an authorization record.
func (a *adapter) TopicCreate(rec *t.AuthRecord) error {
	members := rec.Members
	if members == nil {
		members = []string{}
	}
	_, err := rdb.DB(a.dbName).Table("topics").Insert(&topicDoc{
		Name:      rec.Topic,
		Creator:   rec.Creator,
		Members:   members,
		CreatedAt: rec.CreatedAt,
	}).RunWrite(a.conn)
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

// TopicGet loads a single record by topic name.
func (a *adapter) TopicGet(topic string) (*t.AuthRecord, error) {
	cursor, err := rdb.DB(a.dbName).Table("topics").Get(topic).Run(a.conn)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	if cursor.IsNil() {
		return nil, nil
	}

	var doc topicDoc
	if err = cursor.One(&doc); err != nil {
		return nil, err
	}

	if doc.Members == nil {
		doc.Members = []string{}
	}
	return &t.AuthRecord{
		Topic:     doc.Name,
		Creator:   doc.Creator,
		Members:   doc.Members,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// MemberAdd appends the member with setInsert. Single document updates are atomic.
func (a *adapter) MemberAdd(topic, user string) (bool, error) {
	res, err := rdb.DB(a.dbName).Table("topics").Get(topic).
		Update(map[string]any{"members": rdb.Row.Field("members").SetInsert(user)}).
		RunWrite(a.conn)
	if err != nil {
		return false, err
	}
	if res.Skipped > 0 {
		// Get() returned null: no such topic.
		return false, t.ErrTopicNotFound
	}
	return res.Replaced > 0, nil
}

func isDupe(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Duplicate primary key")
}

func isMissingDb(err error) bool {
	return err != nil && strings.Contains(err.Error(), "does not exist")
}

// GetTestAdapter returns an adapter object. It's required for running tests.
func GetTestAdapter() *adapter {
	return &adapter{}
}

func init() {
	store.RegisterAdapter(&adapter{})
}
