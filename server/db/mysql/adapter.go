// Package mysql is a database adapter for MySQL.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aigentx/gateway/server/store"
	t "github.com/aigentx/gateway/server/store/types"
	ms "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// adapter holds MySQL connection data.
type adapter struct {
	db      *sqlx.DB
	dsn     string
	dbName  string
	version int

	// Single query timeout.
	sqlTimeout time.Duration
}

const (
	defaultDSN      = "root:@tcp(localhost:3306)/gateway?parseTime=true"
	defaultDatabase = "gateway"

	adpVersion = 1

	adapterName = "mysql"
)

type configType struct {
	DSN    string `json:"dsn,omitempty"`
	DBName string `json:"database,omitempty"`

	// Maximum number of open connections to the database.
	MaxOpenConns int `json:"max_open_conns,omitempty"`
	// Maximum number of connections in the idle connection pool.
	MaxIdleConns int `json:"max_idle_conns,omitempty"`
	// Maximum amount of time a connection may be reused (in seconds).
	ConnMaxLifetime int `json:"conn_max_lifetime,omitempty"`
	// DB request timeout (in seconds).
	SqlTimeout int `json:"sql_timeout,omitempty"`
}

// row shape for reading topics.
type topicRow struct {
	Name      string    `db:"name"`
	Creator   string    `db:"creator"`
	CreatedAt time.Time `db:"createdat"`
}

func (a *adapter) getContext() (context.Context, context.CancelFunc) {
	if a.sqlTimeout > 0 {
		return context.WithTimeout(context.Background(), a.sqlTimeout)
	}
	return context.Background(), nil
}

// Open initializes the connection pool.
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.db != nil {
		return errors.New("mysql adapter is already connected")
	}

	var err error
	var config configType

	if len(jsonconfig) > 1 {
		if err = json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("mysql adapter failed to parse config: " + err.Error())
		}
	}

	a.dsn = config.DSN
	if a.dsn == "" {
		a.dsn = defaultDSN
	}

	a.dbName = config.DBName
	if a.dbName == "" {
		a.dbName = defaultDatabase
	}

	if config.SqlTimeout > 0 {
		a.sqlTimeout = time.Duration(config.SqlTimeout) * time.Second
	}

	a.db, err = sqlx.Open("mysql", a.dsn)
	if err != nil {
		return err
	}

	// sql.Open does not open the network connection.
	// Force network connection here.
	err = a.db.Ping()
	if isMissingDb(err) {
		// Missing DB is OK if we are initializing the database.
		err = nil
	}
	if err != nil {
		a.db.Close()
		a.db = nil
		return err
	}

	if config.MaxOpenConns > 0 {
		a.db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		a.db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		a.db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}

	a.version = -1

	return nil
}

// Close closes the underlying database connection
func (a *adapter) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
		a.db = nil
		a.version = -1
	}
	return err
}

// IsOpen returns true if connection to database has been established. It does not check if
// connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}

	var vers string
	err := a.db.GetContext(ctx, &vers, "SELECT `value` FROM kvmeta WHERE `key`='version'")
	if err != nil {
		if isMissingDb(err) || isMissingTable(err) || err == sql.ErrNoRows {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}

	a.version, _ = strconv.Atoi(vers)

	return a.version, nil
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

// Stats returns DB connection stats object.
func (a *adapter) Stats() any {
	if a.db == nil {
		return nil
	}
	return a.db.Stats()
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// CreateDb initializes the storage. If reset is true, the database is dropped first.
func (a *adapter) CreateDb(reset bool) error {
	var err error
	var tx *sql.Tx

	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}

	// Can't use an existing connection because it's configured with a database name which may not exist.
	// Don't care if it does not close cleanly.
	a.db.Close()

	cfg, err := ms.ParseDSN(a.dsn)
	if err != nil {
		return err
	}
	cfg.DBName = ""
	if a.db, err = sqlx.Open("mysql", cfg.FormatDSN()); err != nil {
		return err
	}

	if tx, err = a.db.BeginTx(ctx, nil); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			// MySQL auto-commits DDL: the transaction only pins one connection for USE.
			tx.Rollback()
		}
	}()

	if reset {
		if _, err = tx.Exec("DROP DATABASE IF EXISTS " + a.dbName); err != nil {
			return err
		}
	}

	if _, err = tx.Exec("CREATE DATABASE " + a.dbName + " CHARACTER SET utf8mb4 COLLATE utf8mb4_bin"); err != nil {
		return err
	}

	if _, err = tx.Exec("USE " + a.dbName); err != nil {
		return err
	}

	if _, err = tx.Exec(
		`CREATE TABLE kvmeta(` +
			"`key`   CHAR(32)," +
			"`value` TEXT," +
			"PRIMARY KEY(`key`)" +
			`)`); err != nil {
		return err
	}
	if _, err = tx.Exec("INSERT INTO kvmeta(`key`, `value`) VALUES('version', ?)", strconv.Itoa(adpVersion)); err != nil {
		return err
	}

	// Binary collation keeps topic names case-sensitive.
	if _, err = tx.Exec(
		`CREATE TABLE topics(
			name      VARCHAR(255) NOT NULL,
			creator   VARCHAR(255) NOT NULL,
			createdat DATETIME(3) NOT NULL,
			PRIMARY KEY(name)
		)`); err != nil {
		return err
	}

	if _, err = tx.Exec(
		`CREATE TABLE members(
			topic     VARCHAR(255) NOT NULL,
			userid    VARCHAR(255) NOT NULL,
			createdat DATETIME(3) NOT NULL,
			PRIMARY KEY(topic, userid),
			FOREIGN KEY(topic) REFERENCES topics(name)
		)`); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	// Reconnect to the newly created database.
	a.db.Close()
	cfg.DBName = a.dbName
	a.db, err = sqlx.Open("mysql", cfg.FormatDSN())
	return err
}

// TopicCreate saves an authorization record.
func (a *adapter) TopicCreate(rec *t.AuthRecord) error {
	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}

	_, err := a.db.ExecContext(ctx, "INSERT INTO topics(name,creator,createdat) VALUES(?,?,?)",
		rec.Topic, rec.Creator, rec.CreatedAt)
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

// TopicGet loads the record and its members inside a read-only transaction.
func (a *adapter) TopicGet(topic string) (*t.AuthRecord, error) {
	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}

	tx, err := a.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var row topicRow
	if err = tx.GetContext(ctx, &row, "SELECT name,creator,createdat FROM topics WHERE name=?", topic); err != nil {
		if err == sql.ErrNoRows {
			// Nothing found - clear the error
			err = nil
		}
		return nil, err
	}

	members := []string{}
	if err = tx.SelectContext(ctx, &members,
		"SELECT userid FROM members WHERE topic=? ORDER BY createdat", topic); err != nil {
		return nil, err
	}

	return &t.AuthRecord{
		Topic:     row.Name,
		Creator:   row.Creator,
		Members:   members,
		CreatedAt: row.CreatedAt,
	}, nil
}

// MemberAdd inserts a member row. Duplicates are ignored.
func (a *adapter) MemberAdd(topic, user string) (bool, error) {
	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}

	res, err := a.db.ExecContext(ctx, "INSERT IGNORE INTO members(topic,userid,createdat) VALUES(?,?,?)",
		topic, user, t.TimeNow())
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, t.ErrTopicNotFound
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// INSERT IGNORE also swallows foreign key errors.
		var count int
		if err = a.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM topics WHERE name=?", topic); err != nil {
			return false, err
		}
		if count == 0 {
			return false, t.ErrTopicNotFound
		}
	}
	return n > 0, nil
}

func mysqlErrorNumber(err error) uint16 {
	var myerr *ms.MySQLError
	if errors.As(err, &myerr) {
		return myerr.Number
	}
	return 0
}

func isDupe(err error) bool {
	return mysqlErrorNumber(err) == 1062
}

func isForeignKeyViolation(err error) bool {
	return mysqlErrorNumber(err) == 1452
}

func isMissingTable(err error) bool {
	return mysqlErrorNumber(err) == 1146
}

func isMissingDb(err error) bool {
	if err == nil {
		return false
	}
	return mysqlErrorNumber(err) == 1049 || strings.Contains(err.Error(), "Unknown database")
}

// GetTestAdapter returns an adapter object. It's required for running tests.
func GetTestAdapter() *adapter {
	return &adapter{}
}

func init() {
	store.RegisterAdapter(&adapter{})
}
