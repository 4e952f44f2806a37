/******************************************************************************
 *
 *  Copyright (C) 2014 Tinode, All Rights Reserved
 *
 *  This program is free software; you can redistribute it and/or modify it
 *  under the terms of the GNU Affero General Public License as published by
 *  the Free Software Foundation; either version 3 of the License, or (at your
 *  option) any later version.
 *
 *  This program is distributed in the hope that it will be useful, but
 *  WITHOUT ANY WARRANTY; without even the implied warranty of MERCHANTABILITY
 *  or FITNESS FOR A PARTICULAR PURPOSE.
 *  See the GNU Affero General Public License for more details.
 *
 *  You should have received a copy of the GNU Affero General Public License
 *  along with this program; if not, see <http://www.gnu.org/licenses>.
 *
 *  This code is available under licenses for commercial use.
 *
 *  File        :  main.go
 *  Author      :  Gene Sokolov
 *  Created     :  18-May-2014
 *
 ******************************************************************************
 *
 *  Description :
 *
 *  Setup & initialization.
 *
 *****************************************************************************/

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/aigentx/gateway/server/concurrency"
	"github.com/aigentx/gateway/server/logs"
	"github.com/aigentx/gateway/server/oracle"
	"github.com/aigentx/gateway/server/store"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	jcr "github.com/tinode/jsonco"

	// Authorization store adapters.
	_ "github.com/aigentx/gateway/server/db/memory"
	_ "github.com/aigentx/gateway/server/db/mongodb"
	_ "github.com/aigentx/gateway/server/db/mysql"
	_ "github.com/aigentx/gateway/server/db/postgres"
	_ "github.com/aigentx/gateway/server/db/rethinkdb"

	// Agent oracles.
	_ "github.com/aigentx/gateway/server/oracle/echo"
	_ "github.com/aigentx/gateway/server/oracle/rest"
)

const (
	// Terminate session after this timeout.
	idleSessionTimeout = time.Second * 55

	// Default maximum size of a client message or HTTP request body.
	defaultMaxMessageSize = 1 << 16
	// Default maximum length of a prompt in grapheme clusters.
	defaultMaxPromptLength = 4096
	// Default number of concurrent agent requests.
	defaultOracleWorkers = 64
	// Default timeout of an agent request.
	defaultOracleTimeout = 60 * time.Second
	// Default length of a session's outbound queue.
	defaultSendQueueLimit = 128
	// Default metrics endpoint.
	defaultMetricsPath = "/metrics"

	// currentVersion is the current server version.
	currentVersion = "0.1"
)

// Build version number defined by the compiler:
//
//	-ldflags "-X main.buildstamp=value_to_assign_to_buildstamp"
//
// For instance, to set it to git tag:
//
//	-ldflags "-X main.buildstamp=`git describe --tags`"
var buildstamp = "undef"

// Dev origins of the web app.
// Origins of local development frontends.
var defaultCorsOrigins = []string{
	"http://localhost:3000", "http://127.0.0.1:3000",
	"http://localhost:3001", "http://0.0.0.0:3001",
	"http://localhost:5173", "http://127.0.0.1:5173",
	"http://localhost:5174", "http://127.0.0.1:5174",
	"http://localhost:8000", "http://127.0.0.1:8000", "http://0.0.0.0:8000",
}

var globals struct {
	sessionStore *SessionStore

	// Agent and the pool which runs requests to it.
	oracle        oracle.Handler
	oraclePool    *concurrency.GoRoutinePool
	oracleTimeout time.Duration

	apiKeySalt []byte

	// Maximum allowed size of a client message or HTTP request body.
	maxMessageSize int64
	// Maximum length of a prompt in grapheme clusters. 0 means no limit.
	maxPromptLength int
	// Length of a session's outbound queue.
	sendQueueLimit int

	// Take IP address of the client from HTTP header 'X-Forwarded-For'.
	useXForwardedFor bool

	// URL path for exposing runtime profiles. Empty string disables.
	pprofPath string

	// Add Strict-Transport-Security to headers, the value signifies age.
	// Empty string "" turns it off
	tlsStrictMaxAge string
}

type configType struct {
	// HTTP(S) address:port to listen on for websocket and HTTP requests.
	Listen string `json:"listen"`
	// TLS (httpS) config
	TLS json.RawMessage `json:"tls"`
	// Salt used in signing API keys
	APIKeySalt []byte `json:"api_key_salt"`
	// Maximum message size allowed from the client. Intended to prevent malicious clients
	// from sending very large messages inband.
	MaxMessageSize int `json:"max_message_size"`
	// Maximum length of a prompt in grapheme clusters. Negative value disables the check.
	MaxPromptLength int `json:"max_prompt_length"`
	// Maximum number of agent requests in flight.
	OracleWorkers int `json:"oracle_workers"`
	// Agent request timeout in seconds.
	OracleTimeout int `json:"oracle_timeout"`
	// Length of a session's outbound queue.
	SendQueueLimit int `json:"send_queue_limit"`
	// Origins allowed to make cross-origin requests.
	CorsOrigins []string `json:"cors_origins"`
	// Take IP address of the client from HTTP header 'X-Forwarded-For'.
	// Useful when the server is behind a reverse proxy.
	UseXForwardedFor bool `json:"use_x_forwarded_for"`
	// URL path for exposing Prometheus metrics. "-" disables.
	MetricsPath string `json:"metrics_path"`
	// Node ID for generating session IDs, 0..1023.
	WorkerID int `json:"worker_id"`

	Logging      logs.Config     `json:"logging"`
	StoreConfig  json.RawMessage `json:"store_config"`
	OracleConfig json.RawMessage `json:"oracle_config"`
}

// loadConfig reads the config file. References to environment variables in the form
// ${NAME} are expanded before parsing.
func loadConfig(path string) (*configType, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw = []byte(os.ExpandEnv(string(raw)))

	var config configType
	jr := jcr.New(bytes.NewReader(raw))
	if err = json.NewDecoder(jr).Decode(&config); err != nil {
		switch jerr := err.(type) {
		case *json.UnmarshalTypeError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			return nil, fmt.Errorf("unmarshall error in config file in %s at %d:%d (offset %d bytes): %w",
				jerr.Field, lnum, cnum, jerr.Offset, err)
		case *json.SyntaxError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			return nil, fmt.Errorf("syntax error in config file at %d:%d (offset %d bytes): %w",
				lnum, cnum, jerr.Offset, err)
		default:
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyDefaults()
	if config.WorkerID < 0 || config.WorkerID > 1023 {
		return nil, errors.New("worker_id must be in range 0..1023")
	}
	return &config, nil
}

func (config *configType) applyDefaults() {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaultMaxMessageSize
	}
	if config.MaxPromptLength < 0 {
		config.MaxPromptLength = 0
	} else if config.MaxPromptLength == 0 {
		config.MaxPromptLength = defaultMaxPromptLength
	}
	if config.OracleWorkers <= 0 {
		config.OracleWorkers = defaultOracleWorkers
	}
	if config.SendQueueLimit <= 0 {
		config.SendQueueLimit = defaultSendQueueLimit
	}
	if len(config.CorsOrigins) == 0 {
		config.CorsOrigins = defaultCorsOrigins
	}
	if config.MetricsPath == "" {
		config.MetricsPath = defaultMetricsPath
	}
}

func (config *configType) oracleTimeout() time.Duration {
	if config.OracleTimeout > 0 {
		return time.Duration(config.OracleTimeout) * time.Second
	}
	return defaultOracleTimeout
}

func main() {
	executable, _ := os.Executable()

	var configfile = flag.String("config", "gateway.conf", "Path to config file.")
	var listenOn = flag.String("listen", "", "Override address and port to listen on for HTTP(S) clients.")
	var logLevel = flag.String("log_level", "", "Override logging level: debug, info, warn, error.")
	var envfile = flag.String("env", ".env", "Optional file with environment variables.")
	var pprofUrl = flag.String("pprof_url", "", "Debugging only! URL path for exposing profiling info. Profiling is disabled if not set.")
	flag.Parse()

	// The .env file is optional.
	if err := godotenv.Load(*envfile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logs.Warn.Println("Failed to load env file:", err)
	}

	config, err := loadConfig(*configfile)
	if err != nil {
		logs.Err.Fatal(err)
	}

	if *logLevel != "" {
		config.Logging.Level = *logLevel
	}
	logs.Init(config.Logging)

	logs.Info.Printf("Server v%s:%s:%s; pid %d; %d process(es)",
		currentVersion, executable, buildstamp,
		os.Getpid(), runtime.GOMAXPROCS(runtime.NumCPU()))
	logs.Info.Printf("Using config from '%s'", *configfile)

	if *listenOn != "" {
		config.Listen = *listenOn
	}

	if err = store.Store.Open(config.WorkerID, config.StoreConfig); err != nil {
		logs.Err.Fatal("Failed to connect to DB: ", err)
	}
	logs.Info.Println("DB adapter", store.Store.GetAdapterName(), store.Store.GetAdapterVersion())
	defer func() {
		store.Store.Close()
		logs.Info.Println("Closed database connection(s)")
	}()

	globals.oracle, err = oracle.Init(config.OracleConfig)
	if err != nil {
		logs.Err.Fatal("Failed to initialize agent oracle: ", err)
	}
	logs.Info.Println("Agent oracles available:", strings.Join(oracle.Available(), ", "))

	globals.oraclePool = concurrency.NewGoRoutinePool(config.OracleWorkers)
	defer globals.oraclePool.Stop()
	globals.oracleTimeout = config.oracleTimeout()

	globals.sessionStore = NewSessionStore()
	globals.apiKeySalt = config.APIKeySalt
	globals.maxMessageSize = int64(config.MaxMessageSize)
	globals.maxPromptLength = config.MaxPromptLength
	globals.sendQueueLimit = config.SendQueueLimit
	globals.useXForwardedFor = config.UseXForwardedFor
	globals.pprofPath = *pprofUrl

	tlsConf, err := parseTLSConfig(config.TLS)
	if err != nil {
		logs.Err.Fatal(err)
	}

	handler := newHTTPHandler(config.MetricsPath, config.CorsOrigins)
	if err = listenAndServe(config.Listen, handler, tlsConf, signalHandler()); err != nil {
		logs.Err.Fatal(err)
	}
	logs.Info.Println("All done, good bye")
}
