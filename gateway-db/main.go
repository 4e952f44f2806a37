// Command gateway-db creates or resets the authorization database and optionally
// loads sample topics.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aigentx/gateway/server/logs"
	"github.com/aigentx/gateway/server/store"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	jcr "github.com/tinode/jsonco"

	_ "github.com/aigentx/gateway/server/db/mongodb"
	_ "github.com/aigentx/gateway/server/db/mysql"
	_ "github.com/aigentx/gateway/server/db/postgres"
	_ "github.com/aigentx/gateway/server/db/rethinkdb"
)

type configType struct {
	StoreConfig json.RawMessage `json:"store_config"`
}

// loadConfig reads the store section of the server config. References to environment
// variables in the form ${NAME} are expanded the same way the server does.
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
			return nil, err
		}
	}
	return &config, nil
}

func main() {
	var reset = flag.Bool("reset", false, "force database reset")
	var noInit = flag.Bool("no_init", false, "check that database exists but don't create if missing")
	var datafile = flag.String("data", "", "name of file with sample topics to load")
	var conffile = flag.String("config", "./gateway.conf", "config of the database connection")
	var envfile = flag.String("env", ".env", "optional file with environment variables")
	flag.Parse()

	logs.Init(logs.Config{Level: "info"})

	if err := godotenv.Load(*envfile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logs.Warn.Println("Failed to load env file:", err)
	}

	var data *Data
	if *datafile != "" && *datafile != "-" {
		var err error
		if data, err = loadData(*datafile); err != nil {
			logs.Err.Fatalln("Failed to load sample data:", err)
		}
	}

	config, err := loadConfig(*conffile)
	if err != nil {
		logs.Err.Fatalln("Failed to read config file:", err)
	}

	err = store.Store.Open(1, config.StoreConfig)
	defer store.Store.Close()

	logs.Info.Println("Database", store.Store.GetAdapterName(), store.Store.GetAdapterVersion())

	if err != nil {
		if strings.Contains(err.Error(), "Database not initialized") {
			if *noInit {
				logs.Err.Fatalln("Database not found.")
			}
			logs.Info.Println("Database not found. Creating.")
		} else if strings.Contains(err.Error(), "Invalid database version") {
			msg := "Wrong DB version: expected " + strconv.Itoa(store.Store.GetAdapterVersion()) + ", got " +
				strconv.Itoa(store.Store.GetDbVersion()) + "."
			if !*reset {
				logs.Err.Fatalln(msg, "Use --reset to reset.")
			}
			logs.Info.Println(msg, "Dropping and recreating the database.")
		} else {
			logs.Err.Fatalln("Failed to init DB adapter:", err)
		}
	} else if *reset {
		logs.Info.Println("Database reset requested")
	} else {
		logs.Info.Println("Database exists, DB version is correct.")
		if data == nil {
			os.Exit(0)
		}
	}

	if err != nil || *reset {
		if err = store.Store.InitDb(config.StoreConfig, true); err != nil {
			logs.Err.Fatalln("Failed to init DB:", err)
		}
		if *reset {
			logs.Info.Println("Database reset")
		} else {
			logs.Info.Println("Database initialized")
		}
	}

	if data != nil {
		created, err := genDb(data)
		if err != nil {
			logs.Err.Fatalln("Failed to load sample data:", err)
		}
		logs.Info.Println("Sample topics created:", created)
	}
	os.Exit(0)
}
