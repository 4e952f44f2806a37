package testsuite

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/aigentx/gateway/server/store/adapter"
	jcr "github.com/tinode/jsonco"
)

type configType struct {
	// If Reset=true test will recreate database every time it runs
	Reset bool `json:"reset_db_data"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

// ReadConfig loads the adapter section of a test config file.
func ReadConfig(path, adapterName string) (json.RawMessage, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	var config configType
	jr := jcr.New(file)
	if err = json.NewDecoder(jr).Decode(&config); err != nil {
		if jerr, ok := err.(*json.SyntaxError); ok {
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			return nil, false, fmt.Errorf("syntax error in %s at %d:%d: %w", path, lnum, cnum, err)
		}
		return nil, false, err
	}

	conf, ok := config.Adapters[adapterName]
	if !ok {
		return nil, false, errors.New("no config for adapter " + adapterName)
	}
	return conf, config.Reset, nil
}

// OpenTestAdapter opens the adapter and makes sure the schema exists.
func OpenTestAdapter(adp adapter.Adapter, path string) error {
	conf, reset, err := ReadConfig(path, adp.GetName())
	if err != nil {
		return err
	}
	if err = adp.Open(conf); err != nil {
		return err
	}
	if reset {
		return adp.CreateDb(true)
	}
	if adp.CheckDbVersion() != nil {
		return adp.CreateDb(false)
	}
	return nil
}
