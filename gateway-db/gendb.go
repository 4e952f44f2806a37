package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/aigentx/gateway/server/logs"
	"github.com/aigentx/gateway/server/store"
	"github.com/aigentx/gateway/server/store/types"
)

/*
Topic object in data.json

	{
	  "name": "0x5f1a...e3",
	  "creator": "alice",
	  "members": ["bob", "carol"]
	}
*/
type Topic struct {
	Name    string   `json:"name"`
	Creator string   `json:"creator"`
	Members []string `json:"members"`
}

// Data is the content of data.json.
type Data struct {
	Topics []Topic `json:"topics"`
}

func loadData(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data Data
	if err = json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// genDb creates the sample topics. Topics which already exist are left unchanged.
// Returns the number of topics created.
func genDb(data *Data) (int, error) {
	if len(data.Topics) == 0 {
		logs.Info.Println("No data provided, stopping")
		return 0, nil
	}

	logs.Info.Println("Generating topics...")

	var created int
	for _, tt := range data.Topics {
		if _, err := store.Topics.Create(tt.Name, tt.Creator); err != nil {
			if errors.Is(err, types.ErrDuplicate) {
				logs.Info.Println("Topic already exists, skipped:", tt.Name)
				continue
			}
			return created, errors.New("topic '" + tt.Name + "': " + err.Error())
		}
		created++

		for _, m := range tt.Members {
			if _, err := store.Topics.AddMember(tt.Name, m, tt.Creator); err != nil {
				return created, errors.New("member '" + m + "' of '" + tt.Name + "': " + err.Error())
			}
		}
		logs.Info.Println("Topic", tt.Name, "creator", tt.Creator, "members", len(tt.Members))
	}
	return created, nil
}
