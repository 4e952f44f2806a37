// Package echo is an oracle which replies with the prompt. Used for development and testing.
package echo

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aigentx/gateway/server/oracle"
)

type config struct {
	// Text prepended to every reply.
	Prefix string `json:"prefix"`
}

type handler struct {
	prefix string
}

type reply struct {
	Response string `json:"response"`
}

// Init initializes the handler.
func (h *handler) Init(jsonconf json.RawMessage) error {
	var conf config
	if len(jsonconf) > 0 {
		if err := json.Unmarshal(jsonconf, &conf); err != nil {
			return errors.New("echo: failed to parse config: " + err.Error())
		}
	}
	h.prefix = conf.Prefix
	return nil
}

// Ask returns {"response": "<prefix><prompt>"}.
func (h *handler) Ask(ctx context.Context, topic, prompt string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(&reply{Response: h.prefix + prompt})
}

// Create acknowledges the new agent.
func (h *handler) Create(ctx context.Context, topic, creator, prompt string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"address": topic})
}

func init() {
	oracle.Register("echo", &handler{})
}
