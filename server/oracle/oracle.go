// Package oracle defines the interface to the agent which produces replies to user prompts,
// and a registry of available implementations.
package oracle

//go:generate mockgen -source=oracle.go -destination=mock_oracle/mock_oracle.go -package=mock_oracle

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
)

// Handler is the interface to an agent backend.
type Handler interface {
	// Init initializes the handler with the handler-specific config.
	Init(jsonconf json.RawMessage) error

	// Ask sends the prompt to the agent of the topic and returns the reply.
	// The reply is a JSON object which is relayed to the user verbatim.
	Ask(ctx context.Context, topic, prompt string) (json.RawMessage, error)

	// Create provisions a new agent for the topic.
	Create(ctx context.Context, topic, creator, prompt string) (json.RawMessage, error)
}

// Error is a failure reported by the agent. The message is safe to show to the user.
type Error struct {
	// HTTP status or other code reported by the agent, 0 if none.
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var handlers map[string]Handler

type configType struct {
	// Name of the handler to use.
	Use string `json:"use"`
	// Configurations of individual handlers.
	Handlers map[string]json.RawMessage `json:"handlers"`
}

// Register makes a handler available by the provided name.
// If Register is called twice with the same name or if handler is nil, it panics.
func Register(name string, hnd Handler) {
	if handlers == nil {
		handlers = make(map[string]Handler)
	}

	if hnd == nil {
		panic("Register: oracle handler is nil")
	}
	if _, dup := handlers[name]; dup {
		panic("Register: called twice for handler " + name)
	}
	handlers[name] = hnd
}

// Available returns sorted names of the registered handlers.
func Available() []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Init picks the handler named in the config and initializes it.
func Init(jsonconf json.RawMessage) (Handler, error) {
	var config configType
	if len(jsonconf) > 0 {
		if err := json.Unmarshal(jsonconf, &config); err != nil {
			return nil, errors.New("oracle: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
		}
	}

	if config.Use == "" {
		return nil, errors.New("oracle: handler is not specified. Please set `oracle_config.use` in `gateway.conf`")
	}

	hnd, ok := handlers[config.Use]
	if !ok {
		return nil, errors.New("oracle: unknown handler '" + config.Use + "'")
	}

	if err := hnd.Init(config.Handlers[config.Use]); err != nil {
		return nil, err
	}
	return hnd, nil
}
