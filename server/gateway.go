/******************************************************************************
 *
 *  Description :
 *
 *  Authorization and agent calls shared by the websocket and HTTP entry points.
 *
 *****************************************************************************/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aigentx/gateway/server/oracle"
	"github.com/aigentx/gateway/server/store"
	"github.com/aigentx/gateway/server/store/types"
)

// authorize checks if the user may talk to the topic's agent and returns the connection key.
// Errors are types.ErrTopicNotFound, types.ErrUnauthorized or a store failure. The topic
// is checked first: a blank identity is unauthorized on a known topic only.
func authorize(topic, user string) (ConnKey, error) {
	key := newConnKey(topic, user)
	if _, err := store.Authorize(store.Topics, key.Topic, key.User); err != nil {
		return key, err
	}
	return key, nil
}

// askOracle sends the prompt to the topic's agent and waits for the reply.
func askOracle(ctx context.Context, topic, prompt string) (json.RawMessage, error) {
	return runOracle(ctx, func(ctx context.Context) (json.RawMessage, error) {
		return globals.oracle.Ask(ctx, topic, prompt)
	})
}

// createAgent asks the oracle to provision an agent for a new topic.
func createAgent(ctx context.Context, topic, creator, prompt string) (json.RawMessage, error) {
	return runOracle(ctx, func(ctx context.Context) (json.RawMessage, error) {
		return globals.oracle.Create(ctx, topic, creator, prompt)
	})
}

// runOracle executes one agent request on the worker pool and waits for the result.
func runOracle(ctx context.Context, call func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if globals.oracleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, globals.oracleTimeout)
		defer cancel()
	}

	type result struct {
		reply json.RawMessage
		err   error
	}
	done := make(chan result, 1)
	start := time.Now()
	err := globals.oraclePool.Schedule(ctx, func() {
		reply, err := call(ctx)
		done <- result{reply, err}
	})
	if err != nil {
		statsOracle(err, time.Since(start))
		return nil, err
	}

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	statsOracle(res.err, time.Since(start))
	return res.reply, res.err
}

// oracleErrorText converts the agent error to text which is safe to show to the user.
func oracleErrorText(err error) string {
	var oerr *oracle.Error
	switch {
	case errors.As(err, &oerr):
		return oerr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "agent did not respond in time"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return "agent request failed"
	}
}

// decodeStoreError maps store errors to HTTP status, websocket close frame and error text.
// The frame is nil for errors returned by the HTTP-only operations.
func decodeStoreError(err error) (int, *closeFrame, string) {
	switch {
	case err == nil:
		return http.StatusOK, nil, ""
	case errors.Is(err, types.ErrTopicNotFound):
		return http.StatusNotFound, closeFrameUnknownTopic, closeFrameUnknownTopic.reason
	case errors.Is(err, types.ErrUnauthorized):
		return http.StatusForbidden, closeFrameUnauthorized, closeFrameUnauthorized.reason
	case errors.Is(err, types.ErrPermissionDenied):
		return http.StatusForbidden, nil, "only the creator can add members"
	case errors.Is(err, types.ErrDuplicate):
		return http.StatusConflict, nil, "topic already exists"
	case errors.Is(err, types.ErrMalformed):
		return http.StatusBadRequest, nil, malformedText
	default:
		return http.StatusServiceUnavailable, closeFrameStoreFailure, closeFrameStoreFailure.reason
	}
}
