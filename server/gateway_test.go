package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aigentx/gateway/server/oracle"
	"github.com/aigentx/gateway/server/oracle/mock_oracle"
	"github.com/aigentx/gateway/server/store/types"
	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStoreError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		frame  *closeFrame
		text   string
	}{
		{nil, http.StatusOK, nil, ""},
		{types.ErrTopicNotFound, http.StatusNotFound, closeFrameUnknownTopic, "unknown topic"},
		{types.ErrUnauthorized, http.StatusForbidden, closeFrameUnauthorized, "unauthorized user"},
		{types.ErrPermissionDenied, http.StatusForbidden, nil, "only the creator can add members"},
		{types.ErrDuplicate, http.StatusConflict, nil, "topic already exists"},
		{types.ErrMalformed, http.StatusBadRequest, nil, "Invalid message format"},
		{fmt.Errorf("lookup: %w", types.ErrTopicNotFound), http.StatusNotFound, closeFrameUnknownTopic, "unknown topic"},
		{types.ErrInternal, http.StatusServiceUnavailable, closeFrameStoreFailure, "authorization unavailable"},
		{errors.New("i/o timeout"), http.StatusServiceUnavailable, closeFrameStoreFailure, "authorization unavailable"},
	}
	for _, tc := range cases {
		status, frame, text := decodeStoreError(tc.err)
		assert.Equal(t, tc.status, status, tc.err)
		assert.Same(t, tc.frame, frame, tc.err)
		assert.Equal(t, tc.text, text, tc.err)
	}
}

func TestCloseFrameBytes(t *testing.T) {
	assert.Equal(t, websocket.FormatCloseMessage(closeUnknownTopic, "unknown topic"), closeFrameUnknownTopic.bytes())

	var none *closeFrame
	assert.Equal(t, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""), none.bytes())
}

func TestOracleErrorText(t *testing.T) {
	cases := []struct {
		err  error
		text string
	}{
		{&oracle.Error{Code: 429, Message: "slow down"}, "slow down"},
		{fmt.Errorf("rest: %w", &oracle.Error{Message: "bad prompt"}), "bad prompt"},
		{context.DeadlineExceeded, "agent did not respond in time"},
		{context.Canceled, "request cancelled"},
		{errors.New("connection refused"), "agent request failed"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.text, oracleErrorText(tc.err))
	}
}

func TestAuthorize(t *testing.T) {
	topic := newTopic(t, "Alice", "bob")

	key, err := authorize(topic, " ALICE ")
	require.NoError(t, err)
	assert.Equal(t, ConnKey{Topic: topic, User: "alice"}, key)

	_, err = authorize(topic, "Bob")
	assert.NoError(t, err)

	_, err = authorize(topic, "carol")
	assert.Equal(t, types.ErrUnauthorized, err)

	_, err = authorize(topic+"-missing", "alice")
	assert.Equal(t, types.ErrTopicNotFound, err)

	_, err = authorize("", "alice")
	assert.Equal(t, types.ErrTopicNotFound, err)

	// Blank identity: the topic decides the outcome.
	_, err = authorize(topic, "  ")
	assert.Equal(t, types.ErrUnauthorized, err)
	_, err = authorize(topic+"-missing", "  ")
	assert.Equal(t, types.ErrTopicNotFound, err)
}

func TestAuthorizeStoreFailure(t *testing.T) {
	m := useMockTopics(t)
	fault := errors.New("too many connections")
	m.EXPECT().Get("T1").Return(nil, fault)

	_, err := authorize("T1", "alice")
	assert.Same(t, fault, err)
}

func TestRunOracleTimeout(t *testing.T) {
	saved := globals.oracleTimeout
	globals.oracleTimeout = 50 * time.Millisecond
	defer func() { globals.oracleTimeout = saved }()

	ctrl := gomock.NewController(t)
	h := mock_oracle.NewMockHandler(ctrl)
	h.EXPECT().Ask(gomock.Any(), "T1", "slow").DoAndReturn(
		func(ctx context.Context, topic, prompt string) (json.RawMessage, error) {
			// Ignores cancellation.
			time.Sleep(200 * time.Millisecond)
			return json.RawMessage(`{}`), nil
		})
	globals.oracle = h

	start := time.Now()
	reply, err := askOracle(context.Background(), "T1", "slow")
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Nil(t, reply)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "agent did not respond in time", oracleErrorText(err))

	// Let the worker finish before the controller checks expectations.
	time.Sleep(200 * time.Millisecond)
}

func TestRunOracleCancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := mock_oracle.NewMockHandler(ctrl)
	h.EXPECT().Create(gomock.Any(), "T1", "alice", "hi").DoAndReturn(
		func(ctx context.Context, topic, creator, prompt string) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	globals.oracle = h

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := createAgent(ctx, "T1", "alice", "hi")
	assert.ErrorIs(t, err, context.Canceled)
}
