package main

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aigentx/gateway/server/concurrency"
	"github.com/aigentx/gateway/server/oracle/mock_oracle"
	"github.com/aigentx/gateway/server/store"
	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStoreConfig = `{
	"uid_key": "la6YsO+bNX/+XIkOqc5Svw==",
	"use_adapter": "memory"
}`

var testSalt = []byte("test-api-key-salt-0123456789abcd")

func TestMain(m *testing.M) {
	if err := store.Store.Open(1, json.RawMessage(testStoreConfig)); err != nil {
		panic(err)
	}

	globals.sessionStore = NewSessionStore()
	globals.oraclePool = concurrency.NewGoRoutinePool(16)
	globals.oracleTimeout = 5 * time.Second
	globals.apiKeySalt = testSalt
	globals.maxMessageSize = 1 << 16
	globals.maxPromptLength = 100
	globals.sendQueueLimit = 32

	code := m.Run()

	globals.oraclePool.Stop()
	store.Store.Close()
	os.Exit(code)
}

type responses struct {
	messages []any
}

func (s *Session) testWriteLoop(results *responses, wg *sync.WaitGroup) {
	for msg := range s.send {
		results.messages = append(results.messages, msg)
	}
	wg.Done()
}

// decode converts a serialized message captured by testWriteLoop into a map.
func decode(t *testing.T, msg any) map[string]any {
	t.Helper()
	data, ok := msg.([]byte)
	require.True(t, ok, "message must be serialized")
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

var topicCounter atomic.Int64

// newTopic creates a topic with a unique name in the store.
func newTopic(t *testing.T, creator string, members ...string) string {
	t.Helper()
	name := "nft-" + strconv.FormatInt(time.Now().UnixNano(), 36) + "-" +
		strconv.FormatInt(topicCounter.Add(1), 10)
	_, err := store.Topics.Create(name, creator)
	require.NoError(t, err)
	for _, m := range members {
		_, err = store.Topics.AddMember(name, m, creator)
		require.NoError(t, err)
	}
	return name
}

// newActiveSession creates a registered session without a websocket.
func newActiveSession(t *testing.T, topic, user string) *Session {
	t.Helper()
	s := newSession(nil, "test-"+user)
	s.state.Store(stateAuthorizing)
	require.True(t, s.activate(newConnKey(topic, user)))
	globals.sessionStore.Register(s)
	t.Cleanup(func() { globals.sessionStore.Deregister(s) })
	return s
}

// echoReply is the reply of the test agent.
func echoReply(topic, prompt string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"response": prompt, "topic": topic})
	return data
}

// useEchoOracle installs an agent which echoes the prompt back.
func useEchoOracle(t *testing.T) *mock_oracle.MockHandler {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := mock_oracle.NewMockHandler(ctrl)
	h.EXPECT().Ask(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, topic, prompt string) (json.RawMessage, error) {
			return echoReply(topic, prompt), nil
		}).AnyTimes()
	globals.oracle = h
	return h
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newHTTPHandler("/metrics", defaultCorsOrigins))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, topic, user string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + url.PathEscape(topic) + "/" + url.PathEscape(user)
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := ws.ReadMessage()
	var cerr *websocket.CloseError
	require.True(t, errors.As(err, &cerr), "expected close error, got %v", err)
	assert.Equal(t, code, cerr.Code)
}

func sendPrompt(t *testing.T, ws *websocket.Conn, prompt string) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]string{"prompt": prompt}))
}

// makeAPIKey signs a key with the test salt.
func makeAPIKey(isRoot bool) string {
	var data [APIKEY_LENGTH]byte
	data[0] = 1
	binary.LittleEndian.PutUint32(data[APIKEY_VERSION:], 1)
	binary.LittleEndian.PutUint16(data[APIKEY_VERSION+APIKEY_APPID:], 1)
	if isRoot {
		data[APIKEY_VERSION+APIKEY_APPID+APIKEY_SEQUENCE] = 1
	}
	hasher := hmac.New(md5.New, globals.apiKeySalt)
	hasher.Write(data[:APIKEY_LENGTH-APIKEY_SIGNATURE])
	copy(data[APIKEY_LENGTH-APIKEY_SIGNATURE:], hasher.Sum(nil))
	return base64.URLEncoding.EncodeToString(data[:])
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("GATEWAY_TEST_SALT", "c2FsdA==")

	path := filepath.Join(t.TempDir(), "gateway.conf")
	conf := `{
		// Comments are allowed.
		"listen": ":6060",
		"api_key_salt": "${GATEWAY_TEST_SALT}",
		"max_prompt_length": -1,
		"oracle_timeout": 7,
		"store_config": {"use_adapter": "memory"},
		"oracle_config": {"use": "echo"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(conf), 0644))

	config, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":6060", config.Listen)
	assert.Equal(t, []byte("salt"), config.APIKeySalt)
	assert.Equal(t, 0, config.MaxPromptLength)
	assert.Equal(t, 7*time.Second, config.oracleTimeout())
	assert.Equal(t, defaultMaxMessageSize, config.MaxMessageSize)
	assert.Equal(t, defaultOracleWorkers, config.OracleWorkers)
	assert.Equal(t, defaultMetricsPath, config.MetricsPath)
	assert.Equal(t, defaultCorsOrigins, config.CorsOrigins)
	assert.JSONEq(t, `{"use": "echo"}`, string(config.OracleConfig))
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := loadConfig(filepath.Join(dir, "missing.conf"))
	assert.Error(t, err)

	path := filepath.Join(dir, "bad.conf")
	require.NoError(t, os.WriteFile(path, []byte("{\n\"listen\": \":6060\",\n\"worker_id\": \"one\"\n}"), 0644))
	_, err = loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker_id")

	require.NoError(t, os.WriteFile(path, []byte(`{"worker_id": 5000}`), 0644))
	_, err = loadConfig(path)
	assert.Error(t, err)
}

func TestParseTLSConfig(t *testing.T) {
	conf, err := parseTLSConfig(nil)
	require.NoError(t, err)
	assert.False(t, conf.Enabled)

	_, err = parseTLSConfig(json.RawMessage(`{"enabled": true}`))
	assert.Error(t, err, "missing cert files must fail")

	conf, err = parseTLSConfig(json.RawMessage(`{"enabled": true, "cert_file": "a", "key_file": "b",
		"autocert": {"domains": ["example.com"]}}`))
	require.NoError(t, err)
	assert.Empty(t, conf.CertFile, "autocert overrides static files")
}
