package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aigentx/gateway/server/oracle"
	"github.com/aigentx/gateway/server/oracle/mock_oracle"
	"github.com/aigentx/gateway/server/store"
	"github.com/aigentx/gateway/server/store/mock_store"
	"github.com/aigentx/gateway/server/store/types"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// doRequest runs the request through the full handler chain and decodes the JSON response.
func doRequest(t *testing.T, method, path, body string, header http.Header) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	newHTTPHandler("/metrics", defaultCorsOrigins).ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func rootHeader() http.Header {
	return http.Header{"X-Gateway-Apikey": []string{makeAPIKey(true)}}
}

// useMockTopics replaces the authorization store with a mock for the duration of the test.
func useMockTopics(t *testing.T) *mock_store.MockTopicsObjMapperInterface {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := mock_store.NewMockTopicsObjMapperInterface(ctrl)
	store.Topics = m
	t.Cleanup(func() { store.Topics = store.TopicsObjMapper{} })
	return m
}

func TestServeStatus(t *testing.T) {
	code, resp := doRequest(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"message": "Server is running"}, resp)

	code, _ = doRequest(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp = doRequest(t, http.MethodGet, "/no/such/path", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, map[string]any{"error": "not found"}, resp)
}

func TestServeMetrics(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	newHTTPHandler("/metrics", defaultCorsOrigins).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gateway_sessions_live_count")

	// Disabled metrics endpoint.
	rec = httptest.NewRecorder()
	newHTTPHandler("-", defaultCorsOrigins).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeInteract(t *testing.T) {
	useEchoOracle(t)
	topic := newTopic(t, "Alice", "bob")

	cases := []struct {
		name   string
		path   string
		body   string
		status int
		resp   map[string]any
	}{
		{"creator", "/agent-interact/" + topic + "/alice", `{"prompt": "hello"}`, http.StatusOK,
			map[string]any{
				"response":   map[string]any{"response": "hello", "topic": topic},
				"isMetaMask": false,
				"Responses":  float64(1),
			}},
		{"member any case", "/agent-interact/" + topic + "/BOB", `{"prompt": "hi"}`, http.StatusOK,
			map[string]any{
				"response":   map[string]any{"response": "hi", "topic": topic},
				"isMetaMask": false,
				"Responses":  float64(1),
			}},
		{"unknown topic", "/agent-interact/no-such-topic/alice", `{"prompt": "hello"}`, http.StatusNotFound,
			map[string]any{"error": "unknown topic"}},
		{"blank user, unknown topic", "/agent-interact/no-such-topic/%20", `{"prompt": "hello"}`, http.StatusNotFound,
			map[string]any{"error": "unknown topic"}},
		{"blank user", "/agent-interact/" + topic + "/%20", `{"prompt": "hello"}`, http.StatusForbidden,
			map[string]any{"error": "unauthorized user"}},
		{"stranger", "/agent-interact/" + topic + "/mallory", `{"prompt": "hello"}`, http.StatusForbidden,
			map[string]any{"error": "unauthorized user"}},
		{"stranger with bad body", "/agent-interact/" + topic + "/mallory", `garbage`, http.StatusForbidden,
			map[string]any{"error": "unauthorized user"}},
		{"malformed", "/agent-interact/" + topic + "/alice", `{"text": "hello"}`, http.StatusBadRequest,
			map[string]any{"error": "Invalid message format"}},
		{"too long", "/agent-interact/" + topic + "/alice", `{"prompt": "` + strings.Repeat("x", 101) + `"}`,
			http.StatusBadRequest, map[string]any{"error": "prompt is too long"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := doRequest(t, http.MethodPost, tc.path, tc.body, nil)
			assert.Equal(t, tc.status, code)
			assert.Equal(t, tc.resp, resp)
		})
	}
}

func TestServeInteractAgentFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := mock_oracle.NewMockHandler(ctrl)
	topic := newTopic(t, "alice")
	h.EXPECT().Ask(gomock.Any(), topic, "hello").Return(nil, &oracle.Error{Code: 502, Message: "agent is offline"})
	globals.oracle = h

	code, resp := doRequest(t, http.MethodPost, "/agent-interact/"+topic+"/alice", `{"prompt": "hello"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, map[string]any{"error": "agent is offline"}, resp)
}

func TestServeInteractStoreFailure(t *testing.T) {
	useEchoOracle(t)
	m := useMockTopics(t)
	m.EXPECT().Get("T1").Return(nil, errors.New("connection reset"))

	code, resp := doRequest(t, http.MethodPost, "/agent-interact/T1/alice", `{"prompt": "hello"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]any{"error": "authorization unavailable"}, resp)
}

func TestServeCreateAgent(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := mock_oracle.NewMockHandler(ctrl)
	globals.oracle = h
	topic := "nft-created-" + strconv.FormatInt(time.Now().UnixNano(), 36)

	h.EXPECT().Create(gomock.Any(), topic, "alice", "be helpful").
		Return(json.RawMessage(`{"status": "created"}`), nil)

	body := `{"prompt": "be helpful", "nftHash": "` + topic + `"}`
	code, resp := doRequest(t, http.MethodPost, "/create-agent/Alice", body, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"status": "created"}, resp)

	rec, err := store.Topics.Get(topic)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "alice", rec.Creator)
	assert.Empty(t, rec.Members)

	// Second attempt does not reach the agent.
	code, resp = doRequest(t, http.MethodPost, "/create-agent/bob", body, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, map[string]any{"error": "topic already exists"}, resp)
}

func TestServeCreateAgentBadRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	globals.oracle = mock_oracle.NewMockHandler(ctrl)

	for _, body := range []string{
		``,
		`not json`,
		`{"prompt": "be helpful"}`,
		`{"nftHash": "x"}`,
		`{"prompt": " ", "nftHash": "x"}`,
	} {
		code, resp := doRequest(t, http.MethodPost, "/create-agent/alice", body, nil)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Equal(t, map[string]any{"error": "Invalid message format"}, resp, body)
	}
}

func TestServeCreateAgentFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := mock_oracle.NewMockHandler(ctrl)
	globals.oracle = h

	m := useMockTopics(t)
	m.EXPECT().Get("nft-x").Return(nil, nil)
	h.EXPECT().Create(gomock.Any(), "nft-x", "alice", "hi").Return(nil, errors.New("dial tcp: refused"))
	// No Create on the store is expected: failed provisioning leaves no topic behind.

	code, resp := doRequest(t, http.MethodPost, "/create-agent/alice", `{"prompt": "hi", "nftHash": "nft-x"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, map[string]any{"error": "agent request failed"}, resp)
}

func TestServeCreateAgentRace(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := mock_oracle.NewMockHandler(ctrl)
	globals.oracle = h

	m := useMockTopics(t)
	gomock.InOrder(
		m.EXPECT().Get("nft-y").Return(nil, nil),
		h.EXPECT().Create(gomock.Any(), "nft-y", "alice", "hi").
			DoAndReturn(func(ctx context.Context, topic, creator, prompt string) (json.RawMessage, error) {
				return json.RawMessage(`{}`), nil
			}),
		m.EXPECT().Create("nft-y", "alice").Return(nil, types.ErrDuplicate),
	)

	code, resp := doRequest(t, http.MethodPost, "/create-agent/alice", `{"prompt": "hi", "nftHash": "nft-y"}`, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, map[string]any{"error": "topic already exists"}, resp)
}

func TestServeAddMember(t *testing.T) {
	topic := newTopic(t, "Alice")

	code, resp := doRequest(t, http.MethodPost, "/add-chat-member/"+topic+"/bob?creator_id=ALICE", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"status": "success", "message": "Added bob to chat"}, resp)

	code, resp = doRequest(t, http.MethodPost, "/add-chat-member/"+topic+"/Bob?creator_id=alice", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"status": "info", "message": "Member already exists in chat"}, resp)

	code, resp = doRequest(t, http.MethodPost, "/add-chat-member/"+topic+"/carol?creator_id=bob", "", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, map[string]any{"error": "only the creator can add members"}, resp)

	code, resp = doRequest(t, http.MethodPost, "/add-chat-member/no-such-topic/carol?creator_id=alice", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, map[string]any{"error": "unknown topic"}, resp)

	code, resp = doRequest(t, http.MethodPost, "/add-chat-member/"+topic+"/carol", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, map[string]any{"error": "missing creator_id"}, resp)

	rec, err := store.Topics.Get(topic)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, rec.Members)
}

func TestAdminRequiresRootKey(t *testing.T) {
	for _, header := range []http.Header{
		nil,
		{"X-Gateway-Apikey": []string{makeAPIKey(false)}},
		{"X-Gateway-Apikey": []string{"AQAAAAABAAEBAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"}},
	} {
		code, resp := doRequest(t, http.MethodGet, "/admin/stats", "", header)
		assert.Equal(t, http.StatusForbidden, code)
		assert.Equal(t, map[string]any{"error": "valid root API key required"}, resp)
	}

	// Key in the query string.
	code, _ := doRequest(t, http.MethodGet, "/admin/stats?apikey="+makeAPIKey(true), "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestAdminStats(t *testing.T) {
	s := newActiveSession(t, newTopic(t, "alice"), "alice")
	require.NotNil(t, s)

	code, resp := doRequest(t, http.MethodGet, "/admin/stats", "", rootHeader())
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "memory", resp["adapter"])
	assert.GreaterOrEqual(t, resp["sessions"], float64(1))
}

func TestAdminMessages(t *testing.T) {
	topic := newTopic(t, "alice", "bob")
	alice := newActiveSession(t, topic, "alice")
	bob := newActiveSession(t, topic, "bob")

	code, resp := doRequest(t, http.MethodPost, "/admin/system-message/"+topic+"/Alice",
		`{"message": "maintenance"}`, rootHeader())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"delivered": true}, resp)
	require.Len(t, alice.send, 1)
	assert.JSONEq(t, `{"system_message": "maintenance"}`, string((<-alice.send).([]byte)))
	assert.Empty(t, bob.send)

	code, resp = doRequest(t, http.MethodPost, "/admin/system-message/"+topic+"/carol",
		`{"message": "hello"}`, rootHeader())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"delivered": false}, resp)

	code, resp = doRequest(t, http.MethodPost, "/admin/broadcast/"+topic, `{"message": "all hands"}`, rootHeader())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"delivered": float64(2)}, resp)
	assert.Len(t, alice.send, 1)
	assert.Len(t, bob.send, 1)

	code, resp = doRequest(t, http.MethodPost, "/admin/broadcast/"+topic, `{"message": ""}`, rootHeader())
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, map[string]any{"error": "Invalid message format"}, resp)

	code, resp = doRequest(t, http.MethodPost, "/admin/close/"+topic+"/bob", "", rootHeader())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"closed": true}, resp)
	assert.Equal(t, closeFrameAdmin, <-bob.stop)
	assert.Nil(t, globals.sessionStore.Get(bob.key))

	code, resp = doRequest(t, http.MethodPost, "/admin/close/"+topic+"/bob", "", rootHeader())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"closed": false}, resp)
}

func TestCORS(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/agent-interact/t/u", nil)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	for _, origin := range []string{"http://localhost:3000", "http://localhost:3001", "http://localhost:5173",
		"http://127.0.0.1:5174", "http://localhost:8000"} {
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		newHTTPHandler("/metrics", defaultCorsOrigins).ServeHTTP(rec, req)
		assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req.Header.Set("Origin", "http://evil.example.com")
	rec := httptest.NewRecorder()
	newHTTPHandler("/metrics", defaultCorsOrigins).ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServePprof(t *testing.T) {
	globals.pprofPath = "debug/pprof"
	defer func() { globals.pprofPath = "" }()

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/goroutine", nil)
	req.Header.Set("X-Gateway-APIKey", makeAPIKey(true))
	rec := httptest.NewRecorder()
	newHTTPHandler("-", defaultCorsOrigins).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")

	req = httptest.NewRequest(http.MethodGet, "/debug/pprof/nonsense", nil)
	req.Header.Set("X-Gateway-APIKey", makeAPIKey(true))
	rec = httptest.NewRecorder()
	newHTTPHandler("-", defaultCorsOrigins).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	code, _ := doRequest(t, http.MethodGet, "/debug/pprof/goroutine", "", nil)
	assert.Equal(t, http.StatusForbidden, code)
}
