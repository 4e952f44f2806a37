/******************************************************************************
 *
 *  Description :
 *
 *    HTTP endpoints: synchronous agent interaction, topic administration,
 *    and the root-only administrative surface.
 *
 *****************************************************************************/

package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/aigentx/gateway/server/logs"
	"github.com/aigentx/gateway/server/store"
	"github.com/aigentx/gateway/server/store/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
)

// newHTTPHandler builds the router with all endpoints and middleware.
func newHTTPHandler(metricsPath string, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if globals.useXForwardedFor {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))
	r.NotFound(serve404)

	r.Get("/", serveStatus)
	r.Get("/ws/{nft_hash}/{user_id}", serveWebSocket)
	r.Post("/agent-interact/{nft_hash}/{user_id}", serveInteract)
	r.Post("/create-agent/{user_id}", serveCreateAgent)
	r.Post("/add-chat-member/{nft_hash}/{new_member}", serveAddMember)

	r.Route("/admin", func(r chi.Router) {
		r.Use(requireRootKey)
		r.Post("/system-message/{nft_hash}/{user_id}", serveSystemMessage)
		r.Post("/broadcast/{nft_hash}", serveBroadcast)
		r.Post("/close/{nft_hash}/{user_id}", serveCloseSession)
		r.Get("/stats", serveAdminStats)
	})

	servePprof(r, globals.pprofPath)

	if h := statsHandler(metricsPath); h != nil {
		r.Method(http.MethodGet, metricsPath, h)
	}

	var handler http.Handler = r
	handler = handlers.CORS(
		handlers.AllowedOrigins(corsOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Gateway-APIKey"}),
		handlers.AllowCredentials(),
	)(handler)
	handler = hstsHandler(handler)
	return handlers.CombinedLoggingHandler(logs.Info.Writer(), handler)
}

func serveStatus(wrt http.ResponseWriter, req *http.Request) {
	writeJSON(wrt, http.StatusOK, map[string]string{"message": "Server is running"})
}

// serveInteract performs one synchronous agent round trip. The authorization rules
// are the same as for websocket connections.
func serveInteract(wrt http.ResponseWriter, req *http.Request) {
	key, err := authorize(chi.URLParam(req, "nft_hash"), chi.URLParam(req, "user_id"))
	if err != nil {
		status, _, text := decodeStoreError(err)
		logs.Info.Println("interact: rejected", key, err)
		writeError(wrt, status, text)
		return
	}

	body, err := readBody(req)
	if err != nil {
		writeError(wrt, http.StatusBadRequest, malformedText)
		return
	}
	prompt, err := parsePrompt(body)
	if err != nil {
		writeError(wrt, http.StatusBadRequest, err.Error())
		return
	}
	statsInbound()

	reply, err := askOracle(req.Context(), key.Topic, prompt)
	if err != nil {
		logs.Warn.Println("interact: agent failed", key, err)
		writeError(wrt, http.StatusInternalServerError, oracleErrorText(err))
		return
	}

	writeJSON(wrt, http.StatusOK, &MsgInteractResponse{Response: reply, IsMetaMask: false, Responses: 1})
}

// serveCreateAgent provisions an agent and creates the topic with the caller as its creator.
func serveCreateAgent(wrt http.ResponseWriter, req *http.Request) {
	creator := types.NormalizeIdentity(chi.URLParam(req, "user_id"))

	var msg MsgCreateAgent
	if err := decodeBody(req, &msg); err != nil || creator == "" ||
		strings.TrimSpace(msg.NftHash) == "" || strings.TrimSpace(msg.Prompt) == "" {
		writeError(wrt, http.StatusBadRequest, malformedText)
		return
	}

	// Check before provisioning the agent so an existing topic is not taken over.
	if rec, err := store.Topics.Get(msg.NftHash); err != nil {
		status, _, text := decodeStoreError(err)
		writeError(wrt, status, text)
		return
	} else if rec != nil {
		writeError(wrt, http.StatusConflict, "topic already exists")
		return
	}

	reply, err := createAgent(req.Context(), msg.NftHash, creator, msg.Prompt)
	if err != nil {
		logs.Warn.Println("create-agent: agent failed", msg.NftHash, err)
		writeError(wrt, http.StatusInternalServerError, oracleErrorText(err))
		return
	}

	if _, err := store.Topics.Create(msg.NftHash, creator); err != nil {
		status, _, text := decodeStoreError(err)
		logs.Warn.Println("create-agent: failed to save topic", msg.NftHash, err)
		writeError(wrt, status, text)
		return
	}

	logs.Info.Println("create-agent: topic created", msg.NftHash, "creator", creator)
	writeJSON(wrt, http.StatusOK, reply)
}

// serveAddMember adds a member to the topic on behalf of the creator.
func serveAddMember(wrt http.ResponseWriter, req *http.Request) {
	topic := chi.URLParam(req, "nft_hash")
	member := chi.URLParam(req, "new_member")
	requester := req.URL.Query().Get("creator_id")
	if requester == "" {
		writeError(wrt, http.StatusBadRequest, "missing creator_id")
		return
	}

	added, err := store.Topics.AddMember(topic, member, requester)
	if err != nil {
		status, _, text := decodeStoreError(err)
		logs.Info.Println("add-member: rejected", topic, member, requester, err)
		writeError(wrt, status, text)
		return
	}

	if !added {
		writeJSON(wrt, http.StatusOK, &MsgStatus{Status: "info", Message: "Member already exists in chat"})
		return
	}
	logs.Info.Println("add-member: added", member, "to", topic)
	writeJSON(wrt, http.StatusOK, &MsgStatus{Status: "success", Message: fmt.Sprintf("Added %s to chat", member)})
}

func serveSystemMessage(wrt http.ResponseWriter, req *http.Request) {
	var msg MsgAdminText
	if err := decodeBody(req, &msg); err != nil || !msg.valid() {
		writeError(wrt, http.StatusBadRequest, malformedText)
		return
	}

	delivered := sendSystemMessage(chi.URLParam(req, "nft_hash"), chi.URLParam(req, "user_id"), msg.Message)
	writeJSON(wrt, http.StatusOK, map[string]bool{"delivered": delivered})
}

func serveBroadcast(wrt http.ResponseWriter, req *http.Request) {
	var msg MsgAdminText
	if err := decodeBody(req, &msg); err != nil || !msg.valid() {
		writeError(wrt, http.StatusBadRequest, malformedText)
		return
	}

	delivered := broadcastMessage(chi.URLParam(req, "nft_hash"), msg.Message)
	writeJSON(wrt, http.StatusOK, map[string]int{"delivered": delivered})
}

func serveCloseSession(wrt http.ResponseWriter, req *http.Request) {
	closed := closeSession(chi.URLParam(req, "nft_hash"), chi.URLParam(req, "user_id"))
	writeJSON(wrt, http.StatusOK, map[string]bool{"closed": closed})
}

func serveAdminStats(wrt http.ResponseWriter, req *http.Request) {
	resp := map[string]any{
		"sessions": globals.sessionStore.Count(),
		"adapter":  store.Store.GetAdapterName(),
	}
	if dbStats := store.Store.DbStats(); dbStats != nil {
		resp["db"] = dbStats()
	}
	writeJSON(wrt, http.StatusOK, resp)
}
