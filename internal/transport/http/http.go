// Package http is the HTTP transport adapter for a session: it decodes
// JSON requests, calls the shared coopapi handler contract, and encodes
// JSON (or plain text) responses. Ported from original_source
// transport/http/screen.rs and transport/mod.rs's build_router.
package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/groblegark/coop-sub001/internal/coopapi"
	"github.com/groblegark/coop-sub001/internal/session"
	"github.com/groblegark/coop-sub001/internal/transcript"
)

// Deps bundles everything a handler needs beyond the session store:
// the agent name (for health), a live websocket client counter, and the
// optional stop/start hook and transcript state (nil when the caller
// does not wire hooks support).
type Deps struct {
	Store       *session.Store
	AgentName   string
	WSClients   func() int
	Stop        *coopapi.StopState
	Start       *coopapi.StartState
	Transcripts *transcript.State
}

func (d Deps) wsClients() int {
	if d.WSClients == nil {
		return 0
	}
	return d.WSClients()
}

// NewMux builds the HTTP handler with every route from the API contract
// wired to its coopapi handler.
func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", d.handleHealth)
	mux.HandleFunc("GET /api/v1/ready", d.handleReady)
	mux.HandleFunc("GET /api/v1/status", d.handleStatus)
	mux.HandleFunc("GET /api/v1/screen", d.handleScreen)
	mux.HandleFunc("GET /api/v1/screen/text", d.handleScreenText)
	mux.HandleFunc("GET /api/v1/output", d.handleOutput)
	mux.HandleFunc("POST /api/v1/input", d.handleInput)
	mux.HandleFunc("POST /api/v1/input/raw", d.handleInputRaw)
	mux.HandleFunc("POST /api/v1/input/keys", d.handleInputKeys)
	mux.HandleFunc("POST /api/v1/resize", d.handleResize)
	mux.HandleFunc("POST /api/v1/signal", d.handleSignal)
	mux.HandleFunc("GET /api/v1/agent/state", d.handleAgentState)
	mux.HandleFunc("POST /api/v1/agent/nudge", d.handleAgentNudge)
	mux.HandleFunc("POST /api/v1/agent/respond", d.handleAgentRespond)
	mux.HandleFunc("GET /api/v1/env", d.handleEnvList)
	mux.HandleFunc("GET /api/v1/env/{key}", d.handleEnvGet)
	mux.HandleFunc("PUT /api/v1/env/{key}", d.handleEnvPut)
	mux.HandleFunc("DELETE /api/v1/env/{key}", d.handleEnvDelete)
	mux.HandleFunc("GET /api/v1/cwd", d.handleCwd)
	mux.HandleFunc("POST /api/v1/hooks/stop", d.handleHooksStop)
	mux.HandleFunc("POST /api/v1/hooks/stop/resolve", d.handleHooksStopResolve)
	mux.HandleFunc("POST /api/v1/hooks/start", d.handleHooksStart)
	mux.HandleFunc("GET /api/v1/transcripts", d.handleTranscriptsList)
	mux.HandleFunc("GET /api/v1/transcripts/catchup", d.handleTranscriptsCatchup)
	mux.HandleFunc("GET /api/v1/transcripts/{number}", d.handleTranscriptsGet)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err *coopapi.Error) {
	writeJSON(w, err.Code.HTTPStatus(), map[string]errorBody{
		"error": {Code: err.Code.String(), Message: err.Message},
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, &coopapi.Error{Code: coopapi.BadRequest, Message: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

// -- health / readiness -------------------------------------------------------

func (d Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := coopapi.ComputeHealth(d.Store, d.AgentName, d.wsClients())
	writeJSON(w, http.StatusOK, h)
}

func (d Deps) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := d.Store.Ready()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"ready": ready})
}

func (d Deps) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, coopapi.ComputeStatus(d.Store, d.wsClients()))
}

// -- screen / output -----------------------------------------------------------

func (d Deps) handleScreen(w http.ResponseWriter, r *http.Request) {
	snap := d.Store.Screen.Snapshot()
	resp := map[string]any{
		"lines":      snap.Lines,
		"ansi":       snap.ANSI,
		"cols":       snap.Cols,
		"rows":       snap.Rows,
		"alt_screen": snap.AltScreen,
		"seq":        snap.Seq,
	}
	if r.URL.Query().Get("cursor") == "true" || r.URL.Query().Get("cursor") == "1" {
		resp["cursor"] = snap.Cursor
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d Deps) handleScreenText(w http.ResponseWriter, r *http.Request) {
	snap := d.Store.Screen.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(strings.Join(snap.Lines, "\n")))
}

func (d Deps) handleOutput(w http.ResponseWriter, r *http.Request) {
	var offset int64
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, _ = strconv.ParseInt(v, 10, 64)
	}
	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	res := coopapi.ReadOutput(d.Store, offset, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"data":          string(res.Data),
		"offset":        res.Offset,
		"next_offset":   res.NextOffset,
		"total_written": res.TotalWritten,
	})
}

// -- input ---------------------------------------------------------------------

func (d Deps) handleInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text  string `json:"text"`
		Enter bool   `json:"enter"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := coopapi.HandleInput(d.Store, req.Text, req.Enter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"bytes_written": n})
}

func (d Deps) handleInputRaw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data string `json:"data"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	decoded, decodeErr := base64.StdEncoding.DecodeString(req.Data)
	if decodeErr != nil {
		writeError(w, &coopapi.Error{Code: coopapi.BadRequest, Message: "invalid base64 data"})
		return
	}
	n, err := coopapi.HandleInputRaw(d.Store, decoded)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"bytes_written": n})
}

func (d Deps) handleInputKeys(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keys []string `json:"keys"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := coopapi.HandleKeys(d.Store, req.Keys)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"bytes_written": n})
}

func (d Deps) handleResize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := coopapi.HandleResize(d.Store, req.Cols, req.Rows); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cols": req.Cols, "rows": req.Rows})
}

func (d Deps) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signal string `json:"signal"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := coopapi.HandleSignal(d.Store, req.Signal); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": true})
}

// -- agent state / nudge / respond ---------------------------------------------

func (d Deps) handleAgentState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.Store.AgentState())
}

func (d Deps) handleAgentNudge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	outcome, err := coopapi.HandleNudge(d.Store, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (d Deps) handleAgentRespond(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Accept  *bool                           `json:"accept"`
		Option  *int                            `json:"option"`
		Text    *string                         `json:"text"`
		Answers []coopapi.TransportQuestionAnswer `json:"answers"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	outcome, err := coopapi.HandleRespond(d.Store, req.Accept, req.Option, req.Text, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// -- env / cwd -------------------------------------------------------------------

func (d Deps) handleEnvList(w http.ResponseWriter, r *http.Request) {
	res, err := coopapi.ListEnv(d.Store)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d Deps) handleEnvGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	res, err := coopapi.GetEnv(d.Store, key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d Deps) handleEnvPut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req struct {
		Value string `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	coopapi.PutEnv(d.Store, key, req.Value)
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (d Deps) handleEnvDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	deleted := coopapi.DeleteEnv(d.Store, key)
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (d Deps) handleCwd(w http.ResponseWriter, r *http.Request) {
	cwd, err := coopapi.GetSessionCwd(d.Store)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cwd": cwd})
}

// -- stop/start hooks, transcripts -----------------------------------------------

func (d Deps) handleHooksStop(w http.ResponseWriter, r *http.Request) {
	if d.Stop == nil {
		writeError(w, &coopapi.Error{Code: coopapi.NotReady, Message: "stop hook is not configured"})
		return
	}
	var req struct {
		StopHookActive bool `json:"stop_hook_active"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, coopapi.HandleHooksStop(d.Store, d.Stop, req.StopHookActive))
}

func (d Deps) handleHooksStopResolve(w http.ResponseWriter, r *http.Request) {
	if d.Stop == nil {
		writeError(w, &coopapi.Error{Code: coopapi.NotReady, Message: "stop hook is not configured"})
		return
	}
	var body map[string]any
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := coopapi.ResolveStop(d.Stop, body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

func (d Deps) handleHooksStart(w http.ResponseWriter, r *http.Request) {
	if d.Start == nil {
		writeError(w, &coopapi.Error{Code: coopapi.NotReady, Message: "start hook is not configured"})
		return
	}
	var req coopapi.HooksStartInput
	if !decodeJSON(w, r, &req) {
		return
	}
	script := coopapi.HandleHooksStart(d.Store, d.Start, d.Transcripts, req)
	writeJSON(w, http.StatusOK, map[string]string{"script": script})
}

func (d Deps) handleTranscriptsList(w http.ResponseWriter, r *http.Request) {
	if d.Transcripts == nil {
		writeJSON(w, http.StatusOK, []coopapi.TranscriptSummary{})
		return
	}
	writeJSON(w, http.StatusOK, coopapi.ListTranscripts(d.Transcripts))
}

func (d Deps) handleTranscriptsGet(w http.ResponseWriter, r *http.Request) {
	if d.Transcripts == nil {
		writeError(w, &coopapi.Error{Code: coopapi.NotFound, Message: "transcripts are not configured"})
		return
	}
	number, err := strconv.ParseUint(r.PathValue("number"), 10, 32)
	if err != nil {
		writeError(w, &coopapi.Error{Code: coopapi.BadRequest, Message: "invalid transcript number"})
		return
	}
	content, cErr := coopapi.GetTranscript(d.Transcripts, uint32(number))
	if cErr != nil {
		writeError(w, cErr)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	_, _ = w.Write([]byte(content))
}

func (d Deps) handleTranscriptsCatchup(w http.ResponseWriter, r *http.Request) {
	if d.Transcripts == nil {
		writeJSON(w, http.StatusOK, transcript.CatchupResponse{})
		return
	}
	var sinceTranscript uint64
	if v := r.URL.Query().Get("since_transcript"); v != "" {
		sinceTranscript, _ = strconv.ParseUint(v, 10, 32)
	}
	var sinceLine uint64
	if v := r.URL.Query().Get("since_line"); v != "" {
		sinceLine, _ = strconv.ParseUint(v, 10, 64)
	}
	writeJSON(w, http.StatusOK, coopapi.CatchupTranscripts(d.Transcripts, uint32(sinceTranscript), sinceLine))
}
