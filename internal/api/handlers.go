package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huesync/internal/hue"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// StatusResponse describes the active session.
type StatusResponse struct {
	Bridge           string `json:"bridge"`
	SessionID        string `json:"session_id"`
	Initialized      bool   `json:"initialized"`
	UpdateInProgress bool   `json:"update_in_progress"`
	SearchInProgress bool   `json:"search_in_progress"`
	Lights           int    `json:"lights"`
	Groups           int    `json:"groups"`
	Scenes           int    `json:"scenes"`
	Clients          int    `json:"ws_clients"`
}

// GroupResponse adds the collection identity hidden by hue.Group.
type GroupResponse struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	hue.Group
}

// SceneResponse adds the collection identity hidden by hue.Scene.
type SceneResponse struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	hue.Scene
}

// NameRequest renames a light, group or scene.
type NameRequest struct {
	Name string `json:"name"`
}

// SceneRequest creates a scene from the current state of Lights.
type SceneRequest struct {
	Name   string   `json:"name"`
	Lights []string `json:"lights"`
}

// RefreshRequest selects the resources to re-read. Empty means all.
type RefreshRequest struct {
	Parts []string `json:"parts"`
}

// OperationResponse reports the outcome of starting a tracked operation.
type OperationResponse struct {
	Result hue.OperationResult `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write API response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var be *hue.BridgeError
	switch {
	case errors.Is(err, hue.ErrNotInitialized), errors.Is(err, hue.ErrNotAuthenticated):
		return http.StatusServiceUnavailable
	case errors.Is(err, hue.ErrUnknownLight), errors.Is(err, hue.ErrUnknownGroup), errors.Is(err, hue.ErrUnknownScene):
		return http.StatusNotFound
	case errors.Is(err, hue.ErrUnsupported), errors.Is(err, hue.ErrInvalidColor):
		return http.StatusUnprocessableEntity
	case errors.As(err, &be):
		if be.Type == hue.ErrorTypeResourceNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// session writes an error response and returns nil when no session is usable.
func (s *Server) session(w http.ResponseWriter) *hue.Session {
	session, err := s.sessions.Session()
	if err != nil {
		writeError(w, err)
		return nil
	}
	return session
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	session := s.session(w)
	if session == nil {
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Bridge:           session.Address(),
		SessionID:        session.ID(),
		Initialized:      session.Initialized(),
		UpdateInProgress: session.UpdateInProgress(),
		SearchInProgress: session.SearchInProgress(),
		Lights:           len(session.LightSnapshots()),
		Groups:           len(session.GroupSnapshots()),
		Scenes:           len(session.SceneSnapshots()),
		Clients:          s.hub.ClientCount(),
	})
}

func (s *Server) handleListLights(w http.ResponseWriter, r *http.Request) {
	if session := s.session(w); session != nil {
		writeJSON(w, http.StatusOK, session.LightSnapshots())
	}
}

func (s *Server) handleGetLight(w http.ResponseWriter, r *http.Request) {
	session := s.session(w)
	if session == nil {
		return
	}
	id := mux.Vars(r)["id"]
	snap, ok := session.LightSnapshot(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: hue.ErrUnknownLight.Error() + ": " + id})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// respondLight answers a light write with the light's updated snapshot.
func respondLight(w http.ResponseWriter, session *hue.Session, id string, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	snap, ok := session.LightSnapshot(id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSetLightState(w http.ResponseWriter, r *http.Request) {
	session := s.session(w)
	if session == nil {
		return
	}
	var changes hue.LightChanges
	if !decodeBody(w, r, &changes) {
		return
	}
	id := mux.Vars(r)["id"]
	respondLight(w, session, id, session.SetLightProperties(r.Context(), id, changes))
}

func (s *Server) handleRenameLight(w http.ResponseWriter, r *http.Request) {
	session := s.session(w)
	if session == nil {
		return
	}
	var req NameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	respondLight(w, session, id, session.RenameLight(r.Context(), id, req.Name))
}

func (s *Server) handleToggleLight(w http.ResponseWriter, r *http.Request) {
	session := s.session(w)
	if session == nil {
		return
	}
	id := mux.Vars(r)["id"]
	respondLight(w, session, id, session.Toggle(r.Context(), id))
}

func (s *Server) handleDeleteLight(w http.ResponseWriter, r *http.Request) {
	session := s.session(w)
	if session == nil {
		return
	}
	byUniqueID := r.URL.Query().Get("by") == "unique_id"
	if err := session.DeleteLight(r.Context(), mux.Vars(r)["id"], byUniqueID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) rampRequest(w http.ResponseWriter, r *http.Request) (*hue.Session, string, hue.RampKind, bool) {
	session := s.session(w)
	if session == nil {
		return nil, "", 0, false
	}
	vars := mux.Vars(r)
	kind, err := hue.ParseRampKind(vars["kind"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return nil, "", 0, false
	}
	return session, vars["id"], kind, true
}

func (s *Server) handleStartRamp(w http.ResponseWriter, r *http.Request) {
	session, id, kind, ok := s.rampRequest(w, r)
	if !ok {
		return
	}
	respondLight(w, session, id, session.StartRamp(r.Context(), id, kind))
}

func (s *Server) handleStopRamp(w http.ResponseWriter, r *http.Request) {
	session, id, kind, ok := s.rampRequest(w, r)
	if !ok {
		return
	}
	respondLight(w, session, id, session.StopRamp(id, kind))
}

func groupResponses(session *hue.Session) []GroupResponse {
	groups := session.GroupSnapshots()
	out := make([]GroupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupResponse{ID: g.ID, Index: g.Index, Group: g})
	}
	return out
}

func sceneResponses(session *hue.Session) []SceneResponse {
	scenes := session.SceneSnapshots()
	out := make([]SceneResponse, 0, len(scenes))
	for _, sc := range scenes {
		out = append(out, SceneResponse{ID: sc.ID, Index: sc.Index, Scene: sc})
	}
	return out
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	if session := s.session(w); session != nil {
		writeJSON(w, http.StatusOK, groupResponses(session))
	}
}

func (s *Server) handleRenameGroup(w http.ResponseWriter, r *http.Request) {
	session := s.session(w)
	if session == nil {
		return
	}
	var req NameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := session.RenameGroup(r.Context(), mux.Vars(r)["id"], req.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	if session := s.session(w); session != nil {
		writeJSON(w, http.StatusOK, sceneResponses(session))
	}
}

func (s *Server) handleCreateScene(w http.ResponseWriter, r *http.Request) {
	session := s.session(w)
	if session == nil {
		return
	}
	var req SceneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || len(req.Lights) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name and lights are required"})
		return
	}
	id, err := session.CreateScene(r.Context(), req.Name, req.Lights)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleUpdateScene(w http.ResponseWriter, r *http.Request) {
	s.sceneAction(w, r, func(session *hue.Session, id string) error {
		return session.UpdateScene(r.Context(), id)
	})
}

func (s *Server) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	s.sceneAction(w, r, func(session *hue.Session, id string) error {
		return session.DeleteScene(r.Context(), id)
	})
}

func (s *Server) handleActivateScene(w http.ResponseWriter, r *http.Request) {
	s.sceneAction(w, r, func(session *hue.Session, id string) error {
		return session.ActivateScene(r.Context(), id)
	})
}

func (s *Server) handleRenameScene(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.sceneAction(w, r, func(session *hue.Session, id string) error {
		return session.RenameScene(r.Context(), id, req.Name)
	})
}

func (s *Server) sceneAction(w http.ResponseWriter, r *http.Request, action func(*hue.Session, string) error) {
	session := s.session(w)
	if session == nil {
		return
	}
	if err := action(session, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if session := s.session(w); session != nil {
		writeJSON(w, http.StatusOK, session.ConfigSnapshot())
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	session := s.session(w)
	if session == nil {
		return
	}
	var req RefreshRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	parts := hue.RefreshAll
	if len(req.Parts) > 0 {
		var err error
		if parts, err = hue.ParseRefreshParts(req.Parts); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}
	if err := session.Refresh(r.Context(), parts); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeOperation maps a Begin* result: started is 202, anything else 409.
func writeOperation(w http.ResponseWriter, result hue.OperationResult) {
	status := http.StatusConflict
	if result == hue.ResultStarted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, OperationResponse{Result: result})
}

func (s *Server) handleUpdateCheck(w http.ResponseWriter, r *http.Request) {
	if session := s.session(w); session != nil {
		writeOperation(w, session.BeginCheckForSoftwareUpdates(r.Context()))
	}
}

func (s *Server) handleUpdateApply(w http.ResponseWriter, r *http.Request) {
	if session := s.session(w); session != nil {
		writeOperation(w, session.BeginApplySoftwareUpdates(r.Context()))
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if session := s.session(w); session != nil {
		writeOperation(w, session.BeginSearchForNewLights(r.Context()))
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "event ledger disabled"})
		return
	}

	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = min(n, maxEventLimit)
	}

	var (
		entries interface{}
		err     error
	)
	if t := r.URL.Query().Get("type"); t != "" {
		entries, err = s.events.GetByType(t, limit)
	} else {
		entries, err = s.events.Recent(limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
