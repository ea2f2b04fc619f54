package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// SessionHandler exposes session creation, host controls, and read-only
// status over plain JSON endpoints. Hosts drive the lifecycle here;
// participants play over the websocket.
type SessionHandler struct {
	service *app.SessionService
	log     zerolog.Logger
}

func NewSessionHandler(service *app.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{service: service, log: log}
}

// Register mounts the routes on mux.
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", h.createSession)
	mux.HandleFunc("POST /sessions/{id}/start", h.hostAction(h.start))
	mux.HandleFunc("POST /sessions/{id}/end", h.hostAction(h.endNow))
	mux.HandleFunc("POST /sessions/{id}/cancel", h.hostAction(h.cancel))
	mux.HandleFunc("GET /sessions/{id}", h.liveStatus)
	mux.HandleFunc("GET /sessions/{id}/summary", h.summary)
}

type createSessionRequest struct {
	QuizID           string   `json:"quizId"`
	HostID           string   `json:"hostId"`
	EndMode          string   `json:"endMode"`
	TotalTimeMinutes int      `json:"totalTimeMinutes"`
	QuestionLimit    int      `json:"questionLimit"`
	CountdownSeconds int      `json:"countdownSeconds"`
	Roster           []string `json:"roster"`
}

func (h *SessionHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.QuizID == "" || req.HostID == "" {
		writeError(w, http.StatusBadRequest, "quizId and hostId are required")
		return
	}

	session, err := h.service.CreateSession(r.Context(), app.CreateSessionRequest{
		QuizID:           req.QuizID,
		HostID:           req.HostID,
		EndMode:          domain.EndMode(req.EndMode),
		TotalTimeMinutes: req.TotalTimeMinutes,
		QuestionLimit:    req.QuestionLimit,
		CountdownSeconds: req.CountdownSeconds,
		Roster:           req.Roster,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

type hostActionRequest struct {
	HostID string `json:"hostId"`
}

func (h *SessionHandler) hostAction(action func(r *http.Request, sessionID, hostID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req hostActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HostID == "" {
			writeError(w, http.StatusBadRequest, "hostId is required")
			return
		}
		if err := action(r, r.PathValue("id"), req.HostID); err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *SessionHandler) start(r *http.Request, sessionID, hostID string) error {
	return h.service.StartSession(r.Context(), sessionID, hostID)
}

func (h *SessionHandler) endNow(r *http.Request, sessionID, hostID string) error {
	return h.service.EndNow(r.Context(), sessionID, hostID)
}

func (h *SessionHandler) cancel(r *http.Request, sessionID, hostID string) error {
	return h.service.CancelSession(r.Context(), sessionID, hostID)
}

func (h *SessionHandler) liveStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.LiveStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *SessionHandler) summary(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *SessionHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrSnapshotNotFound),
		errors.Is(err, domain.ErrParticipantNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotHost):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrJoinClosed),
		errors.Is(err, domain.ErrNotInRoster),
		errors.Is(err, domain.ErrAnswerCount):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
