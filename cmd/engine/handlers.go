package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sapliy/notify-engine/internal/notification"
	"github.com/sapliy/notify-engine/pkg/bcryptutil"
	"github.com/sapliy/notify-engine/pkg/jsonutil"
	"github.com/sapliy/notify-engine/pkg/observability"
)

type Server struct {
	orchestrator *notification.Orchestrator
	repo         *notification.Repository
	prefs        *notification.PreferenceStore
	templates    *notification.TemplateService
	analytics    *notification.Analytics
	registry     *notification.ConnectionRegistry
	logger       *observability.Logger

	jwtSecret    []byte
	adminKeyHash string
	upgrader     websocket.Upgrader
}

func NewServer(
	orchestrator *notification.Orchestrator,
	repo *notification.Repository,
	prefs *notification.PreferenceStore,
	templates *notification.TemplateService,
	analytics *notification.Analytics,
	registry *notification.ConnectionRegistry,
	logger *observability.Logger,
	jwtSecret []byte,
	adminKeyHash string,
) *Server {
	return &Server{
		orchestrator: orchestrator,
		repo:         repo,
		prefs:        prefs,
		templates:    templates,
		analytics:    analytics,
		registry:     registry,
		logger:       logger,
		jwtSecret:    jwtSecret,
		adminKeyHash: adminKeyHash,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}
}

// httpStatus maps domain error kinds to HTTP status codes.
func httpStatus(err error) int {
	switch notification.KindOf(err) {
	case notification.KindValidation:
		return http.StatusBadRequest
	case notification.KindNotFound:
		return http.StatusNotFound
	case notification.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	jsonutil.WriteErrorJSON(w, httpStatus(err), err.Error())
}

// requireAdmin guards mutating template and preference-reset endpoints with
// the admin key. An unset hash disables the check for local development.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminKeyHash != "" {
			key := r.Header.Get("X-Admin-Key")
			if key == "" || !bcryptutil.Verify(key, s.adminKeyHash) {
				jsonutil.WriteErrorJSON(w, http.StatusUnauthorized, "invalid admin key")
				return
			}
		}
		next(w, r)
	}
}

// Notification handlers

func (s *Server) SubmitNotification(w http.ResponseWriter, r *http.Request) {
	var req notification.SubmitRequest
	if err := jsonutil.DecodeJSON(r, &req); err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := s.orchestrator.Submit(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusCreated, n)
}

func (s *Server) GetNotification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, err := s.repo.GetNotification(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, n)
}

func (s *Server) ListNotifications(w http.ResponseWriter, r *http.Request) {
	recipientID := mux.Vars(r)["recipientId"]
	unreadOnly := r.URL.Query().Get("unread") == "true"

	list, err := s.repo.ListNotifications(r.Context(), recipientID, unreadOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"notifications": list,
		"count":         len(list),
	})
}

func (s *Server) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	logs, err := s.repo.ListDeliveryLogs(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{"deliveries": logs})
}

func (s *Server) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orchestrator.MarkRead(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) TrackOpen(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orchestrator.TrackOpen(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "opened"})
}

func (s *Server) TrackClick(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		ActionID string `json:"action_id"`
	}
	if r.ContentLength > 0 {
		if err := jsonutil.DecodeJSON(r, &req); err != nil {
			jsonutil.WriteErrorJSON(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := s.orchestrator.TrackClick(r.Context(), id, req.ActionID); err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "clicked"})
}

// Preference handlers

func (s *Server) ListPreferences(w http.ResponseWriter, r *http.Request) {
	recipientID := mux.Vars(r)["recipientId"]
	prefs, err := s.prefs.List(r.Context(), recipientID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{"preferences": prefs})
}

func (s *Server) GetPreference(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	category := notification.Category(vars["category"])
	if !category.Valid() {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "unknown category: "+string(category))
		return
	}

	pref, err := s.prefs.Get(r.Context(), vars["recipientId"], category)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, pref)
}

func (s *Server) UpdatePreference(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	category := notification.Category(vars["category"])
	if !category.Valid() {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "unknown category: "+string(category))
		return
	}

	var update notification.PreferenceUpdate
	if err := jsonutil.DecodeJSON(r, &update); err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, err.Error())
		return
	}

	pref, err := s.prefs.Upsert(r.Context(), vars["recipientId"], category, update)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, pref)
}

func (s *Server) ResetPreferences(w http.ResponseWriter, r *http.Request) {
	recipientID := mux.Vars(r)["recipientId"]
	prefs, err := s.prefs.ResetAll(r.Context(), recipientID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{"preferences": prefs})
}

// Template handlers

func (s *Server) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in notification.TemplateInput
	if err := jsonutil.DecodeJSON(r, &in); err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := s.templates.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusCreated, t)
}

func (s *Server) GetTemplate(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	t, err := s.templates.FindByKey(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, t)
}

func (s *Server) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var update notification.TemplateUpdate
	if err := jsonutil.DecodeJSON(r, &update); err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := s.templates.Update(r.Context(), id, update)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, t)
}

func (s *Server) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.templates.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// RenderTemplate renders a template with caller-supplied variables without
// creating a notification. Useful for previewing template changes.
func (s *Server) RenderTemplate(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var req struct {
		Variables map[string]any `json:"variables"`
	}
	if r.ContentLength > 0 {
		if err := jsonutil.DecodeJSON(r, &req); err != nil {
			jsonutil.WriteErrorJSON(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	rendered, err := s.templates.Render(r.Context(), key, req.Variables)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, rendered)
}

// Analytics handlers

func parseDateRange(r *http.Request) (notification.DateRange, error) {
	var dr notification.DateRange
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return dr, notification.ValidationError("from", "must be RFC3339")
		}
		dr.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return dr, notification.ValidationError("to", "must be RFC3339")
		}
		dr.To = t
	}
	return dr, nil
}

func (s *Server) DeliveryMetrics(w http.ResponseWriter, r *http.Request) {
	dr, err := parseDateRange(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	metrics, err := s.analytics.GetMetrics(r.Context(), r.URL.Query().Get("recipient_id"), dr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, metrics)
}

func (s *Server) CategoryStats(w http.ResponseWriter, r *http.Request) {
	dr, err := parseDateRange(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	stats, err := s.analytics.GetCategoryStats(r.Context(), dr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{"categories": stats})
}

func (s *Server) ChannelPerformance(w http.ResponseWriter, r *http.Request) {
	dr, err := parseDateRange(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	stats, err := s.analytics.GetChannelPerformance(r.Context(), dr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{"channels": stats})
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"connected_recipients": s.registry.ConnectedRecipients(),
	})
}
