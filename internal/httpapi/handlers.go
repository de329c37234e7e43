package httpapi

import (
	"net/http"
	"strings"
	"time"

	"notifyd/internal/channel"
	"notifyd/internal/domain"
	"notifyd/pkg/logx"
)

// requestPayload is the intake shape for request-centric events.
type requestPayload struct {
	ID            string `json:"id"`
	PartName      string `json:"partName"`
	RequesterID   string `json:"requesterId,omitempty"`
	RequesterName string `json:"requesterName,omitempty"`
	AssigneeName  string `json:"assigneeName,omitempty"`
	Importance    string `json:"importance,omitempty"`
	Status        string `json:"status,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"` // RFC 3339; default now
	DueAt         string `json:"dueAt,omitempty"`

	// Status-changed only.
	OldStatus string `json:"oldStatus,omitempty"`
	NewStatus string `json:"newStatus,omitempty"`
}

func (p requestPayload) toRequest() (domain.Request, string) {
	if strings.TrimSpace(p.ID) == "" {
		return domain.Request{}, "id is required"
	}
	if strings.TrimSpace(p.PartName) == "" {
		return domain.Request{}, "partName is required"
	}
	req := domain.Request{
		ID:            p.ID,
		PartName:      p.PartName,
		RequesterID:   p.RequesterID,
		RequesterName: p.RequesterName,
		AssigneeName:  p.AssigneeName,
		Importance:    p.Importance,
		Status:        p.Status,
		CreatedAt:     time.Now(),
	}
	if p.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, p.CreatedAt)
		if err != nil {
			return domain.Request{}, "createdAt: expected RFC 3339"
		}
		req.CreatedAt = t
	}
	if p.DueAt != "" {
		t, err := time.Parse(time.RFC3339, p.DueAt)
		if err != nil {
			return domain.Request{}, "dueAt: expected RFC 3339"
		}
		req.DueAt = t
	}
	return req, ""
}

func (s *Server) handleRequestCreated(w http.ResponseWriter, r *http.Request) {
	var p requestPayload
	if !s.decode(w, r, &p) {
		return
	}
	req, msg := p.toRequest()
	if msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}
	sum, err := s.dsp.RequestCreated(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleUrgent(w http.ResponseWriter, r *http.Request) {
	var p requestPayload
	if !s.decode(w, r, &p) {
		return
	}
	req, msg := p.toRequest()
	if msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}
	sum, err := s.dsp.UrgentRequest(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleStatusChanged(w http.ResponseWriter, r *http.Request) {
	var p requestPayload
	if !s.decode(w, r, &p) {
		return
	}
	req, msg := p.toRequest()
	if msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}
	if p.OldStatus == "" || p.NewStatus == "" {
		s.writeError(w, http.StatusBadRequest, "oldStatus and newStatus are required")
		return
	}
	sum, err := s.dsp.StatusChanged(r.Context(), req, p.OldStatus, p.NewStatus)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Subject string `json:"subject"`
		Message string `json:"message"`
	}
	if !s.decode(w, r, &p) {
		return
	}
	if strings.TrimSpace(p.Subject) == "" || strings.TrimSpace(p.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "subject and message are required")
		return
	}
	sum, err := s.dsp.SystemMessage(r.Context(), p.Subject, p.Message)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

// handleAttempts returns the delivery audit trail for one business
// entity, oldest first.
func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entityType")
	entityID := r.URL.Query().Get("entityId")
	if entityType == "" || entityID == "" {
		s.writeError(w, http.StatusBadRequest, "entityType and entityId are required")
		return
	}
	attempts, err := s.st.AttemptsByEntity(r.Context(), entityType, entityID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entityType": entityType,
		"entityId":   entityID,
		"count":      len(attempts),
		"attempts":   attempts,
	})
}

func (s *Server) handleChannelStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dsp.ChannelStatus(r.Context()))
}

func (s *Server) handleSweepRun(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		s.writeError(w, http.StatusServiceUnavailable, "sweeper disabled")
		return
	}
	s.sweeper.Run(r.Context())
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sweep finished"})
}

// handlePushPermission records a user's answer to the in-app
// notification permission prompt.
func (s *Server) handlePushPermission(w http.ResponseWriter, r *http.Request) {
	var p struct {
		UserID string `json:"userId"`
		State  string `json:"state"`
	}
	if !s.decode(w, r, &p) {
		return
	}
	if strings.TrimSpace(p.UserID) == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	var state channel.PermissionState
	switch p.State {
	case "granted":
		state = channel.PermissionGranted
	case "denied":
		state = channel.PermissionDenied
	case "default":
		state = channel.PermissionDefault
	default:
		s.writeError(w, http.StatusBadRequest, "state must be granted, denied or default")
		return
	}
	s.hub.SetPermission(p.UserID, state)
	s.log.Debug("push permission recorded", logx.String("user", p.UserID), logx.String("state", p.State))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
