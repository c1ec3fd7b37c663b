package grades

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/lti-hubsync/internal/logger"
)

// Route is mounted below /hub.
const Route = "/grades/{course_id}/{assignment}"

const (
	msgCritical    = "There was an critical error, please check logs."
	msgNoGrades    = "There are no grades yet to submit"
	msgMissingInfo = "Impossible to send grades. There are missing values, please check logs."
	msgFailed      = "Impossible to send grades, please check logs."
)

type GradeSender interface {
	SendGrades(ctx context.Context, courseID, assignment string) (Report, error)
}

// Handler triggers a send for the course and assignment in the URL.
type Handler struct {
	Sender GradeSender
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "course_id")
	assignment := chi.URLParam(r, "assignment")
	log := logger.C(r.Context())
	if courseID == "" || assignment == "" {
		http.Error(w, "course_id and assignment required", http.StatusBadRequest)
		return
	}
	log.Debug().Str("course", courseID).Str("assignment", assignment).Msg("send grades")

	rep, err := h.Sender.SendGrades(r.Context(), courseID, assignment)
	if err != nil {
		var (
			crit    *CriticalError
			missing *MissingInfoError
		)
		msg := msgFailed
		switch {
		case errors.As(err, &crit):
			msg = msgCritical
		case errors.Is(err, ErrAssignmentWithoutGrades):
			msg = msgNoGrades
		case errors.As(err, &missing):
			msg = msgMissingInfo
		}
		log.Error().Err(err).Str("course", courseID).Str("assignment", assignment).Msg("send grades failed")
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"posted":  rep.Posted,
		"failed":  rep.Failed,
	})
}
