package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"storyforge/internal/domain"
	"storyforge/internal/job"
)

const maxPromptLen = 2000

var validLengths = map[string]struct{}{"short": {}, "medium": {}, "long": {}}

// CreateJob accepts a generation request, registers it and starts the
// pipeline. The job id comes back immediately; progress flows through the
// status and events endpoints.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.JobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		a.jsonError(w, http.StatusBadRequest, domain.KindValidation, "invalid JSON body")
		return
	}
	if err := validateJobRequest(&req); err != nil {
		a.jsonError(w, http.StatusBadRequest, domain.KindValidation, err.Error())
		return
	}

	rec := a.Registry.Create(req)
	if err := a.Controller.Start(rec.ID); err != nil {
		a.Log.Error().Err(err).Str("job_id", rec.ID).Msg("handlers: start job")
		a.jsonError(w, http.StatusInternalServerError, domain.KindInternal, "could not start job")
		return
	}

	a.Log.Info().Str("job_id", rec.ID).Str("story_type", req.StoryType).Msg("handlers: job accepted")
	a.json(w, http.StatusAccepted, map[string]string{"jobId": rec.ID})
}

// GetJob returns the current snapshot of a job record.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.jsonError(w, http.StatusNotFound, domain.KindValidation, "job not found")
		return
	}
	a.json(w, http.StatusOK, rec)
}

// CancelJob requests cooperative cancellation. Cancelling a terminal job is a
// conflict, not an error the caller can fix.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	err := a.Controller.Cancel(chi.URLParam(r, "id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrNotFound):
		a.jsonError(w, http.StatusNotFound, domain.KindValidation, "job not found")
	case errors.Is(err, job.ErrJobTerminal):
		a.jsonError(w, http.StatusConflict, domain.KindValidation, "job already finished")
	default:
		a.jsonError(w, http.StatusInternalServerError, domain.KindInternal, "could not cancel job")
	}
}

func validateJobRequest(req *domain.JobRequest) error {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return errors.New("prompt is required")
	}
	if len(req.Prompt) > maxPromptLen {
		return errors.New("prompt exceeds 2000 characters")
	}
	req.Character.Name = strings.TrimSpace(req.Character.Name)
	if req.Character.Name == "" {
		return errors.New("character.name is required")
	}
	if req.Length == "" {
		req.Length = "medium"
	}
	if _, ok := validLengths[req.Length]; !ok {
		return errors.New("length must be one of short, medium, long")
	}
	return nil
}
