package handlers

import (
	"encoding/json"
	"net/http"

	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/job"
	"storyforge/internal/storage"
)

// App bundles the dependencies the HTTP handlers need.
type App struct {
	Cfg        *infra.Config
	Log        infra.Logger
	Registry   *job.Registry
	Bus        *job.Bus
	Controller *job.Controller
	Store      *storage.FileStore
}

func NewApp(cfg *infra.Config, log infra.Logger, registry *job.Registry, bus *job.Bus, controller *job.Controller, store *storage.FileStore) *App {
	return &App{Cfg: cfg, Log: log, Registry: registry, Bus: bus, Controller: controller, Store: store}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

func (a *App) jsonError(w http.ResponseWriter, code int, kind domain.ErrorKind, msg string) {
	a.json(w, code, map[string]errorBody{"error": {Kind: kind, Message: msg}})
}
