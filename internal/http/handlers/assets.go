package handlers

import (
	"fmt"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"storyforge/internal/domain"
	"storyforge/pkg/zip"
)

// DownloadAssets bundles every locally stored artifact of a finished job into
// a zip archive. Remote artifacts, such as the assembled video when the render
// service hosts it, are not included.
func (a *App) DownloadAssets(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := a.Registry.Get(id)
	if err != nil {
		a.jsonError(w, http.StatusNotFound, domain.KindValidation, "job not found")
		return
	}
	if !rec.State.Terminal() {
		a.jsonError(w, http.StatusConflict, domain.KindValidation, "job still running")
		return
	}

	urls := make([]string, 0, len(rec.Artifacts.SceneImages)+len(rec.Artifacts.SceneAudios)+1)
	urls = append(urls, rec.Artifacts.SceneImages...)
	urls = append(urls, rec.Artifacts.SceneAudios...)
	if rec.Artifacts.VideoURL != "" {
		urls = append(urls, rec.Artifacts.VideoURL)
	}

	assets := make([]zip.Asset, 0, len(urls))
	for _, u := range urls {
		key, ok := a.Store.Key(u)
		if !ok {
			continue
		}
		data, err := a.Store.Read(r.Context(), key)
		if err != nil {
			a.Log.Warn().Err(err).Str("job_id", id).Str("key", key).Msg("handlers: asset unreadable")
			continue
		}
		assets = append(assets, zip.Asset{Filename: path.Base(key), Data: data})
	}
	if len(assets) == 0 {
		a.jsonError(w, http.StatusNotFound, domain.KindValidation, "no local assets for job")
		return
	}

	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.Log.Error().Err(err).Str("job_id", id).Msg("handlers: archive assets")
		a.jsonError(w, http.StatusInternalServerError, domain.KindInternal, "could not build archive")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "job-"+id+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
