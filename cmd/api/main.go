package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"storyforge/internal/http/handlers"
	httpapi "storyforge/internal/http/httpapi"
	"storyforge/internal/infra"
	"storyforge/internal/job"
	"storyforge/internal/providers/image"
	"storyforge/internal/providers/text"
	"storyforge/internal/providers/video"
	"storyforge/internal/providers/voice"
	"storyforge/internal/storage"
)

// Exit codes follow sysexits: 64 for configuration errors, 70 for internal
// failures, 75 for a shutdown forced before all jobs drained.
const (
	exitOK       = 0
	exitUsage    = 64
	exitSoftware = 70
	exitTempFail = 75
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitUsage
	}
	logger := infra.NewLogger(cfg.AppEnv)

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.PublicBaseURL)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.StoragePath).Msg("storage path unavailable")
		return exitSoftware
	}

	providers := job.Providers{
		Text: text.NewOpenAIWriter(text.OpenAIOptions{
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			BaseURL:      cfg.OpenAIBaseURL,
			Organization: cfg.OpenAIOrg,
		}),
		Image: image.NewDiffusionGenerator(image.DiffusionOptions{
			BaseURL: cfg.DiffusionBaseURL,
			Store:   store,
		}),
		Voice: voice.NewElevenLabsSynthesizer(voice.ElevenLabsOptions{
			APIKey:  cfg.TTSAPIKey,
			BaseURL: cfg.TTSBaseURL,
			VoiceID: cfg.TTSVoiceID,
			Store:   store,
		}),
		Video: video.NewRenderClient(video.RenderOptions{
			BaseURL: cfg.RenderBaseURL,
		}),
	}

	bus := job.NewBus()
	registry := job.NewRegistry(cfg.JobTTL, bus.Drop)
	registry.StartJanitor()
	defer registry.Stop()

	controller := job.NewController(registry, bus, providers, job.NewLimits(
		int64(cfg.ImageLimit), int64(cfg.VoiceLimit), int64(cfg.VideoLimit),
	), job.Options{
		MaxScenes:        cfg.MaxScenes,
		SceneConcurrency: cfg.SceneConcurrency,
		RetryCount:       cfg.RetryCount,
		RetryBase:        cfg.RetryBase,
		RetryFactor:      cfg.RetryFactor,
		RetryJitter:      cfg.RetryJitter,
		StoryTimeout:     cfg.StoryTimeout,
		ImageTimeout:     cfg.ImageTimeout,
		VoiceTimeout:     cfg.VoiceTimeout,
		AssembleTimeout:  cfg.AssembleTimeout,
		JobBudget:        cfg.JobBudget,
		SilentAudioURL:   store.URL("placeholders/silence.mp3"),
	}, logger)

	app := handlers.NewApp(cfg, logger, registry, bus, controller, store)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		serverErr <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			return exitSoftware
		}
		return exitOK
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// Wait for in-flight jobs up to the remaining shutdown window; report a
	// temporary failure if they did not settle.
	drained := make(chan struct{})
	go func() {
		controller.Drain()
		close(drained)
	}()
	select {
	case <-drained:
		logger.Info().Msg("server stopped")
		return exitOK
	case <-time.After(cfg.HTTPIdleTimeout):
		logger.Warn().Msg("shutdown with jobs still in flight")
		return exitTempFail
	}
}
