package job

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/providers/image"
	"storyforge/internal/providers/text"
	"storyforge/internal/providers/video"
	"storyforge/internal/providers/voice"
	"storyforge/internal/story"
)

// Providers bundles the upstream capabilities the controller drives.
type Providers struct {
	Text  text.Writer
	Image image.Generator
	Voice voice.Synthesizer
	Video video.Assembler
}

// Limits bounds outbound concurrency per provider. The semaphores are
// process-global: they cap in-flight upstream calls across all jobs.
type Limits struct {
	Image *semaphore.Weighted
	Voice *semaphore.Weighted
	Video *semaphore.Weighted
}

// NewLimits builds provider semaphores, applying the defaults for
// non-positive values.
func NewLimits(imageN, voiceN, videoN int64) *Limits {
	if imageN <= 0 {
		imageN = 4
	}
	if voiceN <= 0 {
		voiceN = 4
	}
	if videoN <= 0 {
		videoN = 2
	}
	return &Limits{
		Image: semaphore.NewWeighted(imageN),
		Voice: semaphore.NewWeighted(voiceN),
		Video: semaphore.NewWeighted(videoN),
	}
}

// Options carries the tunables of a controller.
type Options struct {
	MaxScenes        int
	SceneConcurrency int

	RetryCount  int
	RetryBase   time.Duration
	RetryFactor float64
	RetryJitter float64

	StoryTimeout    time.Duration
	ImageTimeout    time.Duration
	VoiceTimeout    time.Duration
	AssembleTimeout time.Duration
	JobBudget       time.Duration

	// SilentAudioURL is substituted for a scene whose narration could not
	// be synthesized.
	SilentAudioURL string
}

func (o Options) withDefaults() Options {
	if o.MaxScenes <= 0 {
		o.MaxScenes = story.DefaultMaxScenes
	}
	if o.SceneConcurrency < 1 || o.SceneConcurrency > 8 {
		o.SceneConcurrency = 2
	}
	if o.RetryCount < 0 || o.RetryCount > 5 {
		o.RetryCount = 2
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryFactor < 1 {
		o.RetryFactor = 2.0
	}
	if o.RetryJitter < 0 || o.RetryJitter >= 1 {
		o.RetryJitter = 0.2
	}
	if o.StoryTimeout <= 0 {
		o.StoryTimeout = 60 * time.Second
	}
	if o.ImageTimeout <= 0 {
		o.ImageTimeout = 90 * time.Second
	}
	if o.VoiceTimeout <= 0 {
		o.VoiceTimeout = 60 * time.Second
	}
	if o.AssembleTimeout <= 0 {
		o.AssembleTimeout = 180 * time.Second
	}
	if o.JobBudget <= 0 {
		o.JobBudget = 10 * time.Minute
	}
	return o
}

// Controller executes the generation pipeline for submitted jobs, publishing
// progress and honoring cancellation. It is the sole writer of a record
// while the job runs.
type Controller struct {
	registry  *Registry
	bus       *Bus
	providers Providers
	limits    *Limits
	opts      Options
	logger    infra.Logger

	mu      sync.Mutex
	running map[string]*runHandle
	wg      sync.WaitGroup
}

type runHandle struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// NewController wires a controller.
func NewController(registry *Registry, bus *Bus, providers Providers, limits *Limits, opts Options, logger infra.Logger) *Controller {
	if limits == nil {
		limits = NewLimits(0, 0, 0)
	}
	return &Controller{
		registry:  registry,
		bus:       bus,
		providers: providers,
		limits:    limits,
		opts:      opts.withDefaults(),
		logger:    logger,
		running:   make(map[string]*runHandle),
	}
}

// Start launches the pipeline for an already-registered queued job.
func (c *Controller) Start(jobID string) error {
	rec, err := c.registry.Get(jobID)
	if err != nil {
		return err
	}
	if rec.State != domain.JobStateQueued {
		return ErrJobTerminal
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.JobBudget)
	h := &runHandle{cancel: cancel}

	c.mu.Lock()
	c.running[jobID] = h
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer func() {
			c.mu.Lock()
			delete(c.running, jobID)
			c.mu.Unlock()
		}()
		c.execute(ctx, rec, h)
	}()
	return nil
}

// Cancel requests cooperative cancellation of a running job. Terminal jobs
// return ErrJobTerminal; unknown ids return domain.ErrNotFound.
func (c *Controller) Cancel(jobID string) error {
	rec, err := c.registry.Get(jobID)
	if err != nil {
		return err
	}
	if rec.State.Terminal() {
		return ErrJobTerminal
	}

	c.mu.Lock()
	h := c.running[jobID]
	c.mu.Unlock()

	if h != nil {
		h.cancelled.Store(true)
		h.cancel()
		return nil
	}

	// Not started yet (or the runner just exited); settle the record here.
	c.finishCancelled(jobID)
	return nil
}

// Drain blocks until every in-flight job has settled.
func (c *Controller) Drain() {
	c.wg.Wait()
}

// sceneResult keeps per-scene outputs keyed by index so concurrency never
// reorders them.
type sceneResult struct {
	imageURL string
	audioURL string
	duration float64
	degraded string
}

func (c *Controller) execute(ctx context.Context, rec domain.JobRecord, h *runHandle) {
	req := rec.Request
	r := &runProgress{c: c, jobID: rec.ID, weights: planWeights(req.IncludeVoice, req.IncludeVideo)}

	log := c.logger.With().Str("job_id", rec.ID).Logger()
	log.Info().Str("character", req.Character.Name).Msg("controller: job started")

	if _, err := c.registry.Update(rec.ID, func(j *domain.JobRecord) {
		j.State = domain.JobStateRunning
		j.Phase = domain.PhaseGeneratingStory
	}); err != nil {
		return
	}
	r.setPhase(domain.PhaseGeneratingStory, "generating story text")

	// Story text.
	var storyText string
	err := c.withRetry(ctx, h, c.opts.StoryTimeout, func(ctx context.Context) error {
		var genErr error
		storyText, genErr = c.providers.Text.GenerateStory(ctx, text.Request{
			Prompt:           req.Prompt,
			Genre:            req.StoryType,
			Tone:             req.Tone,
			LengthBucket:     req.Length,
			CharacterName:    req.Character.Name,
			CharacterSummary: req.Character.Meta["summary"],
			MaxScenes:        c.opts.MaxScenes,
		})
		return genErr
	})
	if c.settleIfStopped(ctx, rec.ID, h, err, &log) {
		return
	}
	if err != nil {
		c.finishFailed(rec.ID, err, &log)
		return
	}
	r.advance(r.weights.story, domain.PhaseGeneratingStory, "story text ready")

	// Parse scenes. Pure CPU work: no suspension point.
	r.setPhase(domain.PhaseParsingScenes, "parsing scenes")
	st, err := story.Parse(storyText, req.Character, c.opts.MaxScenes)
	if err != nil {
		c.finishFailed(rec.ID, err, &log)
		return
	}
	sceneCount := len(st.Scenes)
	if _, err := c.registry.Update(rec.ID, func(j *domain.JobRecord) {
		s := st
		j.Story = &s
		j.Artifacts.SceneImages = make([]string, sceneCount)
		j.Artifacts.SceneAudios = make([]string, sceneCount)
	}); err != nil {
		return
	}
	r.advance(r.weights.parse, domain.PhaseParsingScenes, fmt.Sprintf("parsed %d scenes", sceneCount))

	results := make([]sceneResult, sceneCount)

	// Per-scene images.
	if stopped := c.runScenePhase(ctx, h, r, domain.PhaseGeneratingImages, "illustrating scenes", st, func(ctx context.Context, i int, sc domain.Scene) (string, error) {
		res := &results[i]
		ireq := image.Request{
			JobID:             rec.ID,
			SceneNumber:       sc.Number,
			Content:           sc.Content,
			Style:             req.StoryType,
			CharacterName:     sc.CharacterName,
			CharacterImageURL: req.Character.ImageURL,
		}
		err := c.withSemaphore(ctx, c.limits.Image, func() error {
			return c.withRetry(ctx, h, c.opts.ImageTimeout, func(ctx context.Context) error {
				asset, genErr := c.providers.Image.Generate(ctx, ireq)
				if genErr != nil {
					return genErr
				}
				res.imageURL = asset.URL
				return nil
			})
		})
		if err != nil {
			if stop := stopCause(ctx, h); stop != nil {
				return "", stop
			}
			// Degrade to the placeholder frame; the job continues.
			res.imageURL = c.providers.Image.Placeholder(ireq).URL
			res.degraded = fmt.Sprintf("scene %d image degraded to placeholder", sc.Number)
			log.Warn().Err(err).Int("scene", sc.Number).Msg("controller: image degraded")
		}
		c.recordSceneImage(rec.ID, i, res.imageURL)
		return res.degraded, nil
	}); stopped {
		c.settleStopped(ctx, rec.ID, h, &log)
		return
	}

	// Per-scene narration.
	if req.IncludeVoice {
		if stopped := c.runScenePhase(ctx, h, r, domain.PhaseGeneratingNarration, "narrating scenes", st, func(ctx context.Context, i int, sc domain.Scene) (string, error) {
			res := &results[i]
			err := c.withSemaphore(ctx, c.limits.Voice, func() error {
				return c.withRetry(ctx, h, c.opts.VoiceTimeout, func(ctx context.Context) error {
					asset, synthErr := c.providers.Voice.Synthesize(ctx, voice.Request{
						JobID:       rec.ID,
						SceneNumber: sc.Number,
						Content:     sc.Content,
					})
					if synthErr != nil {
						return synthErr
					}
					res.audioURL = asset.URL
					res.duration = asset.DurationSec
					return nil
				})
			})
			if err != nil {
				if stop := stopCause(ctx, h); stop != nil {
					return "", stop
				}
				// Degrade to silence sized by the content length.
				res.audioURL = c.opts.SilentAudioURL
				res.duration = voice.SilentDuration(sc.Content)
				degraded := fmt.Sprintf("scene %d narration degraded to silence", sc.Number)
				log.Warn().Err(err).Int("scene", sc.Number).Msg("controller: narration degraded")
				c.recordSceneAudio(rec.ID, i, res.audioURL)
				return degraded, nil
			}
			c.recordSceneAudio(rec.ID, i, res.audioURL)
			return "", nil
		}); stopped {
			c.settleStopped(ctx, rec.ID, h, &log)
			return
		}
	} else {
		for i := range results {
			results[i].duration = voice.SilentDuration(st.Scenes[i].Content)
		}
	}

	// Assembly.
	if req.IncludeVideo {
		r.setPhase(domain.PhaseAssembling, "assembling video")
		clips := make([]video.Clip, sceneCount)
		for i, res := range results {
			clips[i] = video.Clip{ImageURL: res.imageURL, AudioURL: res.audioURL, DurationSec: res.duration}
		}
		var asset video.Asset
		err = c.withSemaphore(ctx, c.limits.Video, func() error {
			return c.withRetry(ctx, h, c.opts.AssembleTimeout, func(ctx context.Context) error {
				var asmErr error
				asset, asmErr = c.providers.Video.Assemble(ctx, video.Request{JobID: rec.ID, Title: st.Title, Clips: clips})
				return asmErr
			})
		})
		if c.settleIfStopped(ctx, rec.ID, h, err, &log) {
			return
		}
		if err != nil {
			// Assembly is fatal regardless of kind.
			c.finishFailed(rec.ID, err, &log)
			return
		}
		if _, err := c.registry.Update(rec.ID, func(j *domain.JobRecord) {
			j.Artifacts.VideoURL = asset.URL
		}); err != nil {
			return
		}
		r.advance(r.weights.assemble, domain.PhaseAssembling, "video assembled")
	}

	// Finalize.
	r.setPhase(domain.PhaseFinalizing, "finalizing")
	if _, err := c.registry.Update(rec.ID, func(j *domain.JobRecord) {
		j.State = domain.JobStateSucceeded
		j.Phase = domain.PhaseDone
		j.Progress = 100
	}); err != nil {
		return
	}
	c.bus.Publish(domain.ProgressEvent{
		JobID:     rec.ID,
		Phase:     domain.PhaseDone,
		Progress:  100,
		Message:   "story video ready",
		Timestamp: time.Now().UTC(),
	})
	log.Info().Msg("controller: job succeeded")
}

// runScenePhase fans per-scene work out with bounded concurrency, advancing
// progress by weight/sceneCount per completed scene. Degradation messages
// returned by fn are surfaced on the event stream. It reports whether the
// phase stopped early due to cancellation or budget exhaustion.
func (c *Controller) runScenePhase(
	ctx context.Context,
	h *runHandle,
	r *runProgress,
	phase domain.JobPhase,
	startMsg string,
	st domain.Story,
	fn func(ctx context.Context, i int, sc domain.Scene) (degraded string, err error),
) bool {
	if stopCause(ctx, h) != nil {
		return true
	}
	r.setPhase(phase, startMsg)

	var weight float64
	switch phase {
	case domain.PhaseGeneratingImages:
		weight = r.weights.image
	case domain.PhaseGeneratingNarration:
		weight = r.weights.voice
	}
	perScene := weight / float64(len(st.Scenes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.SceneConcurrency)
	for i, sc := range st.Scenes {
		i, sc := i, sc
		g.Go(func() error {
			degraded, err := fn(gctx, i, sc)
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("scene %d of %d complete", sc.Number, len(st.Scenes))
			if degraded != "" {
				msg = degraded
			}
			r.advance(perScene, phase, msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return true
	}
	return stopCause(ctx, h) != nil
}

func (c *Controller) recordSceneImage(jobID string, idx int, url string) {
	_, _ = c.registry.Update(jobID, func(j *domain.JobRecord) {
		if idx < len(j.Artifacts.SceneImages) {
			j.Artifacts.SceneImages[idx] = url
		}
	})
}

func (c *Controller) recordSceneAudio(jobID string, idx int, url string) {
	_, _ = c.registry.Update(jobID, func(j *domain.JobRecord) {
		if idx < len(j.Artifacts.SceneAudios) {
			j.Artifacts.SceneAudios[idx] = url
		}
	})
}

// withRetry runs fn with a per-attempt deadline, retrying transient failures
// with exponential backoff and jitter. Cancellation and job-budget
// exhaustion abort between attempts.
func (c *Controller) withRetry(ctx context.Context, h *runHandle, attemptTimeout time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.opts.RetryCount; attempt++ {
		if stop := stopCause(ctx, h); stop != nil {
			return stop
		}
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		err := fn(attemptCtx)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return nil
		}
		// A deadline on the attempt context counts as transient unless the
		// parent is already done.
		if timedOut && ctx.Err() == nil && !h.cancelled.Load() {
			err = domain.NewError(domain.KindTimeout, "upstream call deadline exceeded", err)
		}
		if stop := stopCause(ctx, h); stop != nil {
			return stop
		}
		lastErr = err
		if !domain.Transient(err) || attempt == c.opts.RetryCount {
			return lastErr
		}
		delay := c.backoff(attempt)
		select {
		case <-ctx.Done():
			return stopCause(ctx, h)
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (c *Controller) backoff(attempt int) time.Duration {
	d := float64(c.opts.RetryBase) * math.Pow(c.opts.RetryFactor, float64(attempt))
	jitter := 1 + (rand.Float64()*2-1)*c.opts.RetryJitter
	return time.Duration(d * jitter)
}

func (c *Controller) withSemaphore(ctx context.Context, sem *semaphore.Weighted, fn func() error) error {
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)
	return fn()
}

// stopCause reports why the run must stop, or nil: explicit cancellation
// wins over budget exhaustion.
func stopCause(ctx context.Context, h *runHandle) error {
	if h.cancelled.Load() {
		return domain.NewError(domain.KindCancelled, "job cancelled", context.Canceled)
	}
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return domain.NewError(domain.KindTimeout, "job budget exceeded", err)
		}
		return domain.NewError(domain.KindCancelled, "job cancelled", err)
	}
	return nil
}

// settleIfStopped finalizes the record when err (or the run state) signals
// cancellation or budget exhaustion. Reports whether the run is over.
func (c *Controller) settleIfStopped(ctx context.Context, jobID string, h *runHandle, err error, log *infra.Logger) bool {
	if stop := stopCause(ctx, h); stop != nil {
		c.settleStopped(ctx, jobID, h, log)
		return true
	}
	if err != nil && domain.KindOf(err) == domain.KindCancelled {
		c.finishCancelled(jobID)
		return true
	}
	return false
}

func (c *Controller) settleStopped(ctx context.Context, jobID string, h *runHandle, log *infra.Logger) {
	if h.cancelled.Load() || ctx.Err() == context.Canceled {
		log.Info().Msg("controller: job cancelled")
		c.finishCancelled(jobID)
		return
	}
	log.Warn().Msg("controller: job budget exceeded")
	c.finishFailed(jobID, domain.NewError(domain.KindTimeout, "job budget exceeded", context.DeadlineExceeded), log)
}

func (c *Controller) finishCancelled(jobID string) {
	rec, err := c.registry.Update(jobID, func(j *domain.JobRecord) {
		j.State = domain.JobStateCancelled
		j.Phase = domain.PhaseCancelled
		// Partial artifacts stay on the record for debugging, but a
		// cancelled job never surfaces a video.
		j.Artifacts.VideoURL = ""
	})
	if err != nil {
		return
	}
	c.bus.Publish(domain.ProgressEvent{
		JobID:     jobID,
		Phase:     domain.PhaseCancelled,
		Progress:  rec.Progress,
		Message:   "job cancelled",
		Timestamp: time.Now().UTC(),
	})
}

func (c *Controller) finishFailed(jobID string, cause error, log *infra.Logger) {
	kind := domain.KindOf(cause)
	if kind == domain.KindCancelled {
		c.finishCancelled(jobID)
		return
	}
	message := cause.Error()
	var de *domain.Error
	if errors.As(cause, &de) && de.Message != "" {
		message = de.Message
	}
	rec, err := c.registry.Update(jobID, func(j *domain.JobRecord) {
		j.State = domain.JobStateFailed
		j.Phase = domain.PhaseFailed
		j.Err = domain.NewError(kind, message, cause)
	})
	if err != nil {
		return
	}
	log.Error().Err(cause).Str("kind", string(kind)).Msg("controller: job failed")
	c.bus.Publish(domain.ProgressEvent{
		JobID:     jobID,
		Phase:     domain.PhaseFailed,
		Progress:  rec.Progress,
		Message:   cause.Error(),
		Timestamp: time.Now().UTC(),
	})
}

// phaseWeights carries the renormalized share of overall progress per phase.
type phaseWeights struct {
	story, parse, image, voice, assemble, finalize float64
}

// planWeights renormalizes the nominal 10/5/45/25/10/5 split when narration
// or assembly is skipped, so progress still ends at 100.
func planWeights(includeVoice, includeVideo bool) phaseWeights {
	w := phaseWeights{story: 10, parse: 5, image: 45, voice: 25, assemble: 10, finalize: 5}
	if !includeVoice {
		w.voice = 0
	}
	if !includeVideo {
		w.assemble = 0
	}
	sum := w.story + w.parse + w.image + w.voice + w.assemble + w.finalize
	scale := 100 / sum
	w.story *= scale
	w.parse *= scale
	w.image *= scale
	w.voice *= scale
	w.assemble *= scale
	w.finalize *= scale
	return w
}

// runProgress tracks monotone progress for one run and mirrors it to the
// registry and the bus.
type runProgress struct {
	c       *Controller
	jobID   string
	weights phaseWeights

	mu        sync.Mutex
	exact     float64
	published int
}

// advance adds delta to the progress total and emits an event. The mutex is
// held through the registry write and the publish so concurrent scene
// goroutines cannot reorder a lower percentage after a higher one on the
// event stream.
func (r *runProgress) advance(delta float64, phase domain.JobPhase, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.exact += delta
	if r.exact > 100 {
		r.exact = 100
	}
	pct := int(math.Round(r.exact))
	if pct < r.published {
		pct = r.published
	}
	r.published = pct

	_, _ = r.c.registry.Update(r.jobID, func(j *domain.JobRecord) {
		j.Phase = phase
		if pct > j.Progress {
			j.Progress = pct
		}
	})
	r.c.bus.Publish(domain.ProgressEvent{
		JobID:     r.jobID,
		Phase:     phase,
		Progress:  pct,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
}

// setPhase emits a phase transition without advancing progress.
func (r *runProgress) setPhase(phase domain.JobPhase, msg string) {
	r.advance(0, phase, msg)
}
