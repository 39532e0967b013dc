package insights

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/llm"
	"github.com/kolwatch/kolwatch/internal/models"
	"log/slog"
)

const analysisTemperature = 0.3

// EnrichmentStore claims pending posts and records analysis outcomes.
type EnrichmentStore interface {
	ClaimPending(ctx context.Context, limit, hoursBack int) ([]models.EnrichedPost, error)
	Commit(ctx context.Context, enrichment models.Enrichment) error
}

// LanguageModel is the subset of the model client the enricher uses.
type LanguageModel interface {
	CallText(ctx context.Context, prompt, model string, temperature float32) (*llm.Result, error)
	CallVision(ctx context.Context, prompt, model string, images []llm.ImageAttachment, temperature float32) (*llm.Result, error)
}

// ImagePreparer downloads and normalizes images ahead of vision calls.
type ImagePreparer interface {
	ProcessAll(ctx context.Context, urls []string) map[string]string
}

// insightPayload is the JSON shape the analysis prompts request.
type insightPayload struct {
	Summary            string          `json:"llm_summary"`
	Tag                string          `json:"post_tag"`
	ContentType        string          `json:"content_type"`
	Entities           []models.Entity `json:"mentioned_entities"`
	ImageDescription   string          `json:"image_description"`
	DeepInterpretation string          `json:"deep_interpretation"`
}

// Result aggregates one enrichment run.
type Result struct {
	Claimed         int           `json:"claimed"`
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	TextProcessed   int           `json:"text_processed"`
	VisionProcessed int           `json:"vision_processed"`
	Elapsed         time.Duration `json:"-"`
}

// Enricher runs LLM analysis over freshly crawled posts. Posts with usable
// images go through the vision model, the rest through the fast text model,
// each on its own worker pool.
type Enricher struct {
	store   EnrichmentStore
	model   LanguageModel
	images  ImagePreparer
	cfg     config.LLMConfig
	workers config.WorkerConfig
	logger  *slog.Logger
}

func NewEnricher(store EnrichmentStore, model LanguageModel, images ImagePreparer, cfg config.LLMConfig, workers config.WorkerConfig, logger *slog.Logger) *Enricher {
	return &Enricher{
		store:   store,
		model:   model,
		images:  images,
		cfg:     cfg,
		workers: workers,
		logger:  logger,
	}
}

type visionJob struct {
	post   models.EnrichedPost
	images []llm.ImageAttachment
}

// Run claims up to limit pending posts published within hoursBack hours and
// analyzes them. Per-post failures are committed as FAILED and never stop the
// run.
func (e *Enricher) Run(ctx context.Context, limit, hoursBack int) (Result, error) {
	start := time.Now()

	posts, err := e.store.ClaimPending(ctx, limit, hoursBack)
	if err != nil {
		return Result{}, err
	}

	result := Result{Claimed: len(posts)}
	if len(posts) == 0 {
		result.Elapsed = time.Since(start)
		return result, nil
	}

	textJobs, visionJobs := e.partition(ctx, posts)
	e.logger.Info("enrichment batch claimed",
		"claimed", len(posts),
		"text", len(textJobs),
		"vision", len(visionJobs))

	var mu sync.Mutex
	record := func(vision bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failed++
		} else {
			result.Completed++
		}
		if vision {
			result.VisionProcessed++
		} else {
			result.TextProcessed++
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.runTextPool(ctx, textJobs, record)
	}()
	go func() {
		defer wg.Done()
		e.runVisionPool(ctx, visionJobs, record)
	}()
	wg.Wait()

	result.Elapsed = time.Since(start)
	e.logger.Info("enrichment batch finished",
		"completed", result.Completed,
		"failed", result.Failed,
		"elapsed", result.Elapsed)
	return result, nil
}

// partition splits claimed posts into text and vision jobs. Image URLs are
// downloaded and normalized up front; a post whose images all fail to
// process downgrades to the text path.
func (e *Enricher) partition(ctx context.Context, posts []models.EnrichedPost) ([]models.EnrichedPost, []visionJob) {
	var textJobs []models.EnrichedPost
	candidates := make(map[int64][]string, len(posts))
	var allURLs []string

	for _, post := range posts {
		urls := candidateImageURLs(post.MediaURLs)
		if len(urls) == 0 {
			textJobs = append(textJobs, post)
			continue
		}
		candidates[post.Post.ID] = urls
		allURLs = append(allURLs, urls...)
	}

	var prepared map[string]string
	if len(allURLs) > 0 {
		prepared = e.images.ProcessAll(ctx, allURLs)
	}

	var visionJobs []visionJob
	for _, post := range posts {
		urls, isVision := candidates[post.Post.ID]
		if !isVision {
			continue
		}

		var attachments []llm.ImageAttachment
		for _, u := range urls {
			if dataURI, found := prepared[u]; found {
				attachments = append(attachments, llm.ImageAttachment{Base64: dataURI})
			}
		}
		if len(attachments) == 0 {
			e.logger.Warn("no usable images, downgrading to text analysis",
				"post_id", post.Post.ID)
			textJobs = append(textJobs, post)
			continue
		}
		visionJobs = append(visionJobs, visionJob{post: post, images: attachments})
	}

	return textJobs, visionJobs
}

func (e *Enricher) runTextPool(ctx context.Context, jobs []models.EnrichedPost, record func(vision bool, err error)) {
	if len(jobs) == 0 {
		return
	}

	ch := make(chan models.EnrichedPost)
	var wg sync.WaitGroup
	for i := 0; i < max(1, e.workers.TextWorkers); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for post := range ch {
				record(false, e.enrichText(ctx, post))
			}
		}()
	}

	for _, post := range jobs {
		ch <- post
	}
	close(ch)
	wg.Wait()
}

func (e *Enricher) runVisionPool(ctx context.Context, jobs []visionJob, record func(vision bool, err error)) {
	if len(jobs) == 0 {
		return
	}

	ch := make(chan visionJob)
	var wg sync.WaitGroup
	for i := 0; i < max(1, e.workers.VisionWorkers); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range ch {
				record(true, e.enrichVision(ctx, job))
			}
		}()
	}

	for _, job := range jobs {
		ch <- job
	}
	close(ch)
	wg.Wait()
}

func (e *Enricher) enrichText(ctx context.Context, post models.EnrichedPost) error {
	prompt := textPrompt(post, e.cfg.MaxContentChars)
	res, err := e.model.CallText(ctx, prompt, e.cfg.FastModel, analysisTemperature)
	if err != nil {
		return e.commitFailure(ctx, post, err)
	}
	return e.commitResult(ctx, post, res)
}

// enrichVision calls the primary vision model and falls back to the
// secondary one when the primary fails.
func (e *Enricher) enrichVision(ctx context.Context, job visionJob) error {
	prompt := visionPrompt(job.post, len(job.images), e.cfg.MaxContentChars)

	res, err := e.model.CallVision(ctx, prompt, e.cfg.VisionModel, job.images, analysisTemperature)
	if err != nil && e.cfg.VisionFallback != "" && e.cfg.VisionFallback != e.cfg.VisionModel {
		e.logger.Warn("vision model failed, trying fallback",
			"post_id", job.post.Post.ID,
			"model", e.cfg.VisionModel,
			"error", err)
		res, err = e.model.CallVision(ctx, prompt, e.cfg.VisionFallback, job.images, analysisTemperature)
	}
	if err != nil {
		return e.commitFailure(ctx, job.post, err)
	}
	return e.commitResult(ctx, job.post, res)
}

func (e *Enricher) commitResult(ctx context.Context, post models.EnrichedPost, res *llm.Result) error {
	var payload insightPayload
	if err := llm.ExtractJSON(res.Content, &payload); err != nil {
		e.logger.Warn("unparseable model output", "post_id", post.Post.ID, "error", err)
		return e.commitFailure(ctx, post, err)
	}

	enrichment := models.Enrichment{
		PostID:             post.Post.ID,
		Status:             models.EnrichmentStatusCompleted,
		Summary:            payload.Summary,
		Tag:                payload.Tag,
		ContentType:        payload.ContentType,
		Entities:           payload.Entities,
		DeepInterpretation: payload.DeepInterpretation,
		ImageDescription:   payload.ImageDescription,
		ModelName:          res.Model,
	}
	if err := e.store.Commit(ctx, enrichment); err != nil {
		e.logger.Error("commit enrichment", "post_id", post.Post.ID, "error", err)
		return err
	}
	return nil
}

// commitFailure records the post as FAILED with the error text preserved for
// inspection, then reports the original failure.
func (e *Enricher) commitFailure(ctx context.Context, post models.EnrichedPost, cause error) error {
	enrichment := models.Enrichment{
		PostID:             post.Post.ID,
		Status:             models.EnrichmentStatusFailed,
		DeepInterpretation: cause.Error(),
	}
	if err := e.store.Commit(ctx, enrichment); err != nil {
		e.logger.Error("commit failed enrichment", "post_id", post.Post.ID, "error", err)
	}
	return cause
}

// candidateImageURLs filters media URLs down to static twimg images,
// preserving order and dropping duplicates.
func candidateImageURLs(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	var out []string
	for _, u := range urls {
		if !strings.Contains(u, "twimg") || strings.Contains(u, "video") {
			continue
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
