package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/autopress/autopress/config"
	"github.com/autopress/autopress/internal/generator"
	"github.com/autopress/autopress/internal/media"
	"github.com/autopress/autopress/internal/mutator"
	"github.com/autopress/autopress/internal/publish"
	"github.com/autopress/autopress/internal/research"
	"github.com/autopress/autopress/internal/telemetry"
	"github.com/autopress/autopress/provider"
	"github.com/google/uuid"
)

// ResearchCollector is the research stage boundary.
type ResearchCollector interface {
	Collect(ctx context.Context, q research.Query) ([]research.Result, error)
}

// DraftGenerator is the plan and draft stage boundary.
type DraftGenerator interface {
	GeneratePlan(ctx context.Context, topic, language string, categories []string) (generator.Plan, error)
	GenerateDraft(ctx context.Context, plan generator.Plan, findings []research.Result, targetWords int) (generator.Draft, error)
}

// MediaService is the images stage boundary.
type MediaService interface {
	CollectAssets(ctx context.Context, topic string) ([]media.Asset, *media.Asset)
}

// ContentMutator is the mutate stage boundary.
type ContentMutator interface {
	Apply(html string, images []mutator.Image, video *mutator.Video, backlinks []string) string
}

// Orchestrator executes the fixed six-stage graph per work item:
// {Research, Plan, Images} fan out concurrently, a merge barrier joins them,
// then Draft, Mutate and Publish run in sequence. It exclusively owns
// WorkItem.status and all StageResults.
type Orchestrator struct {
	cfg       config.PipelineConfig
	store     Store
	research  ResearchCollector
	generator DraftGenerator
	media     MediaService
	mutator   ContentMutator
	publisher publish.Publisher
	logger    *log.Logger
	tele      *telemetry.Telemetry

	semaphore chan struct{}

	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	cfg config.PipelineConfig,
	store Store,
	collector ResearchCollector,
	gen DraftGenerator,
	mediaSvc MediaService,
	mut ContentMutator,
	pub publish.Publisher,
	logger *log.Logger,
	tele *telemetry.Telemetry,
) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	if tele == nil {
		tele = telemetry.Default()
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		research:  collector,
		generator: gen,
		media:     mediaSvc,
		mutator:   mut,
		publisher: pub,
		logger:    logger,
		tele:      tele,
		semaphore: make(chan struct{}, maxConcurrent),
		inflight:  make(map[string]context.CancelFunc),
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Submit accepts a new work item and persists it in Pending state. Execution
// happens when the scheduler (or an explicit dispatch) hands the item to
// Process.
func (o *Orchestrator) Submit(ctx context.Context, item *WorkItem) (string, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.DueAt.IsZero() {
		item.DueAt = item.CreatedAt
	}
	item.Status = StatusPending
	if err := o.store.CreateWorkItem(ctx, item); err != nil {
		return "", fmt.Errorf("submit work item: %w", err)
	}
	o.tele.ItemsSubmitted.Inc()
	o.logger.Printf("submitted work item %s topic=%q due=%s", item.ID, item.Topic, item.DueAt.Format(time.RFC3339))
	return item.ID, nil
}

// Status returns the latest persisted view of a work item.
func (o *Orchestrator) Status(ctx context.Context, id string) (WorkItem, error) {
	return o.store.GetWorkItem(ctx, id)
}

// Cancel requests cancellation of an in-flight item. The current external
// call is allowed to complete; its result is discarded at the next barrier
// or retry checkpoint.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	cancel, ok := o.inflight[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Retry resets a terminally failed item back to Pending with an incremented
// attempt counter. This is the only allowed status regression.
func (o *Orchestrator) Retry(ctx context.Context, id string) error {
	item, err := o.store.GetWorkItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != StatusFailed {
		return fmt.Errorf("work item %s is %s, only failed items can be retried", id, item.Status)
	}
	return o.store.ResetForRetry(ctx, id)
}

// Process runs the full stage graph for one work item. It blocks until the
// item reaches a terminal state for this attempt.
func (o *Orchestrator) Process(parent context.Context, id string) error {
	if err := parent.Err(); err != nil {
		return err
	}
	item, err := o.store.GetWorkItem(parent, id)
	if err != nil {
		return fmt.Errorf("load work item: %w", err)
	}

	select {
	case o.semaphore <- struct{}{}:
		defer func() { <-o.semaphore }()
	case <-parent.Done():
		return parent.Err()
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	o.mu.Lock()
	o.inflight[item.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, item.ID)
		o.mu.Unlock()
	}()

	o.setStatus(ctx, &item, StatusResearching, "")

	// Fan-out: Research, Plan and Images are independent and run
	// concurrently. Each records its own StageResults; failures land in
	// errCh and are resolved at the merge barrier.
	var (
		resMu    sync.Mutex
		findings []research.Result
		plan     generator.Plan
		planErr  error
		images   []media.Asset
		video    *media.Asset
	)
	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(3)
	go func() {
		defer wg.Done()
		_, err := o.runStage(ctx, item.ID, StageResearch, retryAll, func(ctx context.Context, attempt int) (any, error) {
			res, err := o.research.Collect(ctx, research.Query{
				Topic:    item.Topic,
				Language: item.Language,
				Country:  item.Country,
			})
			if err != nil {
				return nil, err
			}
			resMu.Lock()
			findings = res
			resMu.Unlock()
			return res, nil
		})
		if err != nil {
			errCh <- fmt.Errorf("research: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		_, err := o.runStage(ctx, item.ID, StagePlan, planRetryable, func(ctx context.Context, attempt int) (any, error) {
			p, err := o.generator.GeneratePlan(ctx, item.Topic, item.Language, item.AvailableCategories)
			if err != nil {
				return nil, err
			}
			resMu.Lock()
			plan = p
			resMu.Unlock()
			return p, nil
		})
		if err != nil {
			resMu.Lock()
			planErr = err
			resMu.Unlock()
			errCh <- fmt.Errorf("plan: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		_, err := o.runStage(ctx, item.ID, StageImages, retryAll, func(ctx context.Context, attempt int) (any, error) {
			imgs, vid := o.media.CollectAssets(ctx, item.Topic)
			resMu.Lock()
			images, video = imgs, vid
			resMu.Unlock()
			return struct {
				Images []media.Asset `json:"images"`
				Video  *media.Asset  `json:"video,omitempty"`
			}{imgs, vid}, nil
		})
		if err != nil {
			errCh <- fmt.Errorf("images: %w", err)
		}
	}()
	wg.Wait()
	close(errCh)
	for err := range errCh {
		o.logger.Printf("work item %s stage failure: %v", item.ID, err)
	}

	// Merge barrier. Cancellation is honored here; a terminally failed Plan
	// aborts the item, while Research and Images degrade to empty.
	if err := ctx.Err(); err != nil {
		o.setStatus(context.WithoutCancel(ctx), &item, StatusCancelled, "cancelled")
		return err
	}
	if planErr != nil {
		if !errors.Is(planErr, generator.ErrInvalidPlan) {
			return o.fail(ctx, &item, fmt.Errorf("plan failed terminally: %w", planErr))
		}
		// Every attempt returned malformed structure; proceed degraded on a
		// minimal plan built from the bare topic.
		plan = generator.FallbackPlan(item.Topic, item.AvailableCategories)
		o.logger.Printf("work item %s: plan validation exhausted, continuing with fallback plan", item.ID)
	}
	if len(findings) == 0 {
		o.logger.Printf("work item %s drafting without research context", item.ID)
	}

	o.setStatus(ctx, &item, StatusDrafting, "")
	var draft generator.Draft
	_, err = o.runStage(ctx, item.ID, StageDraft, provider.Retryable, func(ctx context.Context, attempt int) (any, error) {
		d, err := o.generator.GenerateDraft(ctx, plan, findings, item.TargetWordCount)
		if err != nil {
			return nil, err
		}
		draft = d
		return d, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			o.setStatus(context.WithoutCancel(ctx), &item, StatusCancelled, "cancelled")
			return err
		}
		return o.fail(ctx, &item, fmt.Errorf("draft failed terminally: %w", err))
	}

	o.setStatus(ctx, &item, StatusMutating, "")
	var finalHTML string
	_, err = o.runStage(ctx, item.ID, StageMutate, retryAll, func(ctx context.Context, attempt int) (any, error) {
		finalHTML = o.mutator.Apply(draft.BodyHTML, mutatorImages(images), mutatorVideo(video, item.Topic), backlinkCandidates(findings))
		draft.WordCount = mutator.WordCount(finalHTML)
		return struct {
			WordCount   int `json:"word_count"`
			ReadingTime int `json:"reading_time_minutes"`
		}{draft.WordCount, ReadingTime(draft.WordCount)}, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			o.setStatus(context.WithoutCancel(ctx), &item, StatusCancelled, "cancelled")
			return err
		}
		return o.fail(ctx, &item, fmt.Errorf("mutate failed terminally: %w", err))
	}

	o.setStatus(ctx, &item, StatusReadyToPublish, "")
	var postID string
	_, err = o.runStage(ctx, item.ID, StagePublish, publish.Retryable, func(ctx context.Context, attempt int) (any, error) {
		if attempt > 1 {
			o.tele.PublishRetries.Inc()
		}
		env := publish.Envelope{
			Title:          draft.Title,
			Slug:           fmt.Sprintf("%s-%d", Slugify(draft.Title), item.CreatedAt.Unix()),
			HTML:           finalHTML,
			Category:       draft.Category,
			MetaDesc:       draft.MetaDescription,
			ScheduledAt:    item.DueAt,
			IdempotencyKey: IdempotencyKey(item.ID, attempt),
		}
		id, err := o.publisher.CreatePost(ctx, env)
		if err != nil {
			return nil, err
		}
		postID = id
		return struct {
			PostID string `json:"post_id"`
		}{id}, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			o.setStatus(context.WithoutCancel(ctx), &item, StatusCancelled, "cancelled")
			return err
		}
		return o.fail(ctx, &item, err)
	}

	if err := o.store.SetWorkItemPost(ctx, item.ID, postID); err != nil {
		o.logger.Printf("work item %s: recording post id failed: %v", item.ID, err)
	}
	o.setStatus(ctx, &item, StatusPublished, "")
	o.tele.ItemsPublished.Inc()
	o.logger.Printf("work item %s published as post %s", item.ID, postID)
	return nil
}

func retryAll(error) bool { return true }

// planRetryable retries transient transport failures and malformed plan
// payloads, so every rejected validation attempt lands as its own
// StageResult row.
func planRetryable(err error) bool {
	return provider.Retryable(err) || errors.Is(err, generator.ErrInvalidPlan)
}

// runStage wraps one stage in the retry policy: exponential backoff doubling
// from the configured base up to the ceiling, at most StageAttempts tries,
// one StageResult row per attempt. Cancellation is checked before every
// retry. A non-retryable error short-circuits.
func (o *Orchestrator) runStage(ctx context.Context, itemID, stage string, retryable func(error) bool, fn func(ctx context.Context, attempt int) (any, error)) (any, error) {
	attempts := o.cfg.StageAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 1 {
			if err := o.sleep(ctx, o.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		o.tele.StageAttempts.WithLabelValues(stage).Inc()
		start := time.Now()
		payload, err := fn(ctx, attempt)
		o.tele.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())

		res := StageResult{
			WorkItemID: itemID,
			Stage:      stage,
			Attempt:    attempt,
			CreatedAt:  time.Now().UTC(),
		}
		if err != nil {
			o.tele.StageFailures.WithLabelValues(stage).Inc()
			res.Error = err.Error()
			if serr := o.store.AppendStageResult(ctx, res); serr != nil {
				o.logger.Printf("recording stage result %s/%s#%d failed: %v", itemID, stage, attempt, serr)
			}
			lastErr = err
			if !retryable(err) {
				return nil, err
			}
			o.logger.Printf("work item %s stage %s attempt %d/%d failed: %v", itemID, stage, attempt, attempts, err)
			continue
		}

		if b, merr := json.Marshal(payload); merr == nil {
			res.Payload = b
		}
		res.Accepted = true
		if serr := o.store.AppendStageResult(ctx, res); serr != nil {
			o.logger.Printf("recording stage result %s/%s#%d failed: %v", itemID, stage, attempt, serr)
		}
		return payload, nil
	}
	return nil, fmt.Errorf("stage %s exhausted %d attempts: %w", stage, attempts, lastErr)
}

// backoff starts at the base on the first retry, doubles, and is capped at
// the ceiling.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.cfg.BackoffBase << (attempt - 2)
	if o.cfg.BackoffCeiling > 0 && d > o.cfg.BackoffCeiling {
		d = o.cfg.BackoffCeiling
	}
	return d
}

func (o *Orchestrator) setStatus(ctx context.Context, item *WorkItem, status Status, lastError string) {
	if !CanTransition(item.Status, status) {
		o.logger.Printf("work item %s: refusing status regression %s -> %s", item.ID, item.Status, status)
		return
	}
	if err := o.store.UpdateWorkItemStatus(ctx, item.ID, status, lastError); err != nil {
		o.logger.Printf("work item %s: status update to %s failed: %v", item.ID, status, err)
		return
	}
	item.Status = status
	item.LastError = lastError
}

func (o *Orchestrator) fail(ctx context.Context, item *WorkItem, cause error) error {
	o.setStatus(ctx, item, StatusFailed, cause.Error())
	o.tele.ItemsFailed.Inc()
	o.logger.Printf("work item %s failed: %v", item.ID, cause)
	return cause
}

func mutatorImages(assets []media.Asset) []mutator.Image {
	out := make([]mutator.Image, 0, len(assets))
	for _, a := range assets {
		if a.Kind == media.KindImage && a.Validated {
			out = append(out, mutator.Image{URL: a.URL, Alt: a.Title})
		}
	}
	return out
}

func mutatorVideo(asset *media.Asset, topic string) *mutator.Video {
	if asset == nil || !asset.Validated || asset.Kind != media.KindVideo {
		return nil
	}
	title := asset.Title
	if title == "" {
		title = topic
	}
	return &mutator.Video{URL: asset.URL, Title: title}
}

func backlinkCandidates(findings []research.Result) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.URL)
	}
	return out
}
