// Package submission sends an image asset to the remote classifier, allowing
// at most one request in flight, and records every attempt.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/leaf-check/internal/apiclient"
	"github.com/example/leaf-check/internal/classifier"
	"github.com/example/leaf-check/internal/logging"
	"github.com/example/leaf-check/internal/media"
	"github.com/example/leaf-check/internal/repository"
	"github.com/example/leaf-check/internal/retry"
)

// StatusProcessing is the cached marker of a submission awaiting its result.
const StatusProcessing = "processing"

const (
	processingTTL = time.Minute
	outcomeTTL    = 5 * time.Minute
)

// Repository defines the persistence operations needed by the controller.
type Repository interface {
	SaveLog(ctx context.Context, log *repository.SubmissionLog) error
	FindBySubmissionID(ctx context.Context, submissionID string) (*repository.SubmissionLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
	Recent(ctx context.Context, limit int) ([]*repository.SubmissionLog, error)
}

// Outcome is the externally visible record of a submission.
type Outcome struct {
	SubmissionID string             `json:"submission_id"`
	Status       string             `json:"status"`
	Origin       string             `json:"origin,omitempty"`
	FileName     string             `json:"file_name,omitempty"`
	SHA1         string             `json:"sha1,omitempty"`
	Result       *classifier.Result `json:"result,omitempty"`
	Message      string             `json:"message,omitempty"`
	StatusCode   int                `json:"status_code,omitempty"`
	LatencyMs    int64              `json:"latency_ms,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Controller owns the single submission slot.
type Controller struct {
	client   classifier.Client
	repo     Repository
	cache    Cache
	logger   *zap.Logger
	policy   retry.Policy
	inFlight atomic.Bool
	now      func() time.Time
}

// NewController constructs a new controller instance.
func NewController(client classifier.Client, repo Repository, cache Cache, logger *zap.Logger) *Controller {
	return &Controller{
		client: client,
		repo:   repo,
		cache:  cache,
		logger: logger.Named("submission_controller"),
		policy: retry.DefaultPolicy(),
		now:    time.Now,
	}
}

// Slot is the right to run one submission. It is released by Submit or
// Release, whichever comes first.
type Slot struct {
	c    *Controller
	id   string
	once sync.Once
}

// Acquire claims the submission slot or fails with ErrAlreadyInFlight.
func (c *Controller) Acquire() (*Slot, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, &Error{Kind: ErrAlreadyInFlight, Message: MessageInFlight}
	}
	return &Slot{c: c, id: uuid.NewString()}, nil
}

// InFlight reports whether the slot is held.
func (c *Controller) InFlight() bool {
	return c.inFlight.Load()
}

// ID is the submission ID assigned to this slot.
func (s *Slot) ID() string { return s.id }

// Release frees the slot without submitting.
func (s *Slot) Release() {
	s.once.Do(func() { s.c.inFlight.Store(false) })
}

// Submit acquires the slot and runs one submission.
func (c *Controller) Submit(ctx context.Context, asset *media.Asset, token string) (string, *classifier.Result, error) {
	slot, err := c.Acquire()
	if err != nil {
		return "", nil, err
	}
	result, err := slot.Submit(ctx, asset, token)
	return slot.ID(), result, err
}

// Submit sends asset to the classifier and releases the slot when done. The
// prediction call is never retried. Cache and log failures are logged and do
// not fail the submission.
func (s *Slot) Submit(ctx context.Context, asset *media.Asset, token string) (*classifier.Result, error) {
	defer s.Release()
	c := s.c

	start := c.now()
	opLogger := logging.WithOperation(c.logger, "submission.submit", s.id)
	cacheKey := cacheKeyFor(s.id)

	if asset == nil {
		return nil, fmt.Errorf("submission: no image to submit")
	}

	log := &repository.SubmissionLog{
		SubmissionID: s.id,
		Origin:       string(asset.Origin()),
		FileName:     asset.Name(),
		MIMEType:     asset.MIMEType(),
		SizeBytes:    asset.Size(),
		SHA1Hash:     asset.SHA1(),
		CreatedAt:    start.UTC(),
	}

	if token == "" {
		subErr := &Error{Kind: ErrUnauthorized, Message: MessageLoginRequired}
		c.record(ctx, opLogger, log, nil, subErr, start)
		opLogger.Info("submission rejected without token")
		return nil, subErr
	}

	if err := c.withCacheRetry(ctx, s.id, "cache.set.processing", func() error {
		return c.cache.Set(ctx, cacheKey, StatusProcessing, processingTTL)
	}); err != nil {
		opLogger.Warn("failed to set processing flag", zap.Error(err))
	}

	result, err := c.client.Predict(ctx, asset, token)
	if err != nil {
		subErr := classify(err)
		c.record(ctx, opLogger, log, nil, subErr, start)
		opLogger.Warn("prediction failed", zap.Error(subErr))
		return nil, subErr
	}

	c.record(ctx, opLogger, log, result, nil, start)
	opLogger.Info("prediction succeeded",
		zap.String("disease", result.DiseaseName),
		zap.Float64("confidence", result.Confidence),
	)
	return result, nil
}

// record persists the attempt and caches its outcome. Both are best effort.
func (c *Controller) record(ctx context.Context, opLogger *zap.Logger, log *repository.SubmissionLog, result *classifier.Result, subErr *Error, start time.Time) {
	// Persist even if the caller's context was cancelled mid-request.
	ctx = context.WithoutCancel(ctx)

	log.LatencyMs = c.now().Sub(start).Milliseconds()
	if result != nil {
		log.Outcome = repository.OutcomeSuccess
		log.DiseaseName = result.DiseaseName
		log.Confidence = result.Confidence
	} else if subErr != nil {
		log.Outcome = outcomeFor(subErr.Kind)
		log.Message = subErr.Message
		log.StatusCode = subErr.StatusCode
	}

	if err := c.repo.SaveLog(ctx, log); err != nil {
		opLogger.Error("failed to persist submission log", zap.Error(err))
	}

	outcome := outcomeFromLog(log)
	outcome.Result = result
	serialized, err := json.Marshal(outcome)
	if err != nil {
		opLogger.Error("failed to serialize submission outcome", zap.Error(err))
		return
	}
	if err := c.withCacheRetry(ctx, log.SubmissionID, "cache.set.outcome", func() error {
		return c.cache.Set(ctx, cacheKeyFor(log.SubmissionID), string(serialized), outcomeTTL)
	}); err != nil {
		opLogger.Warn("failed to cache submission outcome", zap.Error(err))
	}
}

// GetOutcome retrieves a cached outcome or loads it from the submission log.
func (c *Controller) GetOutcome(ctx context.Context, submissionID string) (*Outcome, error) {
	cacheKey := cacheKeyFor(submissionID)
	if cached, err := c.withCacheGet(ctx, submissionID, "cache.get.outcome", cacheKey); err == nil {
		if cached == StatusProcessing {
			return &Outcome{SubmissionID: submissionID, Status: StatusProcessing}, nil
		}
		var outcome Outcome
		if err := json.Unmarshal([]byte(cached), &outcome); err != nil {
			logging.WithOperation(c.logger, "submission.get_outcome", submissionID).Warn("failed to decode cached outcome", zap.Error(err))
		} else {
			return &outcome, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(c.logger, "submission.get_outcome", submissionID).Warn("failed to read cache", zap.Error(err))
	}

	log, err := c.repo.FindBySubmissionID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, submissionID)
		}
		return nil, err
	}
	return outcomeFromLog(log), nil
}

// ListRecent returns the newest logged outcomes first.
func (c *Controller) ListRecent(ctx context.Context, limit int) ([]*Outcome, error) {
	logs, err := c.repo.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	outcomes := make([]*Outcome, 0, len(logs))
	for _, log := range logs {
		outcomes = append(outcomes, outcomeFromLog(log))
	}
	return outcomes, nil
}

func (c *Controller) withCacheRetry(ctx context.Context, submissionID, operation string, fn func() error) error {
	opLogger := logging.WithOperation(c.logger, operation, submissionID)
	err := retry.Do(ctx, c.policy, fn, func(attempt int, err error) {
		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt))
	})
	return logging.NewOperationError(operation, submissionID, err)
}

func (c *Controller) withCacheGet(ctx context.Context, submissionID, operation, cacheKey string) (string, error) {
	var result string
	err := c.withCacheRetry(ctx, submissionID, operation, func() error {
		value, err := c.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// classify maps a classifier error onto the submission error kinds.
func classify(err error) *Error {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsUnauthorized() {
			message := MessageSessionExpired
			if apiErr.StatusCode == 403 && apiErr.Message != "" {
				message = apiErr.Message
			}
			return &Error{Kind: ErrUnauthorized, Message: message, StatusCode: apiErr.StatusCode, Err: err}
		}
		message := apiErr.Message
		if message == "" {
			message = MessageGeneric
		}
		return &Error{Kind: ErrServerError, Message: message, StatusCode: apiErr.StatusCode, Err: err}
	}
	return &Error{Kind: ErrNetworkFailure, Message: MessageNetwork, Err: err}
}

func outcomeFor(kind error) string {
	switch kind {
	case ErrUnauthorized:
		return repository.OutcomeUnauthorized
	case ErrServerError:
		return repository.OutcomeServerError
	default:
		return repository.OutcomeNetworkFailure
	}
}

func outcomeFromLog(log *repository.SubmissionLog) *Outcome {
	outcome := &Outcome{
		SubmissionID: log.SubmissionID,
		Status:       log.Outcome,
		Origin:       log.Origin,
		FileName:     log.FileName,
		SHA1:         log.SHA1Hash,
		Message:      log.Message,
		StatusCode:   log.StatusCode,
		LatencyMs:    log.LatencyMs,
		CreatedAt:    log.CreatedAt,
	}
	if log.Outcome == repository.OutcomeSuccess {
		outcome.Result = &classifier.Result{DiseaseName: log.DiseaseName, Confidence: log.Confidence}
	}
	return outcome
}

func cacheKeyFor(submissionID string) string {
	return fmt.Sprintf("submission:%s", submissionID)
}
