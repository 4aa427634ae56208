package submission

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/leaf-check/internal/apiclient"
	"github.com/example/leaf-check/internal/classifier"
	"github.com/example/leaf-check/internal/media"
	"github.com/example/leaf-check/internal/repository"
)

type stubRepository struct {
	mu        sync.Mutex
	savedLogs []*repository.SubmissionLog
	saveErr   error
	findLog   *repository.SubmissionLog
	findErr   error
	findCalls int
	agg       *repository.MetricsAggregation
	recent    []*repository.SubmissionLog
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.SubmissionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindBySubmissionID(ctx context.Context, submissionID string) (*repository.SubmissionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	return s.agg, nil
}

func (s *stubRepository) Recent(ctx context.Context, limit int) ([]*repository.SubmissionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && len(s.recent) > limit {
		return s.recent[:limit], nil
	}
	return s.recent, nil
}

func (s *stubRepository) logs() []*repository.SubmissionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*repository.SubmissionLog(nil), s.savedLogs...)
}

type stubCache struct {
	mu        sync.Mutex
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []interface{}
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setKeys = append(s.setKeys, key)
	s.setValues = append(s.setValues, value)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubClient struct {
	result *classifier.Result
	err    error
	calls  int
	tokens []string
	block  chan struct{}
}

func (s *stubClient) Predict(ctx context.Context, asset *media.Asset, token string) (*classifier.Result, error) {
	s.calls++
	s.tokens = append(s.tokens, token)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func testAsset() *media.Asset {
	return media.NewAsset([]byte("png-bytes"), "image/png", media.OriginUpload, "leaf.png")
}

func blight() *classifier.Result {
	return &classifier.Result{
		DiseaseName:              "Tomato___Late_blight",
		Confidence:               0.87,
		Description:              "Late blight",
		TreatmentRecommendations: []string{"Apply copper fungicide"},
		PreventiveMeasures:       []string{"Avoid overhead watering"},
	}
}

func TestSubmitSuccess(t *testing.T) {
	cache := &stubCache{}
	repo := &stubRepository{}
	client := &stubClient{result: blight()}
	ctrl := NewController(client, repo, cache, zap.NewNop())

	id, result, err := ctrl.Submit(context.Background(), testAsset(), "tok")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if id == "" {
		t.Fatal("expected submission id")
	}
	if result.DiseaseName != "Tomato___Late_blight" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if client.tokens[0] != "tok" {
		t.Fatalf("expected token to be forwarded, got %q", client.tokens[0])
	}
	if ctrl.InFlight() {
		t.Fatal("expected slot to be released")
	}

	logs := repo.logs()
	if len(logs) != 1 || logs[0].Outcome != repository.OutcomeSuccess || logs[0].SubmissionID != id {
		t.Fatalf("unexpected logs: %+v", logs)
	}
	if logs[0].SHA1Hash == "" || logs[0].FileName != "leaf.png" {
		t.Fatalf("expected asset metadata in log: %+v", logs[0])
	}

	if len(cache.setKeys) != 2 || cache.setKeys[0] != "submission:"+id || cache.setValues[0] != StatusProcessing {
		t.Fatalf("expected processing flag then outcome, got %v %v", cache.setKeys, cache.setValues)
	}
	var cached Outcome
	if err := json.Unmarshal([]byte(cache.setValues[1].(string)), &cached); err != nil {
		t.Fatalf("expected JSON outcome: %v", err)
	}
	if cached.Status != repository.OutcomeSuccess || cached.Result == nil || cached.Result.Confidence != 0.87 {
		t.Fatalf("unexpected cached outcome: %+v", cached)
	}
}

func TestSubmitWithoutTokenSkipsNetwork(t *testing.T) {
	repo := &stubRepository{}
	client := &stubClient{result: blight()}
	ctrl := NewController(client, repo, &stubCache{}, zap.NewNop())

	_, _, err := ctrl.Submit(context.Background(), testAsset(), "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("expected no network call, got %d", client.calls)
	}
	if logs := repo.logs(); len(logs) != 1 || logs[0].Outcome != repository.OutcomeUnauthorized {
		t.Fatalf("expected unauthorized log, got %+v", logs)
	}
}

func TestSubmitClassifiesErrors(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		kind        error
		status      int
		message     string
		wantOutcome string
	}{
		{
			name:        "unauthorized",
			err:         &apiclient.APIError{StatusCode: 401, Message: "Could not validate credentials"},
			kind:        ErrUnauthorized,
			status:      401,
			message:     MessageSessionExpired,
			wantOutcome: repository.OutcomeUnauthorized,
		},
		{
			name:        "server error",
			err:         &apiclient.APIError{StatusCode: 500, Message: "Model not loaded"},
			kind:        ErrServerError,
			status:      500,
			message:     "Model not loaded",
			wantOutcome: repository.OutcomeServerError,
		},
		{
			name:        "bad request",
			err:         &apiclient.APIError{StatusCode: 400, Message: "File must be an image"},
			kind:        ErrServerError,
			status:      400,
			message:     "File must be an image",
			wantOutcome: repository.OutcomeServerError,
		},
		{
			name:        "network",
			err:         &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			kind:        ErrNetworkFailure,
			message:     MessageNetwork,
			wantOutcome: repository.OutcomeNetworkFailure,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubRepository{}
			client := &stubClient{err: tc.err}
			ctrl := NewController(client, repo, &stubCache{}, zap.NewNop())

			_, _, err := ctrl.Submit(context.Background(), testAsset(), "tok")
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			var subErr *Error
			if !errors.As(err, &subErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if subErr.StatusCode != tc.status || subErr.Message != tc.message {
				t.Fatalf("unexpected error fields: %+v", subErr)
			}
			if client.calls != 1 {
				t.Fatalf("expected exactly one attempt, got %d", client.calls)
			}
			if logs := repo.logs(); len(logs) != 1 || logs[0].Outcome != tc.wantOutcome {
				t.Fatalf("unexpected logs: %+v", logs)
			}
			if ctrl.InFlight() {
				t.Fatal("expected slot to be released after failure")
			}
		})
	}
}

func TestAcquireRejectsSecondSubmission(t *testing.T) {
	client := &stubClient{result: blight(), block: make(chan struct{})}
	ctrl := NewController(client, &stubRepository{}, &stubCache{}, zap.NewNop())

	slot, err := ctrl.Acquire()
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := slot.Submit(context.Background(), testAsset(), "tok")
		done <- err
	}()

	if _, _, err := ctrl.Submit(context.Background(), testAsset(), "tok"); !errors.Is(err, ErrAlreadyInFlight) {
		t.Fatalf("expected ErrAlreadyInFlight, got %v", err)
	}
	if !ctrl.InFlight() {
		t.Fatal("expected slot to be held")
	}

	close(client.block)
	if err := <-done; err != nil {
		t.Fatalf("expected first submission to succeed, got %v", err)
	}
	if ctrl.InFlight() {
		t.Fatal("expected slot to be released")
	}
	if _, err := ctrl.Acquire(); err != nil {
		t.Fatalf("expected slot to be free again, got %v", err)
	}
}

func TestSlotReleaseIsIdempotent(t *testing.T) {
	ctrl := NewController(&stubClient{}, &stubRepository{}, &stubCache{}, zap.NewNop())

	first, err := ctrl.Acquire()
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	first.Release()
	second, err := ctrl.Acquire()
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	first.Release()
	if !ctrl.InFlight() {
		t.Fatal("stale slot must not release a newer holder")
	}
	second.Release()
}

func TestSubmitCancelledContext(t *testing.T) {
	client := &stubClient{result: blight(), block: make(chan struct{})}
	repo := &stubRepository{}
	ctrl := NewController(client, repo, &stubCache{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := ctrl.Submit(ctx, testAsset(), "tok")
		done <- err
	}()
	for !ctrl.InFlight() {
		time.Sleep(time.Millisecond)
	}
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
	if len(repo.logs()) != 1 {
		t.Fatal("expected cancelled attempt to be logged")
	}
}

func TestSubmitSurvivesCacheAndLogFailures(t *testing.T) {
	cache := &stubCache{setErrs: []error{errors.New("boom"), errors.New("boom")}}
	repo := &stubRepository{saveErr: errors.New("disk full")}
	ctrl := NewController(&stubClient{result: blight()}, repo, cache, zap.NewNop())

	_, result, err := ctrl.Submit(context.Background(), testAsset(), "tok")
	if err != nil {
		t.Fatalf("expected infrastructure failures to be tolerated, got %v", err)
	}
	if result == nil {
		t.Fatal("expected result")
	}
}

func TestSubmitRetriesTransientCacheErrors(t *testing.T) {
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	ctrl := NewController(&stubClient{result: blight()}, &stubRepository{}, cache, zap.NewNop())

	if _, _, err := ctrl.Submit(context.Background(), testAsset(), "tok"); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) != 3 {
		t.Fatalf("expected retry plus outcome write, got %d sets", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}
}

func TestGetOutcomeFromCache(t *testing.T) {
	payload, _ := json.Marshal(Outcome{SubmissionID: "sub-1", Status: repository.OutcomeSuccess, Result: blight()})
	cache := &stubCache{getValues: []string{string(payload)}}
	repo := &stubRepository{}
	ctrl := NewController(&stubClient{}, repo, cache, zap.NewNop())

	outcome, err := ctrl.GetOutcome(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("expected outcome, got error: %v", err)
	}
	if outcome.Result == nil || outcome.Result.DiseaseName != "Tomato___Late_blight" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if repo.findCalls != 0 {
		t.Fatal("expected repository not to be queried")
	}
}

func TestGetOutcomeProcessing(t *testing.T) {
	cache := &stubCache{getValues: []string{StatusProcessing}}
	ctrl := NewController(&stubClient{}, &stubRepository{}, cache, zap.NewNop())

	outcome, err := ctrl.GetOutcome(context.Background(), "sub-2")
	if err != nil {
		t.Fatalf("expected outcome, got error: %v", err)
	}
	if outcome.Status != StatusProcessing {
		t.Fatalf("expected processing status, got %q", outcome.Status)
	}
}

func TestGetOutcomeFallsBackToRepositoryWhenCacheMiss(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	repo := &stubRepository{findLog: &repository.SubmissionLog{
		SubmissionID: "sub-3",
		Outcome:      repository.OutcomeSuccess,
		DiseaseName:  "Potato___healthy",
		Confidence:   0.95,
	}}
	ctrl := NewController(&stubClient{}, repo, cache, zap.NewNop())

	outcome, err := ctrl.GetOutcome(context.Background(), "sub-3")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if outcome.Result == nil || outcome.Result.DiseaseName != "Potato___healthy" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository to be queried once, got %d", repo.findCalls)
	}
}

func TestGetOutcomeNotFound(t *testing.T) {
	ctrl := NewController(&stubClient{}, &stubRepository{}, NopCache{}, zap.NewNop())

	if _, err := ctrl.GetOutcome(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetMetricsSummary(t *testing.T) {
	repo := &stubRepository{agg: &repository.MetricsAggregation{
		TotalCount:        4,
		SuccessCount:      3,
		AverageConfidence: 0.9,
		AverageLatencyMs:  120,
	}}
	ctrl := NewController(&stubClient{}, repo, NopCache{}, zap.NewNop())

	summary, err := ctrl.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("expected summary, got error: %v", err)
	}
	if summary.SuccessRate != 0.75 || summary.TotalSubmissions != 4 || summary.AverageConfidence != 0.9 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestListRecent(t *testing.T) {
	repo := &stubRepository{recent: []*repository.SubmissionLog{
		{SubmissionID: "b", Outcome: repository.OutcomeSuccess, DiseaseName: "Tomato___Early_blight", Confidence: 0.87},
		{SubmissionID: "a", Outcome: repository.OutcomeServerError, StatusCode: 500, Message: "boom"},
	}}
	ctrl := NewController(&stubClient{}, repo, NopCache{}, zap.NewNop())

	outcomes, err := ctrl.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("expected outcomes, got error: %v", err)
	}
	if len(outcomes) != 2 || outcomes[0].SubmissionID != "b" {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
	if outcomes[0].Result == nil || outcomes[0].Result.Confidence != 0.87 {
		t.Fatalf("expected result on successful outcome, got %+v", outcomes[0].Result)
	}
	if outcomes[1].Result != nil || outcomes[1].StatusCode != 500 {
		t.Fatalf("unexpected failed outcome: %+v", outcomes[1])
	}
}
