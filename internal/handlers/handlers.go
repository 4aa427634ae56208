package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/leaf-check/internal/apiclient"
	"github.com/example/leaf-check/internal/auth"
	"github.com/example/leaf-check/internal/camera"
	"github.com/example/leaf-check/internal/capture"
	"github.com/example/leaf-check/internal/imagesource"
	"github.com/example/leaf-check/internal/media"
	"github.com/example/leaf-check/internal/submission"
	"github.com/example/leaf-check/internal/workflow"
)

// MaxUploadSize bounds multipart uploads when no limit is configured.
const MaxUploadSize = 10 << 20

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Workflow is the predict workflow driven by the HTTP surface.
type Workflow interface {
	Snapshot() workflow.Snapshot
	Asset() *media.Asset
	Subscribe() (<-chan workflow.Snapshot, func())
	SelectFiles(files []imagesource.File) error
	OpenCamera(ctx context.Context, facing camera.Facing) error
	SwitchCamera(ctx context.Context) error
	Capture(ctx context.Context) error
	CloseCamera() error
	Submit() (<-chan struct{}, error)
	Reset() error
}

// Submissions exposes the submission log.
type Submissions interface {
	GetOutcome(ctx context.Context, submissionID string) (*submission.Outcome, error)
	GetMetricsSummary(ctx context.Context) (*submission.MetricsSummary, error)
	ListRecent(ctx context.Context, limit int) ([]*submission.Outcome, error)
}

// RemoteAPI is the part of the remote contract proxied for the session.
type RemoteAPI interface {
	Login(ctx context.Context, username, password string) (*apiclient.Token, error)
	Register(ctx context.Context, reg apiclient.Registration) (*apiclient.User, error)
	Me(ctx context.Context, token string) (*apiclient.User, error)
	Diseases(ctx context.Context, token string) ([]apiclient.Disease, error)
	History(ctx context.Context, token string) ([]apiclient.Prediction, error)
}

// Dependencies groups everything RegisterRoutes needs.
type Dependencies struct {
	Workflow       Workflow
	Submissions    Submissions
	API            RemoteAPI
	Tokens         *auth.TokenStore
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type handler struct {
	wf        Workflow
	subs      Submissions
	api       RemoteAPI
	tokens    *auth.TokenStore
	maxUpload int64
	logger    *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	h := &handler{
		wf:        deps.Workflow,
		subs:      deps.Submissions,
		api:       deps.API,
		tokens:    deps.Tokens,
		maxUpload: deps.MaxUploadBytes,
		logger:    deps.Logger.Named("http"),
	}
	if h.maxUpload <= 0 {
		h.maxUpload = MaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	wf := api.Group("/workflow")
	wf.GET("", h.getSnapshot)
	wf.GET("/asset", h.getAsset)
	wf.GET("/events", h.streamSnapshots)
	wf.POST("/files", h.selectFiles)
	wf.POST("/reset", h.reset)
	wf.POST("/camera/open", h.openCamera)
	wf.POST("/camera/switch", h.switchCamera)
	wf.POST("/camera/capture", h.capture)
	wf.POST("/camera/close", h.closeCamera)
	wf.POST("/submit", h.submit)

	session := api.Group("/session")
	session.GET("", h.getSession)
	session.POST("/login", h.login)
	session.POST("/register", h.register)
	session.POST("/token", h.installToken)
	session.POST("/logout", h.logout)
	session.GET("/me", auth.RequireSession(h.tokens), h.me)

	api.GET("/diseases", auth.RequireSession(h.tokens), h.diseases)
	api.GET("/history", auth.RequireSession(h.tokens), h.history)

	api.GET("/submissions", h.listOutcomes)
	api.GET("/submissions/metrics", h.metrics)
	api.GET("/submissions/:id", h.getOutcome)
}

func (h *handler) getOutcome(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "id is required"})
		return
	}

	outcome, err := h.subs.GetOutcome(c.Request.Context(), submissionID)
	if err != nil {
		if errors.Is(err, submission.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "submission not found"})
			return
		}
		h.logger.Error("failed to load submission outcome", zap.String("submission_id", submissionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to load submission"})
		return
	}

	c.JSON(http.StatusOK, renderOutcome(outcome))
}

func (h *handler) listOutcomes(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "limit must be between 1 and 100"})
			return
		}
		limit = parsed
	}

	outcomes, err := h.subs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list submissions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to list submissions"})
		return
	}

	views := make([]outcomeView, 0, len(outcomes))
	for _, outcome := range outcomes {
		views = append(views, renderOutcome(outcome))
	}
	c.JSON(http.StatusOK, gin.H{"submissions": views})
}

func (h *handler) metrics(c *gin.Context) {
	summary, err := h.subs.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to aggregate metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// workflowStatus maps a workflow error onto an HTTP status.
func workflowStatus(err error) int {
	switch {
	case errors.Is(err, imagesource.ErrNoFile),
		errors.Is(err, imagesource.ErrMultipleFiles),
		errors.Is(err, imagesource.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.Is(err, camera.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, workflow.ErrCameraNotOpen),
		errors.Is(err, camera.ErrSuperseded),
		errors.Is(err, camera.ErrDeviceBusy),
		errors.Is(err, capture.ErrNoFrame),
		errors.Is(err, submission.ErrAlreadyInFlight):
		return http.StatusConflict
	case errors.Is(err, camera.ErrUnsupported),
		errors.Is(err, camera.ErrNoDevice),
		errors.Is(err, camera.ErrClosed),
		errors.Is(err, workflow.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) workflowError(c *gin.Context, operation string, err error) {
	status := workflowStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("workflow operation failed", zap.String("operation", operation), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"detail":   workflow.ErrorMessage(err),
		"snapshot": renderSnapshot(h.wf.Snapshot()),
	})
}

// remoteError relays a remote API failure with the server's status and
// detail. Transport failures become 502.
func (h *handler) remoteError(c *gin.Context, operation string, err error) {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		if apiErr.IsServerError() {
			h.logger.Warn("remote server error", zap.String("operation", operation), zap.Int("status", apiErr.StatusCode), zap.Error(err))
		}
		c.JSON(status, gin.H{"detail": apiErr.Message})
		return
	}
	h.logger.Warn("remote call failed", zap.String("operation", operation), zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"detail": submission.MessageNetwork})
}
