package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/leaf-check/internal/camera"
	"github.com/example/leaf-check/internal/imagesource"
)

type openCameraRequest struct {
	Facing string `json:"facing"`
}

func (h *handler) getSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, renderSnapshot(h.wf.Snapshot()))
}

// getAsset serves the image currently held for preview.
func (h *handler) getAsset(c *gin.Context) {
	asset := h.wf.Asset()
	if asset == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "no image selected"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, asset.MIMEType(), asset.Bytes())
}

// streamSnapshots pushes every workflow snapshot as a server-sent event until
// the client goes away or the workflow closes.
func (h *handler) streamSnapshots(c *gin.Context) {
	updates, unsubscribe := h.wf.Subscribe()
	defer unsubscribe()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case snap, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", renderSnapshot(snap))
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (h *handler) selectFiles(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "image is too large"})
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid multipart form"})
			return
		}
	}

	var headers []*multipart.FileHeader
	if form != nil {
		headers = form.File["file"]
	}
	files := make([]imagesource.File, 0, len(headers))
	for _, header := range headers {
		file, err := readPart(header)
		if err != nil {
			h.logger.Warn("failed to read uploaded file", zap.String("file", header.Filename), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"detail": "unable to read uploaded file"})
			return
		}
		files = append(files, file)
	}

	if err := h.wf.SelectFiles(files); err != nil {
		h.workflowError(c, "select_files", err)
		return
	}
	c.JSON(http.StatusOK, renderSnapshot(h.wf.Snapshot()))
}

func readPart(header *multipart.FileHeader) (imagesource.File, error) {
	src, err := header.Open()
	if err != nil {
		return imagesource.File{}, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return imagesource.File{}, err
	}
	return imagesource.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (h *handler) reset(c *gin.Context) {
	if err := h.wf.Reset(); err != nil {
		h.workflowError(c, "reset", err)
		return
	}
	c.JSON(http.StatusOK, renderSnapshot(h.wf.Snapshot()))
}

func (h *handler) openCamera(c *gin.Context) {
	var req openCameraRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
			return
		}
	}
	facing, err := camera.ParseFacing(req.Facing)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "facing must be user or environment"})
		return
	}

	if err := h.wf.OpenCamera(c.Request.Context(), facing); err != nil {
		h.workflowError(c, "open_camera", err)
		return
	}
	c.JSON(http.StatusOK, renderSnapshot(h.wf.Snapshot()))
}

func (h *handler) switchCamera(c *gin.Context) {
	if err := h.wf.SwitchCamera(c.Request.Context()); err != nil {
		h.workflowError(c, "switch_camera", err)
		return
	}
	c.JSON(http.StatusOK, renderSnapshot(h.wf.Snapshot()))
}

func (h *handler) capture(c *gin.Context) {
	if err := h.wf.Capture(c.Request.Context()); err != nil {
		h.workflowError(c, "capture", err)
		return
	}
	c.JSON(http.StatusOK, renderSnapshot(h.wf.Snapshot()))
}

func (h *handler) closeCamera(c *gin.Context) {
	if err := h.wf.CloseCamera(); err != nil {
		h.workflowError(c, "close_camera", err)
		return
	}
	c.JSON(http.StatusOK, renderSnapshot(h.wf.Snapshot()))
}

// submit starts a submission and answers 202 right away. With ?wait=true it
// answers once the submission has finished.
func (h *handler) submit(c *gin.Context) {
	done, err := h.wf.Submit()
	if err != nil {
		h.workflowError(c, "submit", err)
		return
	}
	if done == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail":   "Please select an image first.",
			"snapshot": renderSnapshot(h.wf.Snapshot()),
		})
		return
	}

	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, renderSnapshot(h.wf.Snapshot()))
		return
	}
	select {
	case <-done:
		c.JSON(http.StatusOK, renderSnapshot(h.wf.Snapshot()))
	case <-c.Request.Context().Done():
		c.Status(http.StatusRequestTimeout)
	}
}
