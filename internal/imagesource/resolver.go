// Package imagesource reconciles the two ways of supplying an image, a
// picked or dropped file and a camera capture, into a single media asset.
package imagesource

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/example/leaf-check/internal/media"
)

var (
	ErrNoFile          = errors.New("no file selected")
	ErrMultipleFiles   = errors.New("only one image can be submitted at a time")
	ErrUnsupportedType = errors.New("unsupported image type, use JPEG or PNG")
)

// AcceptedExtensions lists the file extensions accepted by FromFiles.
var AcceptedExtensions = []string{".jpeg", ".jpg", ".png"}

var acceptedMIMETypes = []string{"image/jpeg", "image/png"}

// ValidationError reports why a file selection was rejected.
type ValidationError struct {
	Kind  error
	File  string
	Count int
	Err   error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Err != nil && e.File != "":
		return fmt.Sprintf("%v (%s): %v", e.Kind, e.File, e.Err)
	case e.File != "":
		return fmt.Sprintf("%v (%s)", e.Kind, e.File)
	case e.Count > 1:
		return fmt.Sprintf("%v (got %d)", e.Kind, e.Count)
	default:
		return e.Kind.Error()
	}
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// File is one user supplied file.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Resolver validates image sources.
type Resolver struct {
	logger *zap.Logger
}

func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger.Named("image_source")}
}

// FromFiles accepts exactly one JPEG or PNG file. Selections with more than
// one file are rejected as a whole, never truncated.
func (r *Resolver) FromFiles(files []File) (*media.Asset, error) {
	switch len(files) {
	case 0:
		return nil, &ValidationError{Kind: ErrNoFile}
	case 1:
	default:
		r.logger.Info("rejected multi-file selection", zap.Int("count", len(files)))
		return nil, &ValidationError{Kind: ErrMultipleFiles, Count: len(files)}
	}

	file := files[0]
	if !hasAcceptedExtension(file.Name) {
		return nil, &ValidationError{Kind: ErrUnsupportedType, File: file.Name}
	}
	if ct := strings.TrimSpace(file.ContentType); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "image/") {
		return nil, &ValidationError{
			Kind: ErrUnsupportedType,
			File: file.Name,
			Err:  fmt.Errorf("declared content type %q", ct),
		}
	}

	detected := mimetype.Detect(file.Data)
	if !isAcceptedMIME(detected) {
		return nil, &ValidationError{
			Kind: ErrUnsupportedType,
			File: file.Name,
			Err:  fmt.Errorf("detected content type %q", detected.String()),
		}
	}

	asset := media.NewAsset(file.Data, baseMIME(detected.String()), media.OriginUpload, filepath.Base(file.Name))
	r.logger.Debug("file accepted",
		zap.String("name", asset.Name()),
		zap.String("mime_type", asset.MIMEType()),
		zap.Int("size", asset.Size()),
	)
	return asset, nil
}

// FromCapture passes a camera capture through tagged with the camera origin.
func (r *Resolver) FromCapture(asset *media.Asset) (*media.Asset, error) {
	if asset == nil || asset.Size() == 0 {
		return nil, &ValidationError{Kind: ErrNoFile}
	}
	return asset.WithOrigin(media.OriginCamera), nil
}

func hasAcceptedExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, accepted := range AcceptedExtensions {
		if ext == accepted {
			return true
		}
	}
	return false
}

func isAcceptedMIME(detected *mimetype.MIME) bool {
	for _, accepted := range acceptedMIMETypes {
		if detected.Is(accepted) {
			return true
		}
	}
	return false
}

func baseMIME(s string) string {
	if idx := strings.IndexByte(s, ';'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}
