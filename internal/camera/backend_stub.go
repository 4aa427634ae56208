//go:build !gocv

package camera

import (
	"errors"

	"go.uber.org/zap"
)

// newGoCVBackend returns an error when the binary was built without OpenCV.
func newGoCVBackend(cfg BackendConfig, logger *zap.Logger) (Backend, error) {
	return nil, errors.New("camera: gocv backend not compiled in, rebuild with -tags gocv")
}
