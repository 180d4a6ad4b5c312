package model

import (
	"fmt"

	"github.com/plantguard/edge/internal/config"
	"github.com/plantguard/edge/internal/logger"
)

// NewLoader opens the runtime selected by cfg.Runtime.
func NewLoader(cfg config.ModelsConfig, log *logger.Logger) (Loader, error) {
	switch cfg.Runtime {
	case "onnx":
		return NewONNXLoader(ONNXConfig{
			SharedLibraryPath: cfg.SharedLibraryPath,
			IntraOpThreads:    cfg.IntraOpThreads,
		}, log)
	case "http":
		return NewHTTPLoader(HTTPConfig{
			ServiceURL: cfg.ServiceURL,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown model runtime %q", cfg.Runtime)
	}
}
