//go:build !linux

package sandbox

import (
	"fmt"
	goruntime "runtime"

	"livecode-sandbox/internal/config"
	"livecode-sandbox/internal/runtime"
)

func newNativeBackend(_ *config.Config, _ *runtime.Registry) (Backend, error) {
	return nil, fmt.Errorf("%w: native backend requires linux, running on %s", ErrBackendUnavailable, goruntime.GOOS)
}
