package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Prepare pulls every language image the backend will need, at most
// concurrency at a time. Backends without images are a no-op. Failures are
// joined so a single missing image does not hide the others.
func Prepare(ctx context.Context, backend Backend, images []string, concurrency int) error {
	puller, ok := backend.(ImagePuller)
	if !ok || len(images) == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	start := time.Now()
	errs := make([]error, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, ref := range images {
		g.Go(func() error {
			if err := puller.PullImage(gctx, ref); err != nil {
				log.Warn().Err(err).Str("image", ref).Msg("image prepare failed")
				errs[i] = fmt.Errorf("%s: %w", ref, err)
			}
			// Keep pulling the rest; errors are reported together.
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}

	log.Info().
		Str("backend", backend.Name()).
		Int("images", len(images)).
		Dur("duration", time.Since(start)).
		Msg("language images ready")
	return nil
}
