package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/errdefs"
	"github.com/rs/zerolog/log"
)

const (
	containerPrefix = "sandbox-"

	teardownTimeout = 30 * time.Second
	stopGrace       = 5 * time.Second
)

// teardown stops a container's task if one is still running, then deletes
// the container and its snapshot. Missing objects are not an error.
func (r *Runner) teardown(ctx context.Context, c containerd.Container) error {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(r.client.WithNamespace(ctx), teardownTimeout)
	defer cancel()

	logger := log.With().Str("container_id", c.ID()).Logger()

	task, err := c.Task(ctx, nil)
	switch {
	case err == nil:
		stopTask(ctx, task)
		if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			logger.Warn().Err(err).Msg("task delete failed")
		}
	case !errdefs.IsNotFound(err):
		logger.Debug().Err(err).Msg("task lookup failed")
	}

	if err := c.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("deleting container %s: %w", c.ID(), err)
	}
	return nil
}

func stopTask(ctx context.Context, task containerd.Task) {
	status, err := task.Status(ctx)
	if err != nil || status.Status == containerd.Stopped {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	exitCh, err := task.Wait(waitCtx)
	if err != nil {
		return
	}
	_ = task.Kill(ctx, 9, containerd.WithKillAll)
	select {
	case <-exitCh:
	case <-waitCtx.Done():
		log.Warn().Str("task_id", task.ID()).Msg("task did not exit after SIGKILL")
	}
}

// ReapOrphans removes execution containers that are not owned by a live run
// of this process, typically leftovers of a crash. It returns how many
// containers were removed.
func (r *Runner) ReapOrphans(ctx context.Context) (int, error) {
	list, err := r.client.ExecutionContainers(ctx)
	if err != nil {
		return 0, err
	}

	var reaped int
	for _, c := range list {
		labels, err := c.Labels(r.client.WithNamespace(ctx))
		if err != nil {
			continue
		}
		execID := labels[labelExecID]
		if r.owns(execID) {
			continue
		}
		if err := r.teardown(ctx, c); err != nil {
			log.Error().Err(err).Str("exec_id", execID).Msg("orphan removal failed")
			continue
		}
		log.Warn().
			Str("exec_id", execID).
			Str("language", labels[labelLanguage]).
			Msg("removed orphaned execution container")
		reaped++
	}
	return reaped, nil
}

func (r *Runner) sweepLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.client.Healthy(ctx) {
				log.Warn().Msg("containerd unreachable, skipping orphan sweep")
				continue
			}
			if _, err := r.ReapOrphans(ctx); err != nil {
				log.Warn().Err(err).Msg("orphan sweep failed")
			}
		}
	}
}
