package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"
	"github.com/rs/zerolog/log"
)

// Labels stamped on every execution container. The reaper selects on
// labelRole rather than on the container name.
const (
	labelRole     = "livecode.sandbox/role"
	labelExecID   = "livecode.sandbox/exec-id"
	labelLanguage = "livecode.sandbox/language"

	roleExecution = "execution"
)

var executionFilter = fmt.Sprintf("labels.%q==%s", labelRole, roleExecution)

// Client is a namespaced containerd connection shared by a Runner.
type Client struct {
	inner     *containerd.Client
	namespace string

	mu     sync.RWMutex
	closed bool
}

func NewClient(ctx context.Context, socket, namespace string) (*Client, error) {
	inner, err := containerd.New(socket,
		containerd.WithDefaultNamespace(namespace),
		containerd.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to containerd at %s: %w", socket, err)
	}
	v, err := inner.Version(ctx)
	if err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("containerd version check: %w", err)
	}

	log.Info().
		Str("socket", socket).
		Str("namespace", namespace).
		Str("version", v.Version).
		Msg("connected to containerd")

	return &Client{inner: inner, namespace: namespace}, nil
}

func (c *Client) Raw() *containerd.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inner
}

func (c *Client) WithNamespace(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, c.namespace)
}

func (c *Client) Healthy(ctx context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	_, err := c.inner.Version(ctx)
	return err == nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.inner.Close()
}

// Image returns a local image, pulling and unpacking it on first use.
func (c *Client) Image(ctx context.Context, ref string) (containerd.Image, error) {
	ctx = c.WithNamespace(ctx)
	client := c.Raw()

	if image, err := client.GetImage(ctx, ref); err == nil {
		return image, nil
	}

	start := time.Now()
	image, err := client.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("pulling image %s: %w", ref, err)
	}
	log.Info().Str("ref", ref).Dur("took", time.Since(start)).Msg("image pulled")
	return image, nil
}

// ExecutionContainers lists the containers this service created for runs,
// finished or not.
func (c *Client) ExecutionContainers(ctx context.Context) ([]containerd.Container, error) {
	list, err := c.Raw().Containers(c.WithNamespace(ctx), executionFilter)
	if err != nil {
		return nil, fmt.Errorf("listing execution containers: %w", err)
	}
	return list, nil
}

func executionLabels(p *prepared) map[string]string {
	return map[string]string{
		labelRole:     roleExecution,
		labelExecID:   p.ExecID,
		labelLanguage: string(p.lang.Language),
	}
}
