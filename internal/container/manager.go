// Package container runs one headless Chrome container per registration
// attempt so that no browser state is shared between attempts.
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

const (
	// DefaultImage exposes the DevTools protocol on devtoolsPort.
	DefaultImage   = "chromedp/headless-shell:latest"
	DefaultNetwork = "formrelay-browsers"

	devtoolsPort    = 9222
	stopTimeoutSecs = 5

	// Resource limits.
	memoryLimitBytes = 1024 * 1024 * 1024 // 1GB
	cpuQuota         = 100000             // 1 CPU
	pidsLimit        = 512
	shmSizeBytes     = 256 * 1024 * 1024

	browserSubnet = "172.29.0.0/16"

	createRetryAttempts = 20
	createRetryDelay    = 250 * time.Millisecond

	// LabelAttempt marks containers owned by the relay.
	LabelAttempt = "formrelay.attempt"
	LabelCreated = "formrelay.created"
)

// Browser is a running Chrome container bound to one attempt.
type Browser struct {
	ID        string
	AttemptID string
	// Addr is host:port of the DevTools endpoint.
	Addr    string
	Created time.Time
}

// Manager defines the interface for browser container lifecycle operations.
type Manager interface {
	EnsureNetwork(ctx context.Context) (string, error)
	StartBrowser(ctx context.Context, attemptID string) (Browser, error)
	StopContainer(ctx context.Context, containerID string) error
	ListBrowsers(ctx context.Context) ([]Browser, error)
}

// Options configures a DockerManager.
type Options struct {
	Image   string
	Network string
	// Runtime selects an alternative OCI runtime such as runsc.
	Runtime string
}

// DockerManager implements Manager using the Docker SDK.
type DockerManager struct {
	cli  *client.Client
	opts Options
}

// NewDockerManager creates a new Docker-backed browser manager.
func NewDockerManager(opts Options) (*DockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if opts.Network == "" {
		opts.Network = DefaultNetwork
	}
	runtime := opts.Runtime
	if runtime == "" {
		runtime = "default"
	}
	slog.Info("Docker client initialized", "runtime", runtime, "image", opts.Image)
	return &DockerManager{cli: cli, opts: opts}, nil
}

func containerName(attemptID string) string {
	return "formrelay-browser-" + attemptID
}

// StartBrowser creates and starts a fresh Chrome container for attemptID.
func (m *DockerManager) StartBrowser(ctx context.Context, attemptID string) (Browser, error) {
	name := containerName(attemptID)
	created := time.Now()

	config := &container.Config{
		Image: m.opts.Image,
		Labels: map[string]string{
			LabelAttempt: attemptID,
			LabelCreated: strconv.FormatInt(created.Unix(), 10),
		},
	}

	hostConfig := &container.HostConfig{
		Runtime:     m.opts.Runtime,
		NetworkMode: container.NetworkMode(m.opts.Network),
		ShmSize:     shmSizeBytes,
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = m.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
		if createErr == nil {
			break
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return Browser{}, fmt.Errorf("create browser container: %w", createErr)
		}

		// A retried attempt id can collide with a container still being removed.
		slog.Warn("Browser container name conflict, retrying",
			"attempt_id", attemptID,
			"container_name", name,
			"try", i+1,
			"error", createErr,
		)
		if inspect, inspectErr := m.cli.ContainerInspect(ctx, name); inspectErr == nil {
			if stopErr := m.StopContainer(ctx, inspect.ID); stopErr != nil {
				slog.Warn("Failed to stop conflicting container before retry", "container_id", inspect.ID, "error", stopErr)
			}
		}

		select {
		case <-ctx.Done():
			return Browser{}, ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return Browser{}, fmt.Errorf("create browser container after retries: %w", createErr)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		m.removeQuietly(resp.ID)
		return Browser{}, fmt.Errorf("start browser container %s: %w", resp.ID, err)
	}

	inspect, err := m.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		m.removeQuietly(resp.ID)
		return Browser{}, fmt.Errorf("inspect browser container %s: %w", resp.ID, err)
	}
	var ip string
	if inspect.NetworkSettings != nil {
		if ep, ok := inspect.NetworkSettings.Networks[m.opts.Network]; ok && ep != nil {
			ip = ep.IPAddress
		}
	}
	if ip == "" {
		m.removeQuietly(resp.ID)
		return Browser{}, fmt.Errorf("browser container %s has no address on %s", resp.ID, m.opts.Network)
	}

	b := Browser{
		ID:        resp.ID,
		AttemptID: attemptID,
		Addr:      fmt.Sprintf("%s:%d", ip, devtoolsPort),
		Created:   created,
	}
	slog.Info("Browser container started", "container_id", b.ID, "attempt_id", attemptID, "addr", b.Addr)
	return b, nil
}

func (m *DockerManager) removeQuietly(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("Failed to remove browser container", "container_id", containerID, "error", err)
	}
}

// StopContainer stops and removes a container.
// It is idempotent and handles concurrent calls gracefully.
func (m *DockerManager) StopContainer(ctx context.Context, containerID string) error {
	timeout := stopTimeoutSecs
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Container already removed", "container_id", containerID)
			return nil
		}
		slog.Debug("Container stop returned error, continuing to remove", "container_id", containerID, "error", err)
	}

	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		if strings.Contains(err.Error(), "is already in progress") {
			slog.Debug("Container removal already in progress", "container_id", containerID)
			return nil
		}
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}

	slog.Info("Browser container removed", "container_id", containerID)
	return nil
}

// ListBrowsers returns every container carrying the attempt label, running
// or not.
func (m *DockerManager) ListBrowsers(ctx context.Context) ([]Browser, error) {
	list, err := m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelAttempt)),
	})
	if err != nil {
		return nil, fmt.Errorf("list browser containers: %w", err)
	}

	out := make([]Browser, 0, len(list))
	for _, c := range list {
		b := Browser{
			ID:        c.ID,
			AttemptID: c.Labels[LabelAttempt],
			Created:   time.Unix(c.Created, 0),
		}
		if ts, err := strconv.ParseInt(c.Labels[LabelCreated], 10, 64); err == nil {
			b.Created = time.Unix(ts, 0)
		}
		out = append(out, b)
	}
	return out, nil
}

// EnsureNetwork creates the browser bridge network if it doesn't exist.
func (m *DockerManager) EnsureNetwork(ctx context.Context) (string, error) {
	networks, err := m.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list networks: %w", err)
	}

	for _, nw := range networks {
		if nw.Name == m.opts.Network {
			slog.Info("Browser network already exists", "network_id", nw.ID)
			return nw.ID, nil
		}
	}

	createResp, err := m.cli.NetworkCreate(ctx, m.opts.Network, network.CreateOptions{
		Driver: "bridge",
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: browserSubnet}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create network %s: %w", m.opts.Network, err)
	}

	slog.Info("Browser network created", "network_id", createResp.ID, "subnet", browserSubnet)
	return createResp.ID, nil
}

// Close releases the Docker client.
func (m *DockerManager) Close() error {
	return m.cli.Close()
}

func ptr[T any](v T) *T {
	return &v
}
