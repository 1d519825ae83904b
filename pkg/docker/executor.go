package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultWorkingDir     = "/workspace"
	defaultMaxOutputBytes = 64 << 10
	sandboxPidsLimit      = int64(64)
	truncatedMarker       = "\n...[output truncated]"
)

var (
	sandboxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "exam",
		Subsystem: "sandbox",
		Name:      "run_duration_seconds",
		Help:      "Wall time of sandboxed coding answer runs.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"image"})

	sandboxOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exam",
		Subsystem: "sandbox",
		Name:      "runs_total",
		Help:      "Sandboxed runs by image and outcome (exited, timeout, error).",
	}, []string{"image", "outcome"})
)

// ErrTimedOut is returned alongside a result whose TimedOut flag is set.
var ErrTimedOut = errors.New("execution timed out")

// Executor runs exam code inside a sandboxed container.
type Executor interface {
	Run(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)
}

// ExecutionRequest describes one sandboxed run. Containers never get network access.
type ExecutionRequest struct {
	Image         string
	Cmd           []string
	Env           []string
	Timeout       time.Duration
	Workspace     string
	WorkingDir    string
	MemoryLimitMB int64
	CPUShares     int64
	// ReadOnlyFS mounts the image read-only; /tmp stays writable through a tmpfs.
	ReadOnlyFS bool
}

// ExecutionResult is what the sandbox produced. Stdout and Stderr are capped at MaxOutputBytes.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Config groups executor configuration values.
type Config struct {
	Host           string
	Timeout        time.Duration
	MemoryLimitMB  int64
	CPUShares      int64
	WorkingDir     string
	MaxOutputBytes int
	Logger         zerolog.Logger
}

// DockerExecutor implements Executor on a Docker daemon.
type DockerExecutor struct {
	client *client.Client
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewDockerExecutor connects to the daemon named by cfg.Host, or the environment default.
func NewDockerExecutor(cfg Config) (*DockerExecutor, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = defaultWorkingDir
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}

	return &DockerExecutor{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/exam-portal-api/pkg/docker"),
		logger: cfg.Logger.With().Str("component", "docker_executor").Logger(),
	}, nil
}

// Run starts a throwaway container, waits for it within the timeout and collects its output.
// The container is force-removed whatever the outcome.
func (e *DockerExecutor) Run(parent context.Context, req ExecutionRequest) (result ExecutionResult, err error) {
	if req.Image == "" {
		return ExecutionResult{}, errors.New("image is required")
	}

	ctx, span := e.tracer.Start(parent, "sandbox.run", trace.WithAttributes(
		attribute.String("sandbox.image", req.Image),
	))
	defer func() {
		outcome := "exited"
		switch {
		case result.TimedOut:
			outcome = "timeout"
		case err != nil:
			outcome = "error"
		}
		sandboxOutcomes.WithLabelValues(req.Image, outcome).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.Int("sandbox.exit_code", result.ExitCode))
		span.End()
	}()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	containerID, err := e.create(runCtx, req)
	if err != nil {
		return ExecutionResult{}, err
	}
	defer e.remove(containerID)

	start := time.Now()
	if err := e.client.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return ExecutionResult{}, fmt.Errorf("container start: %w", err)
	}

	result.ExitCode, err = e.await(runCtx, containerID)
	result.Duration = time.Since(start)
	sandboxDuration.WithLabelValues(req.Image).Observe(result.Duration.Seconds())

	if errors.Is(err, context.DeadlineExceeded) {
		result.TimedOut = true
		e.kill(containerID)
	} else if err != nil {
		return result, err
	}

	// Logs are read on the parent context so a timed out run still reports partial output.
	result.Stdout, result.Stderr = e.collect(ctx, containerID)

	if result.TimedOut {
		return result, fmt.Errorf("%w after %s", ErrTimedOut, timeout)
	}
	return result, nil
}

func (e *DockerExecutor) create(ctx context.Context, req ExecutionRequest) (string, error) {
	workdir := req.WorkingDir
	if workdir == "" {
		workdir = e.cfg.WorkingDir
	}

	resp, err := e.client.ContainerCreate(ctx, &container.Config{
		Image:           req.Image,
		Cmd:             req.Cmd,
		Env:             req.Env,
		WorkingDir:      workdir,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}, e.hostConfig(req, workdir), &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	for _, warning := range resp.Warnings {
		e.logger.Warn().Str("container_id", resp.ID).Msg(warning)
	}
	return resp.ID, nil
}

func (e *DockerExecutor) await(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := e.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return int(status.StatusCode), fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("container wait: %w", err)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (e *DockerExecutor) collect(ctx context.Context, containerID string) (string, string) {
	logs, err := e.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to fetch container logs")
		return "", ""
	}
	defer logs.Close()

	stdout, stderr, err := demultiplex(logs, e.cfg.MaxOutputBytes)
	if err != nil {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to read container logs")
	}
	return stdout, stderr
}

func (e *DockerExecutor) kill(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.client.ContainerKill(ctx, containerID, "KILL"); err != nil {
		e.logger.Warn().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
	}
}

func (e *DockerExecutor) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
	}
}

func (e *DockerExecutor) hostConfig(req ExecutionRequest, workdir string) *container.HostConfig {
	memoryMB := req.MemoryLimitMB
	if memoryMB <= 0 {
		memoryMB = e.cfg.MemoryLimitMB
	}
	cpuShares := req.CPUShares
	if cpuShares <= 0 {
		cpuShares = e.cfg.CPUShares
	}
	pids := sandboxPidsLimit

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:     memoryMB << 20,
			MemorySwap: memoryMB << 20,
			CPUShares:  cpuShares,
			PidsLimit:  &pids,
		},
		NetworkMode:    "none",
		ReadonlyRootfs: req.ReadOnlyFS,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
	}
	if req.ReadOnlyFS {
		hostCfg.Tmpfs = map[string]string{"/tmp": "rw,exec,size=64m"}
	}
	if req.Workspace != "" {
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: req.Workspace,
			Target: workdir,
		}}
	}
	return hostCfg
}

// demultiplex splits the docker log stream and caps each side at limit bytes.
func demultiplex(reader io.Reader, limit int) (string, string, error) {
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	_, err := stdcopy.StdCopy(stdout, stderr, reader)
	return stdout.String(), stderr.String(), err
}

type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

// Write never fails so stdcopy keeps draining the stream once the cap is hit.
func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + truncatedMarker
	}
	return b.buf.String()
}

// Close shuts down the executor's underlying client.
func (e *DockerExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
