package provisioner

import (
	"context"
	"fmt"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"github.com/Rubentxu/hodei-pipelines/pkg/log"
)

const (
	labelWorkerID = "io.hodei.worker-id"
	labelPoolID   = "io.hodei.pool-id"

	defaultAgentImage = "hodei/agent:latest"
)

// Docker provisions workers as containers on the local Docker daemon.
type Docker struct {
	cli *client.Client
}

// NewDocker connects to the daemon from the environment.
func NewDocker() (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Docker{cli: cli}, nil
}

func (d *Docker) Provision(ctx context.Context, spec WorkerSpec) (string, error) {
	image := spec.Image
	if image == "" {
		image = defaultAgentImage
	}

	labels := map[string]string{
		labelWorkerID: spec.WorkerID,
		labelPoolID:   spec.PoolID,
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	hostConfig := &containertypes.HostConfig{}
	if spec.Resources.CPUCores > 0 {
		hostConfig.NanoCPUs = int64(spec.Resources.CPUCores * 1e9)
	}
	if spec.Resources.MemoryMB > 0 {
		hostConfig.Memory = spec.Resources.MemoryMB * 1024 * 1024
	}

	resp, err := d.cli.ContainerCreate(ctx, &containertypes.Config{
		Image:  image,
		Env:    agentEnv(spec),
		Labels: labels,
	}, hostConfig, nil, nil, "hodei-worker-"+spec.WorkerID)
	if err != nil {
		return "", fmt.Errorf("failed to create worker container: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, containertypes.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start worker container: %w", err)
	}

	logger := log.WithComponent("provisioner")
	logger.Info().
		Str("worker_id", spec.WorkerID).
		Str("container_id", resp.ID[:12]).
		Msg("worker container started")
	return resp.ID, nil
}

func (d *Docker) Terminate(ctx context.Context, instanceID string) error {
	timeout := 10
	if err := d.cli.ContainerStop(ctx, instanceID, containertypes.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop worker container: %w", err)
	}
	if err := d.cli.ContainerRemove(ctx, instanceID, containertypes.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove worker container: %w", err)
	}
	return nil
}

func (d *Docker) List(ctx context.Context, poolID string) ([]Instance, error) {
	containers, err := d.cli.ContainerList(ctx, containertypes.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelPoolID+"="+poolID)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list worker containers: %w", err)
	}

	out := make([]Instance, 0, len(containers))
	for _, c := range containers {
		out = append(out, Instance{
			ID:       c.ID,
			WorkerID: c.Labels[labelWorkerID],
			Running:  c.State == "running",
		})
	}
	return out, nil
}
