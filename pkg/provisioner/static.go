package provisioner

import (
	"context"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
)

// Static is the backend for pools whose workers are provisioned out of
// band (VMs, bare metal). Workers register themselves; the control
// plane cannot create or destroy them.
type Static struct{}

// NewStatic creates a static backend.
func NewStatic() *Static { return &Static{} }

func (s *Static) Provision(ctx context.Context, spec WorkerSpec) (string, error) {
	return "", errdefs.New(errdefs.KindValidationFailed, "static pools cannot provision workers")
}

func (s *Static) Terminate(ctx context.Context, instanceID string) error {
	return errdefs.New(errdefs.KindValidationFailed, "static pools cannot terminate workers")
}

func (s *Static) List(ctx context.Context, poolID string) ([]Instance, error) {
	return nil, nil
}
