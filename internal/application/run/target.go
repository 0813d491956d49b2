package run

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	sharedErrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

// TargetSpec describes the host a run is executed against.
type TargetSpec struct {
	Kind           target.Kind
	CommandTimeout time.Duration
	// SSH is used when Kind is target.KindRemote.
	SSH target.SSHConfig
}

// Dialer opens the target described by a spec.
type Dialer func(ctx context.Context, spec TargetSpec, logger *zap.Logger) (target.Target, error)

// Open is the default Dialer.
func Open(ctx context.Context, spec TargetSpec, logger *zap.Logger) (target.Target, error) {
	switch spec.Kind {
	case target.KindLocal, "":
		return target.NewLocal(spec.CommandTimeout, logger), nil
	case target.KindRemote:
		cfg := spec.SSH
		if cfg.CommandTimeout == 0 {
			cfg.CommandTimeout = spec.CommandTimeout
		}
		if cfg.Logger == nil {
			cfg.Logger = logger
		}
		return target.DialSSH(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unknown target kind %q", sharedErrors.ErrInvalidTargetSpec, spec.Kind)
	}
}
