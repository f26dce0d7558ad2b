// Package leader elects a single scheduler among replicas. The batch
// scheduler only ticks on the leader so one bucket run happens per
// interval regardless of replica count.
package leader

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Elector emits leadership transitions for a single process identity.
type Elector interface {
	Run(ctx context.Context, emit func(isLeader bool)) error
}

// Runner adapts an Elector into role and error channels.
type Runner struct {
	elector Elector
	logger  *zap.Logger
}

// NewRunner creates a leader-election runner.
func NewRunner(elector Elector, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{elector: elector, logger: logger}
}

// Start begins election observation and returns role and error channels.
// Duplicate consecutive roles are suppressed; both channels close when
// the elector stops.
func (r *Runner) Start(ctx context.Context) (<-chan bool, <-chan error) {
	roles := make(chan bool, 8)
	errs := make(chan error, 1)

	elector := r.elector
	if elector == nil {
		elector = StaticElector{IsLeader: true}
	}

	go func() {
		defer close(roles)
		defer close(errs)

		haveLast := false
		lastRole := false
		emit := func(isLeader bool) {
			if haveLast && lastRole == isLeader {
				return
			}
			haveLast = true
			lastRole = isLeader
			r.logger.Info("leadership transition", zap.Bool("is_leader", isLeader))
			select {
			case roles <- isLeader:
			case <-ctx.Done():
			}
		}

		err := elector.Run(ctx, emit)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		select {
		case errs <- err:
		default:
		}
	}()

	return roles, errs
}

// StaticElector emits a fixed role and then waits for cancellation.
// Single-replica deployments use it to skip the lock entirely.
type StaticElector struct {
	IsLeader bool
}

// Run emits the configured static role until context cancellation.
func (e StaticElector) Run(ctx context.Context, emit func(isLeader bool)) error {
	emit(e.IsLeader)
	<-ctx.Done()
	return nil
}
