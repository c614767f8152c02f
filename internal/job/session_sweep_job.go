package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/draftwire/draftwire/internal/session"
)

// SessionSweepJob prunes sessions whose last heartbeat is older than the
// sweep threshold. Clients that vanish without a leave message are removed
// here rather than on the read path.
type SessionSweepJob struct {
	registry *session.Registry
}

func NewSessionSweepJob(registry *session.Registry) *SessionSweepJob {
	return &SessionSweepJob{registry: registry}
}

func (j *SessionSweepJob) Name() string {
	return "session_sweep"
}

func (j *SessionSweepJob) Run(ctx context.Context) error {
	if j.registry == nil {
		return nil
	}
	removed, err := j.registry.Sweep(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		logutil.GetLogger(ctx).Info("swept stale sessions", zap.Int("removed", removed))
	}
	return nil
}
