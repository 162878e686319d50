package schedule

import (
	"context"
	"fmt"

	"github.com/reclamflow/feed/internal/feed"
	pkgerrors "github.com/reclamflow/feed/pkg/errors"
	"github.com/reclamflow/feed/pkg/logger"
)

const pollJobName = "endpoint-poll"

type poller interface {
	Poll(ctx context.Context) (feed.PollReport, error)
}

// NewPollJob wraps the feed's poll in a Job. Cycles that run before the
// session identity is known are skipped quietly.
func NewPollJob(target poller, logg *logger.Logger) (Job, error) {
	if target == nil {
		return nil, fmt.Errorf("poll target required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &pollJob{target: target, logg: logg}, nil
}

type pollJob struct {
	target poller
	logg   *logger.Logger
}

func (j *pollJob) Name() string { return pollJobName }

func (j *pollJob) Run(ctx context.Context) error {
	report, err := j.target.Poll(ctx)
	if pkgerrors.CodeOf(err) == pkgerrors.CodeStateConflict {
		j.logg.Debug(ctx, "feed not initialized; skipping poll")
		return nil
	}
	if err != nil {
		return err
	}
	if len(report.Created) > 0 || report.Skipped > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"created": len(report.Created),
			"skipped": report.Skipped,
			"failed":  len(report.Failed),
		}), "poll cycle finished")
	}
	return report.Err()
}
