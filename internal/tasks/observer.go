package tasks

import (
	"time"

	"github.com/desertthunder/audioarchitect/internal/models"
)

// Observer receives lifecycle events for instrumentation. Implementations must be safe for
// concurrent use.
type Observer interface {
	SessionTransition(groupID string, from, to models.SyncState)
	OpCompleted(platform models.Platform, kind models.OpKind, status models.OpStatus, attempts int)
	PlanExecuted(outcome models.Outcome, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) SessionTransition(string, models.SyncState, models.SyncState)     {}
func (nopObserver) OpCompleted(models.Platform, models.OpKind, models.OpStatus, int) {}
func (nopObserver) PlanExecuted(models.Outcome, time.Duration)                       {}
