package tasks

import (
	"fmt"

	"github.com/desertthunder/audioarchitect/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or server layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	Capture Phase = iota
	Diffing
	Planning
	Resolving
	Executing
	Committing
)

func (p Phase) String() string {
	switch p {
	case Capture:
		return "capture"
	case Diffing:
		return "diff"
	case Planning:
		return "plan"
	case Resolving:
		return "resolve"
	case Executing:
		return "execute"
	case Committing:
		return "commit"
	default:
		return ""
	}
}

// sendProgress sends an update without blocking; a nil or full channel drops it.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func captureUpdate(step, total int, ref models.PlaylistRef) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Capture,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Capturing %s...", step, total, ref),
	}
}

func captureCompletedUpdate(step, total int, snap *models.Snapshot) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Capture,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s rev %d (%d tracks)", step, total, snap.Ref(), snap.Revision, len(snap.Tracks)),
		Data:    snap,
	}
}

func captureFailedUpdate(step, total int, ref models.PlaylistRef, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Capture,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, ref, err),
	}
}

func planUpdate(result *PlanResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Planning,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Planned %d op(s) over %d playlist(s)", len(result.Plan.Ops), len(result.Plan.Revisions)),
		Data:    result,
	}
}

func conflictUpdate(conflicts []models.Conflict) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Resolving,
		Step:    0,
		Total:   len(conflicts),
		Message: fmt.Sprintf("%d conflict(s) need a decision", len(conflicts)),
		Data:    conflicts,
	}
}

func opUpdate(step, total int, res models.OpResult) ProgressUpdate {
	mark := "✓"
	switch res.Status {
	case models.OpFailed:
		mark = "✗"
	case models.OpSkipped:
		mark = "-"
	}
	return ProgressUpdate{
		Phase:   Executing,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s", step, total, mark, res.Op),
		Data:    res,
	}
}

func commitUpdate(report *models.ExecutionReport) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Committing,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Execution finished: %s", report.Outcome),
		Data:    report,
	}
}
