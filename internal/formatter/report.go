package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
)

func trackLine(t models.Track) string {
	return fmt.Sprintf("%s - %s [%s]", t.Artist, t.Title, shared.FormatDuration(t.DurationMS))
}

// WriteDiff renders d as JSON or text.
func WriteDiff(w io.Writer, d models.DiffResult, f Format) error {
	if f == JSON {
		return writeJSON(w, d)
	}

	p := DefaultPalette
	pw := &printer{w: w}
	if d.IsEmpty() {
		pw.printf("%s\n", p.Muted.Render("No changes"))
		return pw.err
	}
	pw.printf("%s\n", p.Title.Render(fmt.Sprintf("+%d -%d ~%d", len(d.Added), len(d.Removed), len(d.Reordered))))
	for _, t := range d.Added {
		pw.printf("%s %s\n", p.OK.Render("+"), trackLine(t))
	}
	for _, t := range d.Removed {
		pw.printf("%s %s\n", p.Err.Render("-"), trackLine(t))
	}
	for _, m := range d.Reordered {
		pw.printf("%s %s (%d → %d)\n", p.Warn.Render("~"), trackLine(m.Track), m.OldIndex+1, m.NewIndex+1)
	}
	return pw.err
}

// WriteDuplicates renders the duplicate groups found in snap.
func WriteDuplicates(w io.Writer, snap models.Snapshot, groups []models.DuplicateGroup, f Format) error {
	if f == JSON {
		return writeJSON(w, struct {
			SnapshotID string                  `json:"snapshot_id"`
			Groups     []models.DuplicateGroup `json:"groups"`
		}{snap.ID, groups})
	}

	p := DefaultPalette
	pw := &printer{w: w}
	pw.printf("%s\n", p.Title.Render(fmt.Sprintf("%s: %d duplicate group(s)", name(snap), len(groups))))
	for i, g := range groups {
		kind := "similar"
		if g.Exact {
			kind = "exact"
		}
		pw.printf("\nGroup %d (%s)\n", i+1, kind)
		for j, m := range g.Members {
			marker := " "
			if j == g.Canonical {
				marker = p.OK.Render("*")
			}
			pw.printf("  %s #%d %s\n", marker, m.Index+1, trackLine(m.Track))
		}
		for _, s := range g.Scores {
			pw.printf("    %s\n", p.Muted.Render(fmt.Sprintf("#%d ~ #%d: %.2f", g.Members[s.A].Index+1, g.Members[s.B].Index+1, s.Score)))
		}
	}
	return pw.err
}

// WritePlan renders plan grouped by playlist.
func WritePlan(w io.Writer, plan models.MutationPlan, f Format) error {
	if f == JSON {
		return writeJSON(w, plan)
	}

	p := DefaultPalette
	pw := &printer{w: w}
	pw.printf("%s\n", p.Title.Render(fmt.Sprintf("Plan %s: %d op(s)", plan.ID, len(plan.Ops))))
	for _, ref := range plan.Targets() {
		pw.printf("\n%s (revision %d)\n", ref, plan.Revisions[ref.String()])
		for _, op := range plan.Ops {
			if op.Ref() != ref {
				continue
			}
			pw.printf("  %s\n", opLine(op))
		}
	}
	return pw.err
}

func opLine(op models.MutationOp) string {
	switch {
	case op.Kind == models.OpMove && op.From != nil && op.Position != nil:
		return fmt.Sprintf("move   %s %d → %d", trackLine(op.Track), *op.From+1, *op.Position+1)
	case op.Kind == models.OpAdd && op.Position != nil:
		return fmt.Sprintf("add    %s at %d", trackLine(op.Track), *op.Position+1)
	default:
		return fmt.Sprintf("%-6s %s", op.Kind, trackLine(op.Track))
	}
}

// WriteReport renders an execution report with per-op detail for anything not applied.
func WriteReport(w io.Writer, report models.ExecutionReport, f Format) error {
	if f == JSON {
		return writeJSON(w, report)
	}

	p := DefaultPalette
	pw := &printer{w: w}
	counts := report.Counts()
	pw.printf("Outcome: %s (%d applied, %d skipped, %d failed)\n", p.Outcome(report.Outcome),
		counts[models.OpApplied], counts[models.OpSkipped], counts[models.OpFailed])
	for _, res := range report.Results {
		if res.Status == models.OpApplied {
			continue
		}
		line := fmt.Sprintf("  %s %s", p.Status(res.Status), opLine(res.Op))
		if res.Error != "" {
			line += " " + p.Muted.Render(fmt.Sprintf("(%d attempt(s): %s)", res.Attempts, res.Error))
		}
		pw.printf("%s\n", line)
	}
	return pw.err
}

// WriteStatus renders a sync session.
func WriteStatus(w io.Writer, status models.SessionStatus, f Format) error {
	if f == JSON {
		return writeJSON(w, status)
	}

	p := DefaultPalette
	pw := &printer{w: w}
	pw.printf("Session %s (group %s, %s): %s\n", status.ID, status.GroupID, status.Policy, p.State(status.State))
	if status.Cancelled {
		pw.printf("%s\n", p.Muted.Render("cancelled"))
	}
	if status.Error != "" {
		pw.printf("%s %s\n", p.Err.Render("error:"), status.Error)
	}
	for _, d := range status.Diffs {
		pw.printf("  %s: +%d -%d ~%d\n", d.Ref, len(d.Diff.Added), len(d.Diff.Removed), len(d.Diff.Reordered))
	}
	for _, c := range status.Conflicts {
		state := p.Warn.Render("pending")
		if c.Resolved {
			state = "drop"
			if c.Keep {
				state = "keep"
			}
		}
		pw.printf("  conflict %s %s: added on %s, removed on %s [%s]\n",
			c.Fingerprint[:min(8, len(c.Fingerprint))], trackLine(c.Track), joinPlatforms(c.AddedOn), joinPlatforms(c.RemovedOn), state)
	}
	return pw.err
}

func joinPlatforms(ps []models.Platform) string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return strings.Join(out, ",")
}
