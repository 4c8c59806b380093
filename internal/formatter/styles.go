package formatter

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/audioarchitect/internal/models"
)

// Palette holds the styles used by text renderings.
type Palette struct {
	Title lipgloss.Style
	OK    lipgloss.Style
	Err   lipgloss.Style
	Warn  lipgloss.Style
	Muted lipgloss.Style
}

// DefaultPalette is used by the Write* functions.
var DefaultPalette = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// NewPalette builds a palette from foreground colors.
func NewPalette(title, ok, err, warn, muted string) Palette {
	return Palette{
		Title: newStyle(title).Bold(true),
		OK:    newStyle(ok).Bold(true),
		Err:   newStyle(err).Bold(true),
		Warn:  newStyle(warn),
		Muted: newStyle(muted).Italic(true),
	}
}

func newStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

// Outcome renders an execution outcome with its color.
func (p Palette) Outcome(o models.Outcome) string {
	switch o {
	case models.FullyApplied:
		return p.OK.Render(string(o))
	case models.PartiallyApplied:
		return p.Warn.Render(string(o))
	case models.Stale:
		return p.Err.Render(string(o))
	default:
		return p.Muted.Render(string(o))
	}
}

// Status renders an op status with its color.
func (p Palette) Status(s models.OpStatus) string {
	switch s {
	case models.OpApplied:
		return p.OK.Render(string(s))
	case models.OpFailed:
		return p.Err.Render(string(s))
	default:
		return p.Muted.Render(string(s))
	}
}

// State renders a sync state with its color.
func (p Palette) State(s models.SyncState) string {
	switch s {
	case models.StateCommitted:
		return p.OK.Render(string(s))
	case models.StateFailed:
		return p.Err.Render(string(s))
	case models.StateConflictResolution:
		return p.Warn.Render(string(s))
	default:
		return string(s)
	}
}
