package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme of status output.
type Theme struct {
	OK   lipgloss.Color
	Warn lipgloss.Color
	Err  lipgloss.Color
	Dim  lipgloss.Color
}

// DefaultTheme is the default bright theme.
var DefaultTheme = Theme{
	OK:   lipgloss.Color("#00ff9f"),
	Warn: lipgloss.Color("#ffb86c"),
	Err:  lipgloss.Color("#ff5555"),
	Dim:  lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	OK   lipgloss.Style
	Warn lipgloss.Style
	Err  lipgloss.Style
	Dim  lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		OK:   lipgloss.NewStyle().Bold(true).Foreground(t.OK),
		Warn: lipgloss.NewStyle().Bold(true).Foreground(t.Warn),
		Err:  lipgloss.NewStyle().Bold(true).Foreground(t.Err),
		Dim:  lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// Status renders a one-line summary of a finished request:
//
//	200 OK  GET https://example.com/  1.23 KB in 85ms
func (s Styles) Status(method, url string, code int, size int64, elapsed time.Duration) string {
	style := s.OK
	switch {
	case code >= 500:
		style = s.Err
	case code >= 400:
		style = s.Warn
	}
	return fmt.Sprintf("%s  %s %s  %s",
		style.Render(fmt.Sprintf("%d %s", code, http.StatusText(code))),
		method, url,
		s.Dim.Render(FormatBytes(size)+" in "+FormatDuration(elapsed)),
	)
}

// Error renders an error line.
func (s Styles) Error(err error) string {
	return s.Err.Render("error:") + " " + err.Error()
}
