package ui

import "github.com/charmbracelet/lipgloss"

// Styles bundles the lipgloss styles derived from a theme.
type Styles struct {
	Header  lipgloss.Style
	City    lipgloss.Style
	Dim     lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Border  lipgloss.Style
}

// StylesFor builds the styles for t. The no-color theme yields unstyled text.
func StylesFor(t Theme) Styles {
	plain := lipgloss.NewStyle()
	if t.Name == NoColorTheme.Name {
		return Styles{
			Header:  plain,
			City:    plain,
			Dim:     plain,
			Success: plain,
			Warning: plain,
			Error:   plain,
			Border:  plain,
		}
	}
	return Styles{
		Header:  plain.Bold(true).Foreground(t.Accent),
		City:    plain.Foreground(t.Accent),
		Dim:     plain.Foreground(t.Dim),
		Success: plain.Foreground(t.Success),
		Warning: plain.Foreground(t.Warning),
		Error:   plain.Foreground(t.Error),
		Border:  plain.Foreground(t.Border),
	}
}

// CurrentStyles returns the styles for the active theme.
func CurrentStyles() Styles {
	return StylesFor(GetCurrentTheme())
}
