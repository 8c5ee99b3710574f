// Package ui provides the color themes and lipgloss styles used by the
// terminal presenters. It keeps color decisions, including NO_COLOR handling,
// out of the packages that render results.
package ui
