// Package cli renders batch progress and results for the terminal: a spinner
// while cities are being fetched, then a table or JSON report, optionally
// saved to a file.
package cli
