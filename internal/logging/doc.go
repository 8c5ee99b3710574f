// Package logging provides the Logger used across cityweather and its
// zerolog implementation. Text output uses the layout
// "<timestamp> - <name> - <LEVEL> - <message>"; JSON output carries the
// logger name as a component field. Lines can be copied to extra writers,
// such as a log file.
package logging
