// Package orchestration coordinates the concurrent fetch of weather for a
// batch of cities and aggregates the per-city outcomes. It decouples the
// fetch pipeline from presentation via the ProgressReporter and
// ResultPresenter interfaces.
package orchestration
