package format

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Progress tracks how many of a fixed number of items have completed and
// estimates the remaining time from the observed completion rate.
type Progress struct {
	mu        sync.Mutex
	total     int
	done      int
	failed    int
	startTime time.Time
	now       func() time.Time
}

// NewProgress creates a tracker for total items, starting the clock now.
func NewProgress(total int) *Progress {
	return &Progress{total: total, startTime: time.Now(), now: time.Now}
}

// Complete records one finished item.
func (p *Progress) Complete(failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done < p.total {
		p.done++
		if failed {
			p.failed++
		}
	}
}

// Counts returns completed, failed and total item counts.
func (p *Progress) Counts() (done, failed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.failed, p.total
}

// Fraction returns the completed share in [0, 1]. Zero items counts as done.
func (p *Progress) Fraction() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total == 0 {
		return 1
	}
	return float64(p.done) / float64(p.total)
}

// ETA extrapolates the remaining time. It is zero until the first item
// completes and after the last one.
func (p *Progress) ETA() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == 0 || p.done >= p.total {
		return 0
	}
	elapsed := p.now().Sub(p.startTime)
	perItem := elapsed / time.Duration(p.done)
	return perItem * time.Duration(p.total-p.done)
}

// FormatETA renders an ETA for display.
func FormatETA(eta time.Duration) string {
	if eta <= 0 {
		return "--"
	}
	if eta < time.Second {
		return "< 1s"
	}
	return eta.Round(time.Second).String()
}

// ProgressBar renders a fixed-width bar for a fraction in [0, 1].
func ProgressBar(fraction float64, width int) string {
	if fraction > 1.0 {
		fraction = 1.0
	}
	if fraction < 0.0 {
		fraction = 0.0
	}
	count := int(fraction * float64(width))
	var b strings.Builder
	b.Grow(width * 3)
	for i := 0; i < width; i++ {
		if i < count {
			b.WriteRune('█')
		} else {
			b.WriteRune('░')
		}
	}
	return b.String()
}

// FormatProgressLine renders "done/total [bar] ETA: x" for the spinner suffix.
func (p *Progress) FormatProgressLine(width int) string {
	done, failed, total := p.Counts()
	line := fmt.Sprintf(" %d/%d cities [%s] ETA: %s", done, total, ProgressBar(p.Fraction(), width), FormatETA(p.ETA()))
	if failed > 0 {
		line += fmt.Sprintf(" (%d failed)", failed)
	}
	return line
}
