package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/seca-compliance/internal/check"
)

type progressPrinter struct {
	out      io.Writer
	total    int
	name     string
	mu       sync.Mutex
	counts   map[check.Status]int
	duration time.Duration
	last     string
	updates  chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func newProgressPrinter(out io.Writer, total int, name string) *progressPrinter {
	if total <= 0 {
		total = 1
	}
	return &progressPrinter{
		out:     out,
		total:   total,
		name:    name,
		counts:  make(map[check.Status]int),
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (p *progressPrinter) Start() {
	go p.loop()
}

// Observe counts one finished check. It has the runner.ResultFunc signature.
func (p *progressPrinter) Observe(res check.Result) {
	p.mu.Lock()
	p.counts[res.Status]++
	p.duration += res.Duration
	p.last = res.ID
	p.mu.Unlock()

	select {
	case p.updates <- struct{}{}:
	default:
	}
}

func (p *progressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		<-p.stopped
		fmt.Fprintf(p.out, "\r%s\r", strings.Repeat(" ", 100))
		fmt.Fprintln(p.out, p.line())
	})
}

func (p *progressPrinter) loop() {
	defer close(p.stopped)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.updates:
			p.print()
		case <-ticker.C:
			p.print()
		case <-p.done:
			return
		}
	}
}

func (p *progressPrinter) print() {
	fmt.Fprintf(p.out, "\r%s", p.line())
}

func (p *progressPrinter) line() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	completed := 0
	for _, n := range p.counts {
		completed += n
	}
	if completed > p.total {
		p.total = completed
	}

	percent := (float64(completed) / float64(p.total)) * 100
	avg := 0.0
	if completed > 0 {
		avg = p.duration.Seconds() / float64(completed)
	}

	return fmt.Sprintf("[%s] Progress: %d/%d (%.1f%%) Pass:%d Warn:%d Fail:%d Err:%d Skip:%d Avg:%.2fs",
		p.name, completed, p.total, percent,
		p.counts[check.StatusPassed], p.counts[check.StatusWarning], p.counts[check.StatusFailed],
		p.counts[check.StatusError], p.counts[check.StatusSkipped], avg)
}
