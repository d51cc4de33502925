package app

import (
	"fmt"
	"time"
)

const progressInterval = 250 * time.Millisecond

// startProgress draws a live status line until the returned function is
// called. Without a terminal it does nothing.
func (o *Orchestrator) startProgress() func() {
	if o.progress == nil {
		return func() {}
	}

	start := time.Now()

	draw := func() {
		fmt.Fprintf(o.progress, "Scanning... files: %d, archives: %d, classes: %d, infected: %d, errors: %d (%s)\n",
			o.stats.Files(), o.stats.Archives(), o.stats.Classes(), o.stats.Infected(), o.stats.Errors(), FormatDuration(time.Since(start)))
		_ = o.progress.Flush()
	}

	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				draw()
			case <-done:
				draw()
				return
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}
