package app

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsReset(t *testing.T) {
	var stats Stats

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			stats.IncFile()
			stats.IncArchive()
			stats.AddClasses(2)
			stats.IncInfected()
			stats.IncError()
			stats.IncImage()
			stats.IncRepository()
		}()
	}

	// readers run alongside reset
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = stats.Files() + stats.Classes() + stats.Errors()
		}
	}()

	wg.Wait()
	assert.EqualValues(t, 8, stats.Files())
	assert.EqualValues(t, 16, stats.Classes())

	stats.reset()
	<-done

	assert.Zero(t, stats.Files())
	assert.Zero(t, stats.Archives())
	assert.Zero(t, stats.Classes())
	assert.Zero(t, stats.Infected())
	assert.Zero(t, stats.Errors())
	assert.Zero(t, stats.Images())
	assert.Zero(t, stats.Repositories())

	stats.IncFile()
	assert.EqualValues(t, 1, stats.Files())
}
