package workerpool_test

import (
	"sync/atomic"
	"testing"

	"github.com/vaultline/ingestcore/internal/workerpool"
)

func TestSubmitRunsEveryJob(t *testing.T) {
	p := workerpool.New(4)

	var count int64
	const n = 200
	for i := 0; i < n; i++ {
		p.Submit(func() { atomic.AddInt64(&count, 1) })
	}
	p.Stop()

	if count != n {
		t.Errorf("count: got %d, want %d", count, n)
	}
}

func TestStopWaitsForInFlightJobs(t *testing.T) {
	p := workerpool.New(2)

	var done int32
	for i := 0; i < 10; i++ {
		p.Submit(func() { atomic.AddInt32(&done, 1) })
	}
	p.Stop()

	if done != 10 {
		t.Errorf("done: got %d, want 10 after Stop returns", done)
	}
}
