package bisect

import (
	"context"
	"log"
)

// WorkerPool runs N workers that each loop on
// Store.RecvCrossCheckReportRequest and drive one request to
// completion at a time (spec.md §4.F Dispatch). Distinct workers may
// run distinct requests concurrently; a crash mid-request loses that
// request, which the core documents as at-most-once delivery.
type WorkerPool struct {
	Coordinator *Coordinator
	Workers     int
}

// Start launches the configured number of workers, each running until
// ctx is cancelled.
func (p *WorkerPool) Start(ctx context.Context) {
	n := p.Workers
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go p.runLoop(ctx, i)
	}
}

func (p *WorkerPool) runLoop(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		req, err := p.Coordinator.Store.RecvCrossCheckReportRequest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[bisect worker %d] recv failed: %v", id, err)
			continue
		}

		log.Printf("[bisect worker %d] running request uuid=%s", id, req.UUID)
		runs, err := p.Coordinator.RunRequest(ctx, req.Request)
		if err != nil {
			log.Printf("[bisect worker %d] request uuid=%s failed: %v", id, req.UUID, err)
			continue
		}
		for _, run := range runs {
			log.Printf("[bisect worker %d] run %s status=%s", id, run.ID, run.Status)
		}
	}
}
