package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"medcoder/internal/config"
	"medcoder/internal/port"
)

// Dispatcher fans document processing out to a fixed pool of workers over a
// buffered channel. Delivery is at-least-once: a recovery sweep re-enqueues
// pending documents at startup and on an interval, and the repository's
// status guard keeps a re-delivered document from being processed twice.
type Dispatcher struct {
	svc     DocumentService
	docRepo port.DocumentRepository
	cfg     *config.WorkerConfig

	jobs chan uuid.UUID
	wg   sync.WaitGroup

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

// NewDispatcher creates a dispatcher. Start must be called before Enqueue
// delivers anything.
func NewDispatcher(svc DocumentService, docRepo port.DocumentRepository, cfg *config.WorkerConfig) *Dispatcher {
	return &Dispatcher{
		svc:      svc,
		docRepo:  docRepo,
		cfg:      cfg,
		jobs:     make(chan uuid.UUID, cfg.QueueSize),
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// Start launches the worker pool and the recovery sweeper. It returns
// immediately; workers drain until ctx is cancelled. Callers wait for
// shutdown with Wait.
func (d *Dispatcher) Start(ctx context.Context) {
	log.Printf("dispatcher: starting %d workers (queue size %d)", d.cfg.Concurrency, d.cfg.QueueSize)

	for i := 0; i < d.cfg.Concurrency; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	d.wg.Add(1)
	go d.recoveryLoop(ctx)
}

// Wait blocks until all workers and the sweeper have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Enqueue submits a document for processing. It never blocks: when the
// queue is full the job is dropped and left for the recovery sweep, which
// picks every pending document back up.
func (d *Dispatcher) Enqueue(docID uuid.UUID) bool {
	select {
	case d.jobs <- docID:
		return true
	default:
		log.Printf("dispatcher: queue full, leaving document %s for recovery sweep", docID)
		return false
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			log.Printf("dispatcher: worker %d stopping", id)
			return
		case docID := <-d.jobs:
			d.process(docID)
		}
	}
}

func (d *Dispatcher) process(docID uuid.UUID) {
	if !d.claim(docID) {
		// Already being processed on another worker; the sweep will bring
		// it back if that execution dies with the document still pending.
		return
	}
	defer d.release(docID)

	// Each execution gets its own deadline independent of the pool's
	// lifecycle context, so an in-flight document finishes its terminal
	// write even during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(d.cfg.ProcessTimeoutSecs)*time.Second)
	defer cancel()

	d.svc.Process(ctx, docID)
}

func (d *Dispatcher) claim(docID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[docID]; busy {
		return false
	}
	d.inflight[docID] = struct{}{}
	return true
}

func (d *Dispatcher) release(docID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, docID)
}

func (d *Dispatcher) recoveryLoop(ctx context.Context) {
	defer d.wg.Done()

	// Immediate sweep first: anything accepted before the last shutdown is
	// still pending in the database and has no queue entry.
	d.sweep(ctx)

	ticker := time.NewTicker(time.Duration(d.cfg.RecoveryIntervalSecs) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("dispatcher: recovery sweeper stopping")
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Dispatcher) sweep(ctx context.Context) {
	pending, err := d.docRepo.ListPending(ctx, d.cfg.RecoveryBatch)
	if err != nil {
		log.Printf("dispatcher: recovery sweep failed: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	enqueued := 0
	for _, doc := range pending {
		if d.Enqueue(doc.ID) {
			enqueued++
		}
	}
	log.Printf("dispatcher: recovery sweep re-enqueued %d of %d pending documents",
		enqueued, len(pending))
}
