/*
janitor.go - Stuck generating-flag recovery

PURPOSE:
  The generating flag is released by a deferred action around every
  render, but a killed process releases nothing. The janitor
  periodically scans for claims older than MaxAge and clears them so
  those certificates become generatable again. The document slot is
  left alone; the next request simply re-renders.

DESIGN:
  - Background goroutine on a configurable check interval
  - Runs once immediately on Start
  - Stop waits for the in-flight sweep to finish

USAGE:
  janitor := docgen.NewJanitor(store)
  janitor.Start()
  // ... later
  janitor.Stop()
*/
package docgen

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/certificate-engine/boq"
)

// Janitor frees generating flags abandoned by dead workers.
type Janitor struct {
	Store boq.DocumentStore

	// CheckInterval is how often to sweep (default: 10 minutes).
	CheckInterval time.Duration

	// MaxAge is how long a claim may be held before it counts as stuck
	// (default: 30 minutes; renders run seconds to low minutes).
	MaxAge time.Duration

	Enabled bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewJanitor(store boq.DocumentStore) *Janitor {
	return &Janitor{
		Store:         store,
		CheckInterval: 10 * time.Minute,
		MaxAge:        30 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweep loop.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.Enabled {
		log.Println("[Janitor] Disabled, not starting")
		return
	}

	j.ticker = time.NewTicker(j.CheckInterval)
	j.wg.Add(1)

	go j.run()

	log.Printf("[Janitor] Started with check interval %v, max claim age %v", j.CheckInterval, j.MaxAge)
}

// Stop halts the sweep loop.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ticker != nil {
		j.ticker.Stop()
		close(j.stop)
		j.wg.Wait()
		log.Println("[Janitor] Stopped")
	}
}

func (j *Janitor) run() {
	defer j.wg.Done()

	// Sweep immediately on start: a restart is exactly when stuck flags
	// exist.
	j.sweep()

	for {
		select {
		case <-j.ticker.C:
			j.sweep()
		case <-j.stop:
			return
		}
	}
}

func (j *Janitor) sweep() {
	ctx := context.Background()
	cutoff := time.Now().Add(-j.MaxAge)

	stuck, err := j.Store.ListStuckDocuments(ctx, cutoff)
	if err != nil {
		log.Printf("[Janitor] Error listing stuck claims: %v", err)
		return
	}

	released := 0
	for _, s := range stuck {
		if err := j.Store.ReleaseDocument(ctx, s.CertificateID, s.Kind); err != nil {
			log.Printf("[Janitor] Error releasing %s/%s: %v", s.CertificateID, s.Kind, err)
			continue
		}
		log.Printf("[Janitor] Released stuck %s claim on certificate %s (held since %v)", s.Kind, s.CertificateID, s.Since)
		released++
	}

	if released > 0 {
		log.Printf("[Janitor] Completed: %d stuck claims released", released)
	}
}
