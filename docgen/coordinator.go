/*
Package docgen coordinates background generation of certificate
documents.

PURPOSE:
  Rendering a certificate document is slow, and the approval workflow
  must never block on it. The coordinator accepts generation requests on
  the request path, claims the certificate's per-document generating
  flag atomically, and hands the actual render to a goroutine.

MUTUAL EXCLUSION:
  The persisted generating flag is the pipeline's only lock. The claim
  is an atomic check-and-set in the store (ClaimDocument), so two
  near-simultaneous requests resolve to one render and one no-op; there
  is no window where both observe the flag clear.

FAILURE SEMANTICS:
  Flag release wraps the render like a finally: success stores the
  document and clears the flag in one step; errors and panics release
  the flag and leave the slot empty so the next request retries. The
  triggering request already returned and is never notified - absence of
  the document on the next check is the failure signal.

SEE ALSO:
  - renderer.go: turns a reconciled certificate view into bytes
  - janitor.go: frees flags whose worker died without releasing
*/
package docgen

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warp/certificate-engine/boq"
)

// Store is the persistence the coordinator needs: relational state for
// re-deriving the certificate plus the document flag/slot operations.
type Store interface {
	boq.Store
	boq.DocumentStore
}

// Coordinator runs certificate document generation in the background.
type Coordinator struct {
	Store    Store
	Renderer Renderer
	Blobs    BlobStore

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time

	wg sync.WaitGroup
}

func NewCoordinator(store Store, renderer Renderer, blobs BlobStore) *Coordinator {
	return &Coordinator{Store: store, Renderer: renderer, Blobs: blobs}
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Request claims the generating flag and dispatches a render, returning
// immediately. A request for a document already being generated is a
// no-op. DocumentBoth fans out to both kinds.
func (c *Coordinator) Request(ctx context.Context, certID boq.CertificateID, kind boq.DocumentKind) error {
	if kind == boq.DocumentBoth {
		if err := c.Request(ctx, certID, boq.DocumentFull); err != nil {
			return err
		}
		return c.Request(ctx, certID, boq.DocumentAbridged)
	}

	claimed, err := c.Store.ClaimDocument(ctx, certID, kind, c.now())
	if err != nil {
		return fmt.Errorf("failed to claim %s document for %s: %w", kind, certID, err)
	}
	if !claimed {
		// Someone else is already rendering this document.
		return nil
	}

	c.wg.Add(1)
	go c.render(certID, kind)
	return nil
}

// Wait blocks until all dispatched renders finish. For shutdown and
// tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// render runs in its own goroutine, outside the triggering request's
// transaction and lifetime. It fetches a fresh certificate, re-derives
// the reconciled view, renders, and stores the result. The flag is
// released no matter how this exits.
func (c *Coordinator) render(certID boq.CertificateID, kind boq.DocumentKind) {
	defer c.wg.Done()
	ctx := context.Background()

	stored := false
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[DocGen] render panic for %s/%s: %v", certID, kind, r)
		}
		if stored {
			return
		}
		// StoreDocument clears the flag on success; every other exit
		// releases it here so the certificate is never stuck generating.
		if err := c.Store.ReleaseDocument(ctx, certID, kind); err != nil {
			log.Printf("[DocGen] failed to release %s flag for %s: %v", kind, certID, err)
		}
	}()

	cert, err := c.Store.GetCertificate(ctx, certID)
	if err != nil {
		log.Printf("[DocGen] certificate %s vanished before render: %v", certID, err)
		return
	}
	project, err := c.Store.GetProject(ctx, cert.ProjectID)
	if err != nil {
		log.Printf("[DocGen] project lookup failed for %s: %v", certID, err)
		return
	}

	reconciler := &boq.Reconciler{Store: c.Store}
	rows, err := reconciler.CertificateRows(ctx, *cert)
	if err != nil {
		log.Printf("[DocGen] reconciliation failed for %s: %v", certID, err)
		return
	}
	view, err := boq.GroupRows(ctx, c.Store, cert.ProjectID, rows)
	if err != nil {
		log.Printf("[DocGen] grouping failed for %s: %v", certID, err)
		return
	}
	totals, err := boq.Totals(ctx, c.Store, certID)
	if err != nil {
		log.Printf("[DocGen] totals failed for %s: %v", certID, err)
		return
	}

	data, err := c.Renderer.Render(ctx, RenderContext{
		Project:     *project,
		Certificate: *cert,
		View:        *view,
		Totals:      *totals,
		Abridged:    kind == boq.DocumentAbridged,
	})
	if err != nil {
		log.Printf("[DocGen] render failed for %s/%s: %v", certID, kind, err)
		return
	}

	path := DocumentPath(*project, *cert, kind)
	if err := c.Blobs.Put(ctx, path, data); err != nil {
		log.Printf("[DocGen] blob write failed for %s/%s: %v", certID, kind, err)
		return
	}
	if err := c.Store.StoreDocument(ctx, certID, kind, path); err != nil {
		log.Printf("[DocGen] failed to record document path for %s/%s: %v", certID, kind, err)
		return
	}
	stored = true
	log.Printf("[DocGen] generated %s document for certificate #%d (%s)", kind, cert.CertificateNumber, certID)
}

// =============================================================================
// DOWNLOAD
// =============================================================================

// DownloadState tells the caller what to do next.
type DownloadState string

const (
	// DownloadReady: Data holds the document.
	DownloadReady DownloadState = "ready"
	// DownloadGenerating: a render is in flight; retry shortly.
	DownloadGenerating DownloadState = "generating"
	// DownloadDispatched: no document existed; generation was started.
	DownloadDispatched DownloadState = "dispatched"
)

type DownloadResult struct {
	State    DownloadState
	Filename string
	Data     []byte
}

// Download serves a rendered document, or arranges for one to exist.
// Download never blocks on rendering: a missing document triggers
// generation and reports DownloadDispatched; an in-flight render
// reports DownloadGenerating.
func (c *Coordinator) Download(ctx context.Context, certID boq.CertificateID, kind boq.DocumentKind, force bool) (*DownloadResult, error) {
	cert, err := c.Store.GetCertificate(ctx, certID)
	if err != nil {
		return nil, err
	}
	slot := cert.Slot(kind)

	if slot.Generating {
		return &DownloadResult{State: DownloadGenerating}, nil
	}
	if slot.Path == "" || force {
		if err := c.Request(ctx, certID, kind); err != nil {
			return nil, err
		}
		return &DownloadResult{State: DownloadDispatched}, nil
	}

	data, err := c.Blobs.Get(ctx, slot.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored document: %w", err)
	}
	name := fmt.Sprintf("payment_certificate_%d.txt", cert.CertificateNumber)
	if kind == boq.DocumentAbridged {
		name = fmt.Sprintf("payment_certificate_%d_abridged.txt", cert.CertificateNumber)
	}
	return &DownloadResult{State: DownloadReady, Filename: name, Data: data}, nil
}

// DocumentStatus reports generation state for polling clients.
type DocumentStatus struct {
	Generating         bool `json:"generating"`
	Available          bool `json:"available"`
	AbridgedGenerating bool `json:"abridged_generating"`
	AbridgedAvailable  bool `json:"abridged_available"`
}

// Status reports both slots' state.
func (c *Coordinator) Status(ctx context.Context, certID boq.CertificateID) (*DocumentStatus, error) {
	cert, err := c.Store.GetCertificate(ctx, certID)
	if err != nil {
		return nil, err
	}
	return &DocumentStatus{
		Generating:         cert.Full.Generating,
		Available:          cert.Full.Path != "",
		AbridgedGenerating: cert.Abridged.Generating,
		AbridgedAvailable:  cert.Abridged.Path != "",
	}, nil
}
