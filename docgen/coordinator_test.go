package docgen_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/certificate-engine/boq"
	"github.com/warp/certificate-engine/boq/store"
	"github.com/warp/certificate-engine/docgen"
)

// =============================================================================
// FIXTURES
// =============================================================================

// stubRenderer counts renders and can be told to fail or panic.
type stubRenderer struct {
	renders atomic.Int32
	err     error
	panics  bool

	// block, when set, holds every render until released. For the
	// concurrency tests.
	block chan struct{}
}

func (r *stubRenderer) Render(_ context.Context, rc docgen.RenderContext) ([]byte, error) {
	r.renders.Add(1)
	if r.block != nil {
		<-r.block
	}
	if r.panics {
		panic("renderer exploded")
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte("CERTIFICATE #" + string(rc.Certificate.ID)), nil
}

type docFixture struct {
	store       *store.Memory
	blobs       *docgen.MemoryBlobStore
	renderer    *stubRenderer
	coordinator *docgen.Coordinator
	cert        *boq.PaymentCertificate
}

func newDocFixture(t *testing.T) *docFixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	project := &boq.Project{
		ID:        boq.ProjectID(boq.NewID()),
		Name:      "Docgen Project",
		Status:    boq.ProjectActive,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, mem.SaveProject(ctx, project))

	item := boq.LineItem{
		ID:               boq.LineItemID(boq.NewID()),
		ProjectID:        project.ID,
		RowIndex:         1,
		ItemNumber:       "1.1",
		IsWork:           true,
		BudgetedQuantity: decimal.NewFromInt(100),
		UnitPrice:        decimal.NewFromInt(10),
		TotalPrice:       decimal.NewFromInt(1000),
	}
	require.NoError(t, mem.SaveLineItem(ctx, &item))

	cert, err := mem.CreateCertificate(ctx, project.ID)
	require.NoError(t, err)

	renderer := &stubRenderer{}
	blobs := docgen.NewMemoryBlobStore()
	return &docFixture{
		store:       mem,
		blobs:       blobs,
		renderer:    renderer,
		coordinator: docgen.NewCoordinator(mem, renderer, blobs),
		cert:        cert,
	}
}

func (f *docFixture) reload(t *testing.T) *boq.PaymentCertificate {
	t.Helper()
	cert, err := f.store.GetCertificate(context.Background(), f.cert.ID)
	require.NoError(t, err)
	return cert
}

// =============================================================================
// GENERATION
// =============================================================================

func TestCoordinator_SuccessfulRenderStoresDocument(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.Request(ctx, f.cert.ID, boq.DocumentFull))
	f.coordinator.Wait()

	cert := f.reload(t)
	assert.False(t, cert.Full.Generating, "flag released on success")
	require.NotEmpty(t, cert.Full.Path)

	data, err := f.blobs.Get(ctx, cert.Full.Path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestCoordinator_BothFansOutToBothKinds(t *testing.T) {
	f := newDocFixture(t)

	require.NoError(t, f.coordinator.Request(context.Background(), f.cert.ID, boq.DocumentBoth))
	f.coordinator.Wait()

	cert := f.reload(t)
	assert.NotEmpty(t, cert.Full.Path)
	assert.NotEmpty(t, cert.Abridged.Path)
	assert.Equal(t, int32(2), f.renderer.renders.Load())
}

func TestCoordinator_RenderErrorReleasesFlag(t *testing.T) {
	// GIVEN: A renderer that fails
	// WHEN: The render goroutine exits
	// THEN: The generating flag is clear and the slot empty, so the next
	//       request retries

	f := newDocFixture(t)
	f.renderer.err = errors.New("template corrupted")

	require.NoError(t, f.coordinator.Request(context.Background(), f.cert.ID, boq.DocumentFull))
	f.coordinator.Wait()

	cert := f.reload(t)
	assert.False(t, cert.Full.Generating, "flag must not survive a failed render")
	assert.Empty(t, cert.Full.Path)

	// The slot is claimable again.
	f.renderer.err = nil
	require.NoError(t, f.coordinator.Request(context.Background(), f.cert.ID, boq.DocumentFull))
	f.coordinator.Wait()
	assert.NotEmpty(t, f.reload(t).Full.Path)
}

func TestCoordinator_RenderPanicReleasesFlag(t *testing.T) {
	f := newDocFixture(t)
	f.renderer.panics = true

	require.NoError(t, f.coordinator.Request(context.Background(), f.cert.ID, boq.DocumentFull))
	f.coordinator.Wait()

	cert := f.reload(t)
	assert.False(t, cert.Full.Generating, "flag must not survive a panicking render")
	assert.Empty(t, cert.Full.Path)
}

func TestCoordinator_ConcurrentRequestsRenderOnce(t *testing.T) {
	// Two near-simultaneous requests race for the claim; exactly one
	// render runs, the rest are no-ops.

	f := newDocFixture(t)
	f.renderer.block = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.coordinator.Request(context.Background(), f.cert.ID, boq.DocumentFull)
		}()
	}
	wg.Wait()

	close(f.renderer.block)
	f.coordinator.Wait()

	assert.Equal(t, int32(1), f.renderer.renders.Load(), "claim admits one render")
	assert.NotEmpty(t, f.reload(t).Full.Path)
}

func TestCoordinator_KindsClaimIndependently(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()

	claimed, err := f.store.ClaimDocument(ctx, f.cert.ID, boq.DocumentFull, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	// Full is busy; abridged still renders.
	require.NoError(t, f.coordinator.Request(ctx, f.cert.ID, boq.DocumentAbridged))
	f.coordinator.Wait()

	cert := f.reload(t)
	assert.True(t, cert.Full.Generating)
	assert.NotEmpty(t, cert.Abridged.Path)
	assert.Equal(t, int32(1), f.renderer.renders.Load())
}

// =============================================================================
// DOWNLOAD
// =============================================================================

func TestCoordinator_DownloadStates(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()

	// Missing: dispatches generation.
	res, err := f.coordinator.Download(ctx, f.cert.ID, boq.DocumentFull, false)
	require.NoError(t, err)
	assert.Equal(t, docgen.DownloadDispatched, res.State)
	f.coordinator.Wait()

	// Present: serves bytes with the numbered filename.
	res, err = f.coordinator.Download(ctx, f.cert.ID, boq.DocumentFull, false)
	require.NoError(t, err)
	assert.Equal(t, docgen.DownloadReady, res.State)
	assert.Equal(t, "payment_certificate_1.txt", res.Filename)
	assert.NotEmpty(t, res.Data)

	// Force: regenerates even though a document exists.
	res, err = f.coordinator.Download(ctx, f.cert.ID, boq.DocumentFull, true)
	require.NoError(t, err)
	assert.Equal(t, docgen.DownloadDispatched, res.State)
	f.coordinator.Wait()
}

func TestCoordinator_DownloadWhileGenerating(t *testing.T) {
	f := newDocFixture(t)
	f.renderer.block = make(chan struct{})
	ctx := context.Background()

	require.NoError(t, f.coordinator.Request(ctx, f.cert.ID, boq.DocumentFull))

	res, err := f.coordinator.Download(ctx, f.cert.ID, boq.DocumentFull, false)
	require.NoError(t, err)
	assert.Equal(t, docgen.DownloadGenerating, res.State)

	close(f.renderer.block)
	f.coordinator.Wait()
}

func TestCoordinator_QuantityEditInvalidatesDocuments(t *testing.T) {
	// A rendered document reflects the rows at render time. Editing
	// quantities clears the stored paths so stale statements are never
	// served.

	f := newDocFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.Request(ctx, f.cert.ID, boq.DocumentBoth))
	f.coordinator.Wait()
	require.NotEmpty(t, f.reload(t).Full.Path)

	tx := boq.ActualTransaction{
		ID:            boq.TransactionID(boq.NewID()),
		CertificateID: f.cert.ID,
		LineItemID:    "item-x",
		TotalPrice:    decimal.NewFromInt(100),
	}
	require.NoError(t, f.store.ApplyTransactionChanges(ctx, f.cert.ID, []boq.ActualTransaction{tx}, nil))

	cert := f.reload(t)
	assert.Empty(t, cert.Full.Path)
	assert.Empty(t, cert.Abridged.Path)
}

// =============================================================================
// STATUS
// =============================================================================

func TestCoordinator_StatusReportsBothSlots(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()

	status, err := f.coordinator.Status(ctx, f.cert.ID)
	require.NoError(t, err)
	assert.False(t, status.Generating)
	assert.False(t, status.Available)

	require.NoError(t, f.coordinator.Request(ctx, f.cert.ID, boq.DocumentFull))
	f.coordinator.Wait()

	status, err = f.coordinator.Status(ctx, f.cert.ID)
	require.NoError(t, err)
	assert.True(t, status.Available)
	assert.False(t, status.AbridgedAvailable)
}
