package docgen_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/certificate-engine/boq"
	"github.com/warp/certificate-engine/docgen"
)

// recordingNotifier captures the last send.
type recordingNotifier struct {
	to          []string
	subject     string
	body        string
	attachments []docgen.Attachment
	sends       int
}

func (n *recordingNotifier) Send(_ context.Context, to []string, subject, body string, attachments ...docgen.Attachment) error {
	n.to = to
	n.subject = subject
	n.body = body
	n.attachments = attachments
	n.sends++
	return nil
}

func approveFixtureCert(t *testing.T, f *docFixture) {
	t.Helper()
	ctx := context.Background()
	f.cert.Status = boq.StatusApproved
	require.NoError(t, f.store.UpdateCertificate(ctx, f.cert))
}

func TestEmailSignatories_SendsBothDocuments(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	approveFixtureCert(t, f)

	require.NoError(t, f.coordinator.Request(ctx, f.cert.ID, boq.DocumentBoth))
	f.coordinator.Wait()

	notifier := &recordingNotifier{}
	err := f.coordinator.EmailSignatories(ctx, notifier, f.cert.ID, []string{"client@example.com", "engineer@example.com"})
	require.NoError(t, err)

	assert.Equal(t, 1, notifier.sends)
	assert.Equal(t, []string{"client@example.com", "engineer@example.com"}, notifier.to)
	assert.Contains(t, notifier.subject, "Payment Certificate #1")
	require.Len(t, notifier.attachments, 2)
	assert.Equal(t, "payment_certificate_1_full.txt", notifier.attachments[0].Filename)
	assert.Equal(t, "payment_certificate_1_abridged.txt", notifier.attachments[1].Filename)
}

func TestEmailSignatories_UnapprovedRefused(t *testing.T) {
	f := newDocFixture(t)

	notifier := &recordingNotifier{}
	err := f.coordinator.EmailSignatories(context.Background(), notifier, f.cert.ID, []string{"client@example.com"})

	var transition *boq.TransitionError
	require.ErrorAs(t, err, &transition)
	assert.Zero(t, notifier.sends)
}

func TestEmailSignatories_MissingDocumentsDispatchesGeneration(t *testing.T) {
	// No documents exist yet: the call fails with ErrDocumentMissing but
	// kicks off generation so a retry succeeds.

	f := newDocFixture(t)
	ctx := context.Background()
	approveFixtureCert(t, f)

	notifier := &recordingNotifier{}
	err := f.coordinator.EmailSignatories(ctx, notifier, f.cert.ID, []string{"client@example.com"})
	require.ErrorIs(t, err, boq.ErrDocumentMissing)
	assert.Zero(t, notifier.sends)

	f.coordinator.Wait()
	require.NoError(t, f.coordinator.EmailSignatories(ctx, notifier, f.cert.ID, []string{"client@example.com"}))
	assert.Equal(t, 1, notifier.sends)
}

func TestEmailSignatories_InFlightRenderNotReady(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	approveFixtureCert(t, f)
	f.renderer.block = make(chan struct{})

	require.NoError(t, f.coordinator.Request(ctx, f.cert.ID, boq.DocumentFull))

	notifier := &recordingNotifier{}
	err := f.coordinator.EmailSignatories(ctx, notifier, f.cert.ID, []string{"client@example.com"})
	require.ErrorIs(t, err, boq.ErrDocumentNotReady)

	close(f.renderer.block)
	f.coordinator.Wait()
}