/*
notify.go - Emailing approved certificates to signatories

PURPOSE:
  The engine's trigger point for notification: once a certificate is
  approved and both documents exist, send them to the project's
  signatories. The transport itself lives behind Notifier; LogNotifier
  is the default no-op for dev servers.
*/
package docgen

import (
	"context"
	"fmt"
	"log"

	"github.com/warp/certificate-engine/boq"
)

// Attachment is one file on an outgoing notification.
type Attachment struct {
	Filename string
	Content  []byte
}

// Notifier delivers a message with optional attachments.
type Notifier interface {
	Send(ctx context.Context, to []string, subject, body string, attachments ...Attachment) error
}

// LogNotifier logs instead of sending. Default for dev.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, to []string, subject, _ string, attachments ...Attachment) error {
	log.Printf("[Notify] would send %q to %v (%d attachments)", subject, to, len(attachments))
	return nil
}

// EmailSignatories sends an approved certificate's documents to the
// given recipients. Requires both documents to be present: missing ones
// are dispatched for generation and ErrDocumentMissing is returned so
// the caller retries once they exist; in-flight renders return
// ErrDocumentNotReady.
func (c *Coordinator) EmailSignatories(ctx context.Context, notifier Notifier, certID boq.CertificateID, recipients []string) error {
	cert, err := c.Store.GetCertificate(ctx, certID)
	if err != nil {
		return err
	}
	if cert.Status != boq.StatusApproved {
		return &boq.TransitionError{CertificateID: certID, From: cert.Status, To: boq.StatusApproved}
	}

	if cert.Full.Generating || cert.Abridged.Generating {
		return boq.ErrDocumentNotReady
	}
	missing := false
	if cert.Full.Path == "" {
		missing = true
		if err := c.Request(ctx, certID, boq.DocumentFull); err != nil {
			return err
		}
	}
	if cert.Abridged.Path == "" {
		missing = true
		if err := c.Request(ctx, certID, boq.DocumentAbridged); err != nil {
			return err
		}
	}
	if missing {
		return boq.ErrDocumentMissing
	}

	project, err := c.Store.GetProject(ctx, cert.ProjectID)
	if err != nil {
		return err
	}

	var attachments []Attachment
	for _, kind := range []boq.DocumentKind{boq.DocumentFull, boq.DocumentAbridged} {
		data, err := c.Blobs.Get(ctx, cert.Slot(kind).Path)
		if err != nil {
			return fmt.Errorf("failed to read %s document: %w", kind, err)
		}
		name := fmt.Sprintf("payment_certificate_%d_%s.txt", cert.CertificateNumber, kind)
		attachments = append(attachments, Attachment{Filename: name, Content: data})
	}

	subject := fmt.Sprintf("Payment Certificate #%d - %s", cert.CertificateNumber, project.Name)
	body := fmt.Sprintf("Payment certificate #%d for %s has been approved and is attached for signature.",
		cert.CertificateNumber, project.Name)
	return notifier.Send(ctx, recipients, subject, body, attachments...)
}
