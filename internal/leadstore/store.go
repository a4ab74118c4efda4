// Package leadstore persists leads in a spreadsheet.
package leadstore

import (
	"context"

	"github.com/shineum/outreach-mailer/internal/lead"
)

// Store reads the lead table and applies row updates to it.
type Store interface {
	// ReadAll returns every non-blank data row in sheet order.
	ReadAll(ctx context.Context) ([]lead.Lead, error)

	// Write applies the updates as one batch. Only the named fields of each
	// row are touched.
	Write(ctx context.Context, updates []lead.Update) error
}
