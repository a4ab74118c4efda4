// Package mailbox defines the read side of the mail transport: finding and
// fetching bounce notifications.
package mailbox

import (
	"context"

	"github.com/shineum/outreach-mailer/internal/email"
)

// Mailbox searches a mail store and fetches parsed messages from it.
type Mailbox interface {
	// Search returns the ids of messages matching q, oldest first, at most
	// q.MaxResults of the most recent.
	Search(ctx context.Context, q email.SearchQuery) ([]string, error)

	// Fetch returns the parsed message with the given id.
	Fetch(ctx context.Context, id string) (*email.Message, error)

	// Close releases the underlying session.
	Close() error
}
