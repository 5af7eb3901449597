// Package email wraps the transactional email provider and builds the
// messages sent for schedule notifications.
package email

import "context"

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	Tags    map[string]string
}

// Gateway sends a single message and returns the provider's message id. The
// dispatcher depends only on this success/error contract.
type Gateway interface {
	Send(ctx context.Context, message Message) (string, error)
}
