package email

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// ResendGateway delivers messages through the Resend transactional API.
type ResendGateway struct {
	client *resend.Client
	from   string
}

// NewResendGateway constructs a gateway sending from the given address.
func NewResendGateway(apiKey, from string) *ResendGateway {
	return &ResendGateway{client: resend.NewClient(apiKey), from: from}
}

// Send implements Gateway.
func (g *ResendGateway) Send(ctx context.Context, message Message) (string, error) {
	params := &resend.SendEmailRequest{
		From:    g.from,
		To:      []string{message.To},
		Subject: message.Subject,
		Html:    message.HTML,
		Text:    message.Text,
	}
	for name, value := range message.Tags {
		params.Tags = append(params.Tags, resend.Tag{Name: name, Value: value})
	}

	sent, err := g.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("email: send via resend: %w", err)
	}
	return sent.Id, nil
}
