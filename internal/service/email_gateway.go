package service

import (
	"context"
	"fmt"

	"chamalink/internal/domain"
	"chamalink/internal/models"

	"github.com/mrz1836/postmark"
)

// Postmark error codes that mean the address itself will never work.
const (
	postmarkInactiveRecipient = 406
	postmarkInvalidEmail      = 300
)

// EmailGateway sends transactional email through Postmark.
type EmailGateway struct {
	client *postmark.Client
	from   string
}

// NewEmailGateway returns nil when tokens are missing; callers must
// check Available before dispatching email.
func NewEmailGateway(serverToken, accountToken, from string) *EmailGateway {
	if serverToken == "" || from == "" {
		return nil
	}
	return &EmailGateway{
		client: postmark.NewClient(serverToken, accountToken),
		from:   from,
	}
}

func (g *EmailGateway) Available() bool {
	return g != nil && g.client != nil
}

func (g *EmailGateway) SendOne(ctx context.Context, address string, n *models.Notification) domain.DeliveryOutcome {
	out := domain.DeliveryOutcome{Channel: domain.ChannelEmail, Endpoint: address}
	body := n.Message
	if n.ActionURL != "" {
		body += "\n\n" + n.ActionURL
	}
	resp, err := g.client.SendEmail(ctx, postmark.Email{
		From:     g.from,
		To:       address,
		Subject:  n.Title,
		TextBody: body,
		Tag:      n.Type,
	})
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if resp.ErrorCode > 0 {
		out.ErrorCode = fmt.Sprintf("%d", resp.ErrorCode)
		out.Error = resp.Message
		out.Permanent = resp.ErrorCode == postmarkInactiveRecipient || resp.ErrorCode == postmarkInvalidEmail
		return out
	}
	out.Success = true
	out.MessageID = resp.MessageID
	return out
}
