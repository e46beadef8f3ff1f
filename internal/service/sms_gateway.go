package service

import (
	"context"

	"chamalink/internal/domain"
	"chamalink/pkg/sms"
)

// SMSGateway adapts the bulk SMS provider client to delivery outcomes.
type SMSGateway struct {
	client *sms.Client
}

func NewSMSGateway(client *sms.Client) *SMSGateway {
	return &SMSGateway{client: client}
}

func (g *SMSGateway) Available() bool {
	return g != nil && g.client.Configured()
}

// SendBulk sends one text to many numbers and maps per-recipient
// provider results to outcomes. Chunking, normalization and rate
// pacing happen inside the provider client.
func (g *SMSGateway) SendBulk(ctx context.Context, numbers []string, text string) []domain.DeliveryOutcome {
	results, err := g.client.SendBulk(ctx, numbers, text)
	if err != nil {
		// Context cancelled mid-send; whatever we have is still valid,
		// the rest count as transient failures.
		outcomes := mapResults(results)
		for _, num := range numbers[len(results):] {
			outcomes = append(outcomes, domain.DeliveryOutcome{
				Channel:  domain.ChannelSMS,
				Endpoint: num,
				Error:    err.Error(),
			})
		}
		return outcomes
	}
	return mapResults(results)
}

func (g *SMSGateway) SendOne(ctx context.Context, number, text string) domain.DeliveryOutcome {
	outs := g.SendBulk(ctx, []string{number}, text)
	return outs[0]
}

func mapResults(results []sms.SendResult) []domain.DeliveryOutcome {
	outcomes := make([]domain.DeliveryOutcome, 0, len(results))
	for _, r := range results {
		out := domain.DeliveryOutcome{
			Channel:   domain.ChannelSMS,
			Endpoint:  r.Number,
			Success:   r.Accepted,
			MessageID: r.MessageID,
		}
		if !r.Accepted {
			out.ErrorCode = r.Status
			out.Error = r.Status
			out.Permanent = sms.PermanentCode(r.StatusCode)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}
