package service

import (
	"log"

	"chamalink/internal/domain"
	"chamalink/internal/repository"
)

// TokenHygiene removes device tokens the push provider reported as
// permanently invalid, so dead endpoints stop consuming sends.
type TokenHygiene struct {
	tokens *repository.DeviceTokenRepository
}

func NewTokenHygiene(tokens *repository.DeviceTokenRepository) *TokenHygiene {
	return &TokenHygiene{tokens: tokens}
}

// CleanOutcomes drops every push endpoint with a permanent failure.
// Transient failures are left alone.
func (h *TokenHygiene) CleanOutcomes(outcomes []domain.DeliveryOutcome) {
	for _, out := range outcomes {
		if out.Channel != domain.ChannelPush || !out.Permanent {
			continue
		}
		h.Remove(out.Endpoint)
	}
}

func (h *TokenHygiene) Remove(token string) {
	removed, err := h.tokens.RemoveByToken(token)
	if err != nil {
		log.Printf("[HYGIENE] remove token: %v", err)
		return
	}
	if removed {
		log.Printf("[HYGIENE] removed invalid device token %s", shorten(token))
	}
}

func shorten(token string) string {
	if len(token) > 12 {
		return token[:12] + "..."
	}
	return token
}
