package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"chamalink/internal/domain"
	"chamalink/internal/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// fcmMulticastLimit is FCM's cap on tokens per multicast call.
const fcmMulticastLimit = 500

// FCMService sends push notifications via Firebase Cloud Messaging.
type FCMService struct {
	client *messaging.Client
}

// NewFCMService creates an FCM service. Returns nil if Firebase is not
// configured; callers must check Available before dispatching pushes.
func NewFCMService(serviceAccountPath string) *FCMService {
	if serviceAccountPath == "" {
		return nil
	}
	ctx := context.Background()
	opt := option.WithCredentialsFile(serviceAccountPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		log.Printf("[FCM] Failed to init Firebase app: %v", err)
		return nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		log.Printf("[FCM] Failed to get Messaging client: %v", err)
		return nil
	}
	return &FCMService{client: client}
}

func (s *FCMService) Available() bool {
	return s != nil && s.client != nil
}

// SendOne sends to a single device token.
func (s *FCMService) SendOne(ctx context.Context, token string, n *models.Notification) domain.DeliveryOutcome {
	out := domain.DeliveryOutcome{Channel: domain.ChannelPush, Endpoint: token}
	msg := buildMessage(n)
	msg.Token = token
	id, err := s.client.Send(ctx, msg)
	if err != nil {
		out.ErrorCode, out.Permanent = classifyFCMError(err)
		out.Error = err.Error()
		return out
	}
	out.Success = true
	out.MessageID = id
	return out
}

// SendMany multicasts to every token and returns one outcome per token.
// Mixed results are normal: the caller updates only the failed
// recipients and forwards permanently-invalid tokens to token hygiene.
func (s *FCMService) SendMany(ctx context.Context, tokens []string, n *models.Notification) []domain.DeliveryOutcome {
	outcomes := make([]domain.DeliveryOutcome, 0, len(tokens))
	for start := 0; start < len(tokens); start += fcmMulticastLimit {
		end := start + fcmMulticastLimit
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]
		msg := &messaging.MulticastMessage{
			Tokens:       chunk,
			Notification: buildMessage(n).Notification,
			Data:         payloadData(n),
			Android:      androidConfig(n.Priority),
			APNS:         apnsConfig(n.Priority),
		}
		resp, err := s.client.SendEachForMulticast(ctx, msg)
		if err != nil {
			// Call-level error: the whole chunk is a transient failure,
			// never a per-token verdict.
			log.Printf("[FCM] multicast of %d failed: %v", len(chunk), err)
			for _, t := range chunk {
				outcomes = append(outcomes, domain.DeliveryOutcome{
					Channel:  domain.ChannelPush,
					Endpoint: t,
					Error:    err.Error(),
				})
			}
			continue
		}
		for i, r := range resp.Responses {
			out := domain.DeliveryOutcome{Channel: domain.ChannelPush, Endpoint: chunk[i]}
			if r.Success {
				out.Success = true
				out.MessageID = r.MessageID
			} else if r.Error != nil {
				out.ErrorCode, out.Permanent = classifyFCMError(r.Error)
				out.Error = r.Error.Error()
			}
			outcomes = append(outcomes, out)
		}
	}
	return outcomes
}

// SendToTopic broadcasts to a topic. Fire-and-forget: topic sends are
// outside per-record delivery tracking.
func (s *FCMService) SendToTopic(ctx context.Context, topic string, n *models.Notification) error {
	msg := buildMessage(n)
	msg.Topic = topic
	if _, err := s.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("topic send: %w", err)
	}
	return nil
}

func (s *FCMService) SubscribeToTopic(ctx context.Context, tokens []string, topic string) error {
	_, err := s.client.SubscribeToTopic(ctx, tokens, topic)
	return err
}

func (s *FCMService) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) error {
	_, err := s.client.UnsubscribeFromTopic(ctx, tokens, topic)
	return err
}

// classifyFCMError maps provider errors to an error code and whether
// the token itself is dead. Only unregistered/mismatched tokens are
// permanent; rate limits and outages must stay retryable.
func classifyFCMError(err error) (code string, permanent bool) {
	switch {
	case messaging.IsUnregistered(err):
		return "unregistered", true
	case messaging.IsSenderIDMismatch(err):
		return "sender-id-mismatch", true
	case messaging.IsThirdPartyAuthError(err):
		return "third-party-auth", false
	case messaging.IsQuotaExceeded(err):
		return "quota-exceeded", false
	case messaging.IsUnavailable(err):
		return "unavailable", false
	case messaging.IsInternal(err):
		return "internal", false
	}
	return "unknown", false
}

func buildMessage(n *models.Notification) *messaging.Message {
	return &messaging.Message{
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Message,
		},
		Data:    payloadData(n),
		Android: androidConfig(n.Priority),
		APNS:    apnsConfig(n.Priority),
	}
}

// androidConfig maps notification priority to transport hints. This is
// presentation only; delivery-state semantics do not depend on it.
func androidConfig(priority string) *messaging.AndroidConfig {
	cfg := &messaging.AndroidConfig{Priority: "normal"}
	if priority == domain.PriorityHigh || priority == domain.PriorityUrgent {
		cfg.Priority = "high"
		cfg.Notification = &messaging.AndroidNotification{
			Sound:                 "default",
			DefaultVibrateTimings: true,
		}
	}
	return cfg
}

func apnsConfig(priority string) *messaging.APNSConfig {
	aps := &messaging.Aps{}
	headers := map[string]string{"apns-priority": "5"}
	if priority == domain.PriorityHigh || priority == domain.PriorityUrgent {
		headers["apns-priority"] = "10"
		aps.Sound = "default"
	}
	return &messaging.APNSConfig{
		Headers: headers,
		Payload: &messaging.APNSPayload{Aps: aps},
	}
}

// payloadData flattens the record's free-form data map for FCM, which
// requires string values.
func payloadData(n *models.Notification) map[string]string {
	data := map[string]string{
		"notification_id": fmt.Sprintf("%d", n.ID),
		"type":            n.Type,
		"priority":        n.Priority,
	}
	if n.ActionURL != "" {
		data["action_url"] = n.ActionURL
	}
	if n.ActionText != "" {
		data["action_text"] = n.ActionText
	}
	if n.Data == "" {
		return data
	}
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(n.Data), &raw); err != nil {
		return data
	}
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			data[k] = val
		case float64:
			data[k] = fmt.Sprintf("%v", val)
		default:
			b, _ := json.Marshal(v)
			data[k] = string(b)
		}
	}
	return data
}
