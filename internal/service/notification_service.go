package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"chamalink/internal/domain"
	"chamalink/internal/models"
	"chamalink/internal/repository"

	"github.com/google/uuid"
)

var (
	ErrNoRecipients   = errors.New("recipient selector resolved no members")
	ErrInvalidRequest = errors.New("invalid notification request")
)

// FeedPusher pushes real-time in-app payloads to connected members.
type FeedPusher interface {
	BroadcastToUser(userID uint, payload interface{})
}

// CreateInput is the caller-facing notification spec. The caller gets
// an accepted/queued response; delivery happens asynchronously and is
// observable by querying the record later.
type CreateInput struct {
	RecipientID  uint                   `json:"recipient_id"`
	SenderID     *uint                  `json:"-"`
	Type         string                 `json:"type"`
	Priority     string                 `json:"priority"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	Data         map[string]interface{} `json:"data"`
	ActionURL    string                 `json:"action_url"`
	ActionText   string                 `json:"action_text"`
	Channels     []string               `json:"channels"`
	ScheduledFor *time.Time             `json:"scheduled_for"`
	ExpiresAt    *time.Time             `json:"expires_at"`
}

// RecipientSelector picks the audience of a bulk send: one named role,
// or every active member.
type RecipientSelector struct {
	Role      string `json:"role"`
	AllActive bool   `json:"all_active"`
}

type NotificationService struct {
	repo  *repository.NotificationRepository
	users *repository.UserRepository
	feed  FeedPusher
}

func NewNotificationService(repo *repository.NotificationRepository, users *repository.UserRepository, feed FeedPusher) *NotificationService {
	return &NotificationService{repo: repo, users: users, feed: feed}
}

// Create persists one notification and queues it for dispatch. In-app
// is delivered at creation: there is no gateway leg, only a
// best-effort real-time push to connected clients.
func (s *NotificationService) Create(in CreateInput) (*models.Notification, error) {
	n, err := s.build(in)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.GetByID(in.RecipientID); err != nil {
		return nil, fmt.Errorf("%w: unknown recipient %d", ErrInvalidRequest, in.RecipientID)
	}
	if err := s.repo.Create(n); err != nil {
		return nil, err
	}
	s.pushToFeed(n)
	return n, nil
}

// CreateBulk expands one logical send into one record per resolved
// recipient, all sharing a batch id. Expansion is eager and happens
// exactly once; the dispatcher never re-resolves recipients. Zero
// resolved recipients fails the whole request with nothing created.
func (s *NotificationService) CreateBulk(in CreateInput, sel RecipientSelector) (string, int, error) {
	var (
		ids []uint
		err error
	)
	switch {
	case sel.AllActive:
		ids, err = s.users.ListActiveIDs()
	case sel.Role != "":
		ids, err = s.users.ListIDsByRole(sel.Role)
	default:
		return "", 0, fmt.Errorf("%w: empty recipient selector", ErrInvalidRequest)
	}
	if err != nil {
		return "", 0, err
	}
	if len(ids) == 0 {
		return "", 0, ErrNoRecipients
	}

	batchID := uuid.NewString()
	records := make([]*models.Notification, 0, len(ids))
	for _, id := range ids {
		in := in
		in.RecipientID = id
		n, err := s.build(in)
		if err != nil {
			return "", 0, err
		}
		n.BatchID = batchID
		records = append(records, n)
	}
	if err := s.repo.CreateBatch(records); err != nil {
		return "", 0, err
	}
	for _, n := range records {
		s.pushToFeed(n)
	}
	log.Printf("[NOTIFY] batch %s created: %d records", batchID, len(records))
	return batchID, len(records), nil
}

func (s *NotificationService) build(in CreateInput) (*models.Notification, error) {
	if in.Title == "" || len(in.Title) > domain.TitleMaxLen {
		return nil, fmt.Errorf("%w: title must be 1-%d chars", ErrInvalidRequest, domain.TitleMaxLen)
	}
	if in.Message == "" || len(in.Message) > domain.MessageMaxLen {
		return nil, fmt.Errorf("%w: message must be 1-%d chars", ErrInvalidRequest, domain.MessageMaxLen)
	}
	if in.Type == "" {
		in.Type = domain.TypeInfo
	}
	if !domain.ValidType(in.Type) {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, in.Type)
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityNormal
	}
	if !domain.ValidPriority(in.Priority) {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, in.Priority)
	}
	if len(in.Channels) == 0 {
		return nil, fmt.Errorf("%w: at least one channel required", ErrInvalidRequest)
	}
	for _, ch := range in.Channels {
		if !domain.ValidChannel(ch) {
			return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, ch)
		}
	}

	var dataJSON string
	if in.Data != nil {
		b, err := json.Marshal(in.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: data not serializable", ErrInvalidRequest)
		}
		dataJSON = string(b)
	}
	scheduledFor := time.Now()
	if in.ScheduledFor != nil {
		scheduledFor = *in.ScheduledFor
	}

	n := &models.Notification{
		RecipientID:  in.RecipientID,
		SenderID:     in.SenderID,
		Type:         in.Type,
		Priority:     in.Priority,
		Title:        in.Title,
		Message:      in.Message,
		Data:         dataJSON,
		ActionURL:    in.ActionURL,
		ActionText:   in.ActionText,
		ScheduledFor: scheduledFor,
		ExpiresAt:    in.ExpiresAt,
	}
	n.RequestChannels(in.Channels)
	return n, nil
}

func (s *NotificationService) pushToFeed(n *models.Notification) {
	if s.feed == nil || !n.InApp {
		return
	}
	if n.ScheduledFor.After(time.Now()) {
		return
	}
	s.feed.BroadcastToUser(n.RecipientID, map[string]interface{}{
		"event":        "notification",
		"notification": n,
	})
}

func (s *NotificationService) Get(id uint) (*models.Notification, error) {
	return s.repo.GetByID(id)
}

func (s *NotificationService) List(userID uint, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	return s.repo.ListByRecipient(userID, unreadOnly, limit, offset)
}

func (s *NotificationService) UnreadCount(userID uint) (int64, error) {
	return s.repo.CountUnread(userID)
}

func (s *NotificationService) MarkRead(id, userID uint) error {
	return s.repo.MarkRead(id, userID, time.Now())
}

func (s *NotificationService) MarkAllRead(userID uint) (int64, error) {
	return s.repo.MarkAllRead(userID, time.Now())
}

// Reschedule is the one undo path: it resets every requested channel
// to pending and un-archives the record.
func (s *NotificationService) Reschedule(id uint, newTime time.Time) (*models.Notification, error) {
	n, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	n.Reschedule(newTime)
	if err := s.repo.Save(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *NotificationService) Archive(id uint) error {
	return s.repo.Archive(id, time.Now())
}
