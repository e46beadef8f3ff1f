package models

import (
	"time"

	"chamalink/internal/domain"

	"gorm.io/gorm"
)

// ChannelDelivery is the per-channel delivery sub-state. An empty
// Status means the channel was not requested for this notification and
// must never be mutated.
type ChannelDelivery struct {
	Status      string     `gorm:"size:16;index" json:"status,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	MessageID   string     `gorm:"size:128" json:"message_id,omitempty"`
	Error       string     `gorm:"size:512" json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
}

func (d *ChannelDelivery) Requested() bool { return d.Status != "" }

// Exhausted reports whether the channel has used up its automatic
// retry budget.
func (d *ChannelDelivery) Exhausted() bool {
	return d.RetryCount >= domain.MaxChannelRetries
}

type Notification struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	BatchID string `gorm:"size:36;index" json:"batch_id,omitempty"` // groups bulk fan-out siblings

	RecipientID uint  `gorm:"not null;index:idx_notifications_recipient_read;index:idx_notifications_recipient_created" json:"recipient_id"`
	SenderID    *uint `json:"sender_id,omitempty"`

	Type       string `gorm:"size:20;not null;index" json:"type"`
	Priority   string `gorm:"size:10;not null;default:normal" json:"priority"`
	Title      string `gorm:"size:100;not null" json:"title"`
	Message    string `gorm:"size:500;not null" json:"message"`
	Data       string `gorm:"type:text" json:"data,omitempty"` // JSON payload
	ActionURL  string `gorm:"size:512" json:"action_url,omitempty"`
	ActionText string `gorm:"size:64" json:"action_text,omitempty"`

	// One fixed-shape sub-state per gateway-backed channel. A map keyed
	// by channel name would hide unknown keys from the state machine.
	Push  ChannelDelivery `gorm:"embedded;embeddedPrefix:push_" json:"push"`
	SMS   ChannelDelivery `gorm:"embedded;embeddedPrefix:sms_" json:"sms"`
	Email ChannelDelivery `gorm:"embedded;embeddedPrefix:email_" json:"email"`
	InApp bool            `json:"in_app"`

	IsRead bool       `gorm:"default:false;index:idx_notifications_recipient_read" json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	SentAt       *time.Time `json:"first_sent_at,omitempty"` // set once, on first channel success
	ScheduledFor time.Time  `gorm:"not null;index" json:"scheduled_for"`
	ExpiresAt    *time.Time `gorm:"index" json:"expires_at,omitempty"`
	IsArchived   bool       `gorm:"default:false" json:"is_archived"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`

	RescheduledCount     int        `json:"rescheduled_count"`
	OriginalScheduledFor *time.Time `json:"original_scheduled_for,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Recipient User `gorm:"foreignKey:RecipientID" json:"-"`
}

func (Notification) TableName() string { return "notifications" }

// Delivery returns the sub-state for a gateway-backed channel, or nil
// for in_app and unknown channel names.
func (n *Notification) Delivery(channel string) *ChannelDelivery {
	switch channel {
	case domain.ChannelPush:
		return &n.Push
	case domain.ChannelSMS:
		return &n.SMS
	case domain.ChannelEmail:
		return &n.Email
	}
	return nil
}

// ExternalChannels lists the gateway-backed channels requested on this
// record, in dispatch order.
func (n *Notification) ExternalChannels() []string {
	var out []string
	for _, ch := range []string{domain.ChannelPush, domain.ChannelSMS, domain.ChannelEmail} {
		if n.Delivery(ch).Requested() {
			out = append(out, ch)
		}
	}
	return out
}

// RequestChannels marks the given channels as requested. Gateway-backed
// channels start pending; in_app needs no dispatch.
func (n *Notification) RequestChannels(channels []string) {
	for _, ch := range channels {
		if ch == domain.ChannelInApp {
			n.InApp = true
			continue
		}
		if d := n.Delivery(ch); d != nil {
			d.Status = domain.DeliveryPending
		}
	}
}

// OverallDeliveryStatus derives the record-level status from the
// requested channels: delivered when every channel is delivered,
// partial when failures and successes coexist, sent when at least one
// channel went out and none failed, otherwise pending. An in_app-only
// record is delivered by construction.
func (n *Notification) OverallDeliveryStatus() string {
	requested, delivered, succeeded, failed := 0, 0, 0, 0
	for _, ch := range n.ExternalChannels() {
		requested++
		switch n.Delivery(ch).Status {
		case domain.DeliveryDelivered:
			delivered++
			succeeded++
		case domain.DeliverySent:
			succeeded++
		case domain.DeliveryFailed:
			failed++
		}
	}
	switch {
	case requested == 0:
		if n.InApp {
			return domain.OverallDelivered
		}
		return domain.OverallPending
	case delivered == requested:
		return domain.OverallDelivered
	case failed > 0 && succeeded > 0:
		return domain.OverallPartial
	case succeeded > 0:
		return domain.OverallSent
	default:
		return domain.OverallPending
	}
}

// TotalRetryCount sums attempts across channels for reporting.
func (n *Notification) TotalRetryCount() int {
	return n.Push.RetryCount + n.SMS.RetryCount + n.Email.RetryCount
}

func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && n.ExpiresAt.Before(now)
}

func (n *Notification) MarkAsRead(now time.Time) {
	if n.IsRead {
		return
	}
	n.IsRead = true
	n.ReadAt = &now
}

// Reschedule moves the record to a new dispatch time and resets every
// requested channel back to pending, clearing errors, correlation ids
// and retry budgets. This is the only path out of a terminal failed
// sub-state, and the only operation allowed to un-archive a record.
func (n *Notification) Reschedule(t time.Time) {
	if n.OriginalScheduledFor == nil {
		orig := n.ScheduledFor
		n.OriginalScheduledFor = &orig
	}
	n.ScheduledFor = t
	n.RescheduledCount++
	n.IsArchived = false
	n.ArchivedAt = nil
	for _, ch := range n.ExternalChannels() {
		*n.Delivery(ch) = ChannelDelivery{Status: domain.DeliveryPending}
	}
}
