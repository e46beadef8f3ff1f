package repository

import (
	"fmt"
	"time"

	"chamalink/internal/domain"
	"chamalink/internal/models"

	"gorm.io/gorm"
)

// channelColumn maps a channel name to its column prefix. Only known
// channels reach SQL; everything else is rejected first.
var channelColumn = map[string]string{
	domain.ChannelPush:  "push",
	domain.ChannelSMS:   "sms",
	domain.ChannelEmail: "email",
}

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(n *models.Notification) error {
	return r.db.Create(n).Error
}

// CreateBatch persists bulk fan-out siblings in chunks.
func (r *NotificationRepository) CreateBatch(list []*models.Notification) error {
	return r.db.CreateInBatches(list, 100).Error
}

func (r *NotificationRepository) GetByID(id uint) (*models.Notification, error) {
	var n models.Notification
	if err := r.db.First(&n, id).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepository) Save(n *models.Notification) error {
	return r.db.Save(n).Error
}

func (r *NotificationRepository) ListByRecipient(userID uint, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	q := r.db.Where("recipient_id = ? AND is_archived = ?", userID, false)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var list []models.Notification
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, err
}

func (r *NotificationRepository) CountUnread(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ? AND is_archived = ?", userID, false, false).
		Count(&count).Error
	return count, err
}

func (r *NotificationRepository) MarkRead(id, userID uint, at time.Time) error {
	return r.db.Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ? AND is_read = ?", id, userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at}).Error
}

func (r *NotificationRepository) MarkAllRead(userID uint, at time.Time) (int64, error) {
	res := r.db.Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	return res.RowsAffected, res.Error
}

// Archive soft-retires a record. Archiving is monotonic; only an
// explicit reschedule un-archives.
func (r *NotificationRepository) Archive(id uint, at time.Time) error {
	return r.db.Model(&models.Notification{}).
		Where("id = ? AND is_archived = ?", id, false).
		Updates(map[string]interface{}{"is_archived": true, "archived_at": at}).Error
}

// DueForDispatch returns records ready for delivery: scheduled in the
// past, not archived, with at least one pending channel that still has
// retry budget. Urgent and high priority first, then oldest schedule.
// The ordering is a hint; everything due is processed eventually.
func (r *NotificationRepository) DueForDispatch(now time.Time, limit int) ([]models.Notification, error) {
	pending := func(col string) string {
		return fmt.Sprintf("(%s_status = 'pending' AND %s_retry_count < %d)", col, col, domain.MaxChannelRetries)
	}
	var list []models.Notification
	err := r.db.
		Where("scheduled_for <= ? AND is_archived = ?", now, false).
		Where(pending("push") + " OR " + pending("sms") + " OR " + pending("email")).
		Order("CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END, scheduled_for ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// ClaimChannel atomically moves one channel pending -> sending. The
// conditional single-statement update is the claim: under concurrent
// dispatchers at most one caller sees claimed = true.
func (r *NotificationRepository) ClaimChannel(id uint, channel string) (bool, error) {
	col, ok := channelColumn[channel]
	if !ok {
		return false, fmt.Errorf("unknown channel %q", channel)
	}
	res := r.db.Model(&models.Notification{}).
		Where("id = ? AND "+col+"_status = ?", id, domain.DeliveryPending).
		Update(col+"_status", domain.DeliverySending)
	return res.RowsAffected > 0, res.Error
}

// MarkChannelSent records a successful gateway hand-off and sets the
// record-level sent_at exactly once, whichever channel succeeds first.
func (r *NotificationRepository) MarkChannelSent(id uint, channel, messageID string, at time.Time) error {
	col, ok := channelColumn[channel]
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}
	err := r.db.Model(&models.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			col + "_status":     domain.DeliverySent,
			col + "_sent_at":    at,
			col + "_message_id": messageID,
			col + "_error":      "",
		}).Error
	if err != nil {
		return err
	}
	return r.db.Model(&models.Notification{}).
		Where("id = ? AND sent_at IS NULL", id).
		Update("sent_at", at).Error
}

// MarkChannelFailed writes a terminal failure for the channel. Only a
// reschedule can revive it.
func (r *NotificationRepository) MarkChannelFailed(id uint, channel, errMsg string, consumeRetry bool) error {
	col, ok := channelColumn[channel]
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}
	updates := map[string]interface{}{
		col + "_status": domain.DeliveryFailed,
		col + "_error":  truncateError(errMsg),
	}
	if consumeRetry {
		updates[col+"_retry_count"] = gorm.Expr(col + "_retry_count + 1")
	}
	return r.db.Model(&models.Notification{}).Where("id = ?", id).Updates(updates).Error
}

// ReleaseChannel returns a claimed channel to pending after a transient
// failure (or a gateway-unavailable condition, which keeps its retry
// budget), making it eligible for the next poll cycle.
func (r *NotificationRepository) ReleaseChannel(id uint, channel, errMsg string, consumeRetry bool) error {
	col, ok := channelColumn[channel]
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}
	updates := map[string]interface{}{
		col + "_status": domain.DeliveryPending,
		col + "_error":  truncateError(errMsg),
	}
	if consumeRetry {
		updates[col+"_retry_count"] = gorm.Expr(col + "_retry_count + 1")
	}
	return r.db.Model(&models.Notification{}).
		Where("id = ? AND "+col+"_status = ?", id, domain.DeliverySending).
		Updates(updates).Error
}

// ReclaimStale releases in-flight claims abandoned by a crashed
// dispatcher so the at-least-once contract survives restarts.
func (r *NotificationRepository) ReclaimStale(before time.Time) (int64, error) {
	var total int64
	for _, col := range channelColumn {
		res := r.db.Model(&models.Notification{}).
			Where(col+"_status = ? AND updated_at < ?", domain.DeliverySending, before).
			Update(col+"_status", domain.DeliveryPending)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}

// MarkDeliveredByMessageID upgrades sent -> delivered from a provider
// delivery report, correlated by the gateway message id.
func (r *NotificationRepository) MarkDeliveredByMessageID(channel, messageID string, at time.Time) (bool, error) {
	col, ok := channelColumn[channel]
	if !ok {
		return false, fmt.Errorf("unknown channel %q", channel)
	}
	res := r.db.Model(&models.Notification{}).
		Where(col+"_message_id = ? AND "+col+"_status = ?", messageID, domain.DeliverySent).
		Updates(map[string]interface{}{
			col + "_status":       domain.DeliveryDelivered,
			col + "_delivered_at": at,
		})
	return res.RowsAffected > 0, res.Error
}

// ArchiveExpired sweeps past-expiry records page by page, keeping lock
// duration and memory bounded regardless of backlog size.
func (r *NotificationRepository) ArchiveExpired(now time.Time, pageSize int) (int64, error) {
	var total int64
	for {
		var ids []uint
		err := r.db.Model(&models.Notification{}).
			Where("expires_at IS NOT NULL AND expires_at <= ? AND is_archived = ?", now, false).
			Limit(pageSize).
			Pluck("id", &ids).Error
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		res := r.db.Model(&models.Notification{}).
			Where("id IN ? AND is_archived = ?", ids, false).
			Updates(map[string]interface{}{"is_archived": true, "archived_at": now})
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
		if len(ids) < pageSize {
			return total, nil
		}
	}
}

func truncateError(msg string) string {
	if len(msg) > 512 {
		return msg[:512]
	}
	return msg
}
