package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chamalink/internal/database"
	"chamalink/internal/domain"
	"chamalink/internal/models"
	"chamalink/internal/repository"
	"chamalink/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakePush struct {
	mu        sync.Mutex
	available bool
	calls     [][]string
	// outcome decides the result per token; nil means accept everything.
	outcome func(token string) domain.DeliveryOutcome
}

func (f *fakePush) Available() bool { return f.available }

func (f *fakePush) SendMany(_ context.Context, tokens []string, _ *models.Notification) []domain.DeliveryOutcome {
	f.mu.Lock()
	f.calls = append(f.calls, tokens)
	f.mu.Unlock()
	outs := make([]domain.DeliveryOutcome, 0, len(tokens))
	for i, tok := range tokens {
		if f.outcome != nil {
			outs = append(outs, f.outcome(tok))
			continue
		}
		outs = append(outs, domain.DeliveryOutcome{
			Channel:   domain.ChannelPush,
			Endpoint:  tok,
			Success:   true,
			MessageID: fmt.Sprintf("fcm-%d", i),
		})
	}
	return outs
}

func (f *fakePush) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type smsCall struct {
	numbers []string
	text    string
}

type fakeSMS struct {
	mu        sync.Mutex
	available bool
	calls     []smsCall
	outcome   func(number string) domain.DeliveryOutcome
}

func (f *fakeSMS) Available() bool { return f.available }

func (f *fakeSMS) SendBulk(_ context.Context, numbers []string, text string) []domain.DeliveryOutcome {
	f.mu.Lock()
	f.calls = append(f.calls, smsCall{numbers: numbers, text: text})
	f.mu.Unlock()
	outs := make([]domain.DeliveryOutcome, 0, len(numbers))
	for i, num := range numbers {
		if f.outcome != nil {
			outs = append(outs, f.outcome(num))
			continue
		}
		outs = append(outs, domain.DeliveryOutcome{
			Channel:   domain.ChannelSMS,
			Endpoint:  num,
			Success:   true,
			MessageID: fmt.Sprintf("ATXid_%d", i),
		})
	}
	return outs
}

func (f *fakeSMS) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeEmail struct {
	mu        sync.Mutex
	available bool
	calls     []string
	outcome   func(address string) domain.DeliveryOutcome
}

func (f *fakeEmail) Available() bool { return f.available }

func (f *fakeEmail) SendOne(_ context.Context, address string, _ *models.Notification) domain.DeliveryOutcome {
	f.mu.Lock()
	f.calls = append(f.calls, address)
	f.mu.Unlock()
	if f.outcome != nil {
		return f.outcome(address)
	}
	return domain.DeliveryOutcome{
		Channel:   domain.ChannelEmail,
		Endpoint:  address,
		Success:   true,
		MessageID: "pm-1",
	}
}

type fixture struct {
	db     *gorm.DB
	repo   *repository.NotificationRepository
	users  *repository.UserRepository
	tokens *repository.DeviceTokenRepository
	push   *fakePush
	sms    *fakeSMS
	email  *fakeEmail
	disp   *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	f := &fixture{
		db:     db,
		repo:   repository.NewNotificationRepository(db),
		users:  repository.NewUserRepository(db),
		tokens: repository.NewDeviceTokenRepository(db),
		push:   &fakePush{available: true},
		sms:    &fakeSMS{available: true},
		email:  &fakeEmail{available: true},
	}
	f.disp = New(f.repo, f.users, f.push, f.sms, f.email,
		service.NewTokenHygiene(f.tokens), Config{
			Workers:         2,
			GatewayTimeout:  time.Second,
			BatchLimit:      50,
			StaleClaimAfter: 10 * time.Minute,
		})
	return f
}

func (f *fixture) seedMember(t *testing.T, phone string, email *string) *models.User {
	t.Helper()
	u := &models.User{
		FullName:     "Member " + phone,
		Phone:        phone,
		Email:        email,
		PasswordHash: "x",
		Role:         domain.RoleMember,
		IsActive:     true,
	}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func (f *fixture) seedDue(t *testing.T, recipientID uint, title string, channels ...string) *models.Notification {
	t.Helper()
	n := &models.Notification{
		RecipientID:  recipientID,
		Type:         domain.TypeReminder,
		Priority:     domain.PriorityNormal,
		Title:        title,
		Message:      "Monthly contribution is due",
		ScheduledFor: time.Now().Add(-time.Minute),
	}
	n.RequestChannels(channels)
	require.NoError(t, f.db.Create(n).Error)
	return n
}

func (f *fixture) reload(t *testing.T, id uint) *models.Notification {
	t.Helper()
	n, err := f.repo.GetByID(id)
	require.NoError(t, err)
	return n
}

func strPtr(s string) *string { return &s }

// One member with two device tokens, one of them dead, plus a phone.
// The record goes out on both channels, the dead token is dropped and
// the surviving channels land in sent.
func TestRunDueDispatch_PushAndSMSWithDeadToken(t *testing.T) {
	f := newFixture(t)
	u := f.seedMember(t, "+254744000001", nil)
	require.NoError(t, f.tokens.Register(u.ID, "tok-good", "android"))
	require.NoError(t, f.tokens.Register(u.ID, "tok-dead", "android"))

	f.push.outcome = func(token string) domain.DeliveryOutcome {
		if token == "tok-dead" {
			return domain.DeliveryOutcome{
				Channel:   domain.ChannelPush,
				Endpoint:  token,
				ErrorCode: "UNREGISTERED",
				Error:     "requested entity was not found",
				Permanent: true,
			}
		}
		return domain.DeliveryOutcome{
			Channel:   domain.ChannelPush,
			Endpoint:  token,
			Success:   true,
			MessageID: "fcm-ok",
		}
	}

	n := f.seedDue(t, u.ID, "Contribution due", domain.ChannelPush, domain.ChannelSMS)

	count, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got := f.reload(t, n.ID)
	assert.Equal(t, domain.DeliverySent, got.Push.Status)
	assert.Equal(t, "fcm-ok", got.Push.MessageID)
	assert.Equal(t, domain.DeliverySent, got.SMS.Status)
	assert.Equal(t, domain.OverallSent, got.OverallDeliveryStatus())
	require.NotNil(t, got.SentAt)

	tokens, err := f.tokens.ListTokens(u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-good"}, tokens, "dead token must be removed, live one kept")
}

func TestRunDueDispatch_SecondRunSendsNothing(t *testing.T) {
	f := newFixture(t)
	u := f.seedMember(t, "+254744000002", nil)
	require.NoError(t, f.tokens.Register(u.ID, "tok-a", "android"))
	f.seedDue(t, u.ID, "Hello", domain.ChannelPush)

	count, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, 1, f.push.callCount(), "a sent channel must never hit the gateway again")
}

func TestRunDueDispatch_NoEndpointFailsWithoutRetry(t *testing.T) {
	f := newFixture(t)
	u := f.seedMember(t, "+254744000003", nil) // no device tokens, no email
	n := f.seedDue(t, u.ID, "Hello", domain.ChannelPush, domain.ChannelEmail)

	_, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)

	got := f.reload(t, n.ID)
	for _, d := range []*models.ChannelDelivery{&got.Push, &got.Email} {
		assert.Equal(t, domain.DeliveryFailed, d.Status)
		assert.Equal(t, "no endpoint", d.Error)
		assert.Zero(t, d.RetryCount, "missing endpoint is not a delivery attempt")
	}
	assert.Zero(t, f.push.callCount())

	// Terminal until someone registers an endpoint and reschedules.
	count, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRunDueDispatch_UnavailableGatewayReleasesClaim(t *testing.T) {
	f := newFixture(t)
	f.push.available = false
	u := f.seedMember(t, "+254744000004", nil)
	require.NoError(t, f.tokens.Register(u.ID, "tok-a", "android"))
	n := f.seedDue(t, u.ID, "Hello", domain.ChannelPush)

	_, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)

	got := f.reload(t, n.ID)
	assert.Equal(t, domain.DeliveryPending, got.Push.Status)
	assert.Zero(t, got.Push.RetryCount, "an unconfigured gateway must not burn retry budget")
	assert.Zero(t, f.push.callCount())

	// Gateway comes back: the next cycle picks the claim up again.
	f.push.available = true
	count, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, domain.DeliverySent, f.reload(t, n.ID).Push.Status)
}

func TestRunDueDispatch_TransientFailureRetriesUntilCap(t *testing.T) {
	f := newFixture(t)
	u := f.seedMember(t, "+254744000005", nil)
	f.sms.outcome = func(number string) domain.DeliveryOutcome {
		return domain.DeliveryOutcome{
			Channel:  domain.ChannelSMS,
			Endpoint: number,
			Error:    "gateway timeout",
		}
	}
	n := f.seedDue(t, u.ID, "Hello", domain.ChannelSMS)

	for attempt := 1; attempt < domain.MaxChannelRetries; attempt++ {
		_, err := f.disp.RunDueDispatch(context.Background())
		require.NoError(t, err)
		got := f.reload(t, n.ID)
		assert.Equal(t, domain.DeliveryPending, got.SMS.Status, "attempt %d stays retryable", attempt)
		assert.Equal(t, attempt, got.SMS.RetryCount)
	}

	_, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)
	got := f.reload(t, n.ID)
	assert.Equal(t, domain.DeliveryFailed, got.SMS.Status)
	assert.Equal(t, domain.MaxChannelRetries, got.SMS.RetryCount)

	count, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, domain.MaxChannelRetries, f.sms.callCount())
}

func TestRunDueDispatch_PermanentFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	u := f.seedMember(t, "+254744000006", strPtr("member6@example.co.ke"))
	f.email.outcome = func(address string) domain.DeliveryOutcome {
		return domain.DeliveryOutcome{
			Channel:   domain.ChannelEmail,
			Endpoint:  address,
			ErrorCode: "406",
			Error:     "recipient is inactive",
			Permanent: true,
		}
	}
	n := f.seedDue(t, u.ID, "Hello", domain.ChannelEmail)

	_, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)
	got := f.reload(t, n.ID)
	assert.Equal(t, domain.DeliveryFailed, got.Email.Status)

	count, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRunDueDispatch_GroupsSMSSiblingsIntoOneBulkCall(t *testing.T) {
	f := newFixture(t)
	var siblings []*models.Notification
	for i := 0; i < 3; i++ {
		u := f.seedMember(t, fmt.Sprintf("+2547441000%02d", i), nil)
		siblings = append(siblings, f.seedDue(t, u.ID, "AGM notice", domain.ChannelSMS))
	}
	other := f.seedMember(t, "+254744100099", nil)
	loner := f.seedDue(t, other.ID, "Loan approved", domain.ChannelSMS)

	count, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	require.Equal(t, 2, f.sms.callCount(), "same text travels in one bulk call")
	sizes := map[int]bool{}
	for _, call := range f.sms.calls {
		sizes[len(call.numbers)] = true
	}
	assert.True(t, sizes[3] && sizes[1])

	for _, n := range siblings {
		assert.Equal(t, domain.DeliverySent, f.reload(t, n.ID).SMS.Status)
	}
	assert.Equal(t, domain.DeliverySent, f.reload(t, loner.ID).SMS.Status)
}

func TestRunDueDispatch_PartialMulticastSuccessIsSent(t *testing.T) {
	f := newFixture(t)
	u := f.seedMember(t, "+254744000007", nil)
	require.NoError(t, f.tokens.Register(u.ID, "tok-slow", "android"))
	require.NoError(t, f.tokens.Register(u.ID, "tok-ok", "ios"))
	f.push.outcome = func(token string) domain.DeliveryOutcome {
		if token == "tok-ok" {
			return domain.DeliveryOutcome{Channel: domain.ChannelPush, Endpoint: token, Success: true, MessageID: "fcm-7"}
		}
		return domain.DeliveryOutcome{Channel: domain.ChannelPush, Endpoint: token, Error: "deadline exceeded"}
	}
	n := f.seedDue(t, u.ID, "Hello", domain.ChannelPush)

	_, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)

	got := f.reload(t, n.ID)
	assert.Equal(t, domain.DeliverySent, got.Push.Status)
	assert.Equal(t, "fcm-7", got.Push.MessageID)

	// The transient token stays registered.
	tokens, err := f.tokens.ListTokens(u.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-slow", "tok-ok"}, tokens)
}

func TestRunDueDispatch_ReclaimsAbandonedClaims(t *testing.T) {
	f := newFixture(t)
	u := f.seedMember(t, "+254744000008", nil)
	require.NoError(t, f.tokens.Register(u.ID, "tok-a", "android"))
	n := f.seedDue(t, u.ID, "Hello", domain.ChannelPush)

	// A dispatcher claimed the channel and died.
	claimed, err := f.repo.ClaimChannel(n.ID, domain.ChannelPush)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, f.db.Exec("UPDATE notifications SET updated_at = ? WHERE id = ?",
		time.Now().Add(-time.Hour), n.ID).Error)

	count, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, domain.DeliverySent, f.reload(t, n.ID).Push.Status)
}

func TestSweeper_ArchivesExpired(t *testing.T) {
	f := newFixture(t)
	u := f.seedMember(t, "+254744000009", nil)
	expired := f.seedDue(t, u.ID, "Old news", domain.ChannelSMS)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, f.db.Model(&models.Notification{}).
		Where("id = ?", expired.ID).Update("expires_at", past).Error)
	fresh := f.seedDue(t, u.ID, "Current", domain.ChannelSMS)

	sweeper := NewSweeper(f.repo, 10)
	count, err := sweeper.RunOnce(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	assert.True(t, f.reload(t, expired.ID).IsArchived)
	assert.False(t, f.reload(t, fresh.ID).IsArchived)

	// Archived records exit the due set even with a pending channel.
	dispatched, err := f.disp.RunDueDispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, domain.DeliveryPending, f.reload(t, expired.ID).SMS.Status)
}
