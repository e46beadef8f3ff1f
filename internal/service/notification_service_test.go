package service

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"chamalink/internal/database"
	"chamalink/internal/domain"
	"chamalink/internal/models"
	"chamalink/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeFeed struct {
	mu    sync.Mutex
	byUID map[uint]int
}

func (f *fakeFeed) BroadcastToUser(userID uint, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byUID == nil {
		f.byUID = map[uint]int{}
	}
	f.byUID[userID]++
}

func (f *fakeFeed) pushes(userID uint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byUID[userID]
}

type serviceFixture struct {
	db    *gorm.DB
	svc   *NotificationService
	users *repository.UserRepository
	feed  *fakeFeed
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	feed := &fakeFeed{}
	users := repository.NewUserRepository(db)
	svc := NewNotificationService(repository.NewNotificationRepository(db), users, feed)
	return &serviceFixture{db: db, svc: svc, users: users, feed: feed}
}

func (f *serviceFixture) seedMember(t *testing.T, phone, role string, active bool) *models.User {
	t.Helper()
	u := &models.User{
		FullName:     "Member " + phone,
		Phone:        phone,
		PasswordHash: "x",
		Role:         role,
		IsActive:     active,
	}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func validInput(recipientID uint) CreateInput {
	return CreateInput{
		RecipientID: recipientID,
		Type:        domain.TypeMeeting,
		Priority:    domain.PriorityHigh,
		Title:       "AGM this Saturday",
		Message:     "Venue: community hall, 9am sharp",
		Channels:    []string{domain.ChannelPush, domain.ChannelInApp},
	}
}

func TestCreate_PersistsAndPushesToFeed(t *testing.T) {
	f := newServiceFixture(t)
	u := f.seedMember(t, "+254733000001", domain.RoleMember, true)

	n, err := f.svc.Create(validInput(u.ID))
	require.NoError(t, err)
	assert.NotZero(t, n.ID)
	assert.Equal(t, domain.DeliveryPending, n.Push.Status)
	assert.True(t, n.InApp)
	assert.Equal(t, 1, f.feed.pushes(u.ID))

	got, err := f.svc.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, "AGM this Saturday", got.Title)
}

func TestCreate_FutureScheduleSkipsFeedPush(t *testing.T) {
	f := newServiceFixture(t)
	u := f.seedMember(t, "+254733000002", domain.RoleMember, true)

	in := validInput(u.ID)
	future := time.Now().Add(time.Hour)
	in.ScheduledFor = &future
	n, err := f.svc.Create(in)
	require.NoError(t, err)
	assert.Equal(t, future.Unix(), n.ScheduledFor.Unix())
	assert.Zero(t, f.feed.pushes(u.ID))
}

func TestCreate_Validation(t *testing.T) {
	f := newServiceFixture(t)
	u := f.seedMember(t, "+254733000003", domain.RoleMember, true)

	tests := []struct {
		name   string
		mutate func(in *CreateInput)
	}{
		{"empty title", func(in *CreateInput) { in.Title = "" }},
		{"title too long", func(in *CreateInput) { in.Title = strings.Repeat("a", domain.TitleMaxLen+1) }},
		{"empty message", func(in *CreateInput) { in.Message = "" }},
		{"message too long", func(in *CreateInput) { in.Message = strings.Repeat("a", domain.MessageMaxLen+1) }},
		{"unknown type", func(in *CreateInput) { in.Type = "gossip" }},
		{"unknown priority", func(in *CreateInput) { in.Priority = "asap" }},
		{"no channels", func(in *CreateInput) { in.Channels = nil }},
		{"unknown channel", func(in *CreateInput) { in.Channels = []string{"fax"} }},
		{"unknown recipient", func(in *CreateInput) { in.RecipientID = 9999 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput(u.ID)
			tt.mutate(&in)
			_, err := f.svc.Create(in)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&models.Notification{}).Count(&count).Error)
	assert.Zero(t, count, "failed creates must not persist records")
}

func TestCreate_DefaultsTypeAndPriority(t *testing.T) {
	f := newServiceFixture(t)
	u := f.seedMember(t, "+254733000004", domain.RoleMember, true)

	in := validInput(u.ID)
	in.Type = ""
	in.Priority = ""
	n, err := f.svc.Create(in)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeInfo, n.Type)
	assert.Equal(t, domain.PriorityNormal, n.Priority)
}

func TestCreateBulk_AllActiveSharesBatchID(t *testing.T) {
	f := newServiceFixture(t)
	for i := 0; i < 5; i++ {
		f.seedMember(t, fmt.Sprintf("+2547331000%02d", i), domain.RoleMember, true)
	}
	f.seedMember(t, "+254733100099", domain.RoleMember, false) // inactive, excluded

	in := validInput(0)
	batchID, count, err := f.svc.CreateBulk(in, RecipientSelector{AllActive: true})
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	require.NotEmpty(t, batchID)

	var records []models.Notification
	require.NoError(t, f.db.Where("batch_id = ?", batchID).Find(&records).Error)
	require.Len(t, records, 5)
	seen := map[uint]bool{}
	for _, n := range records {
		assert.False(t, seen[n.RecipientID], "one record per recipient")
		seen[n.RecipientID] = true
		assert.Equal(t, domain.DeliveryPending, n.Push.Status)
	}
}

func TestCreateBulk_ByRole(t *testing.T) {
	f := newServiceFixture(t)
	f.seedMember(t, "+254733200001", domain.RoleTreasurer, true)
	f.seedMember(t, "+254733200002", domain.RoleMember, true)

	_, count, err := f.svc.CreateBulk(validInput(0), RecipientSelector{Role: domain.RoleTreasurer})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCreateBulk_ZeroRecipientsCreatesNothing(t *testing.T) {
	f := newServiceFixture(t)
	f.seedMember(t, "+254733300001", domain.RoleMember, true)

	_, _, err := f.svc.CreateBulk(validInput(0), RecipientSelector{Role: domain.RoleSecretary})
	assert.ErrorIs(t, err, ErrNoRecipients)

	var count int64
	require.NoError(t, f.db.Model(&models.Notification{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateBulk_EmptySelectorRejected(t *testing.T) {
	f := newServiceFixture(t)
	_, _, err := f.svc.CreateBulk(validInput(0), RecipientSelector{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestReschedule_RevivesFailedRecord(t *testing.T) {
	f := newServiceFixture(t)
	u := f.seedMember(t, "+254733400001", domain.RoleMember, true)

	n, err := f.svc.Create(validInput(u.ID))
	require.NoError(t, err)

	repo := repository.NewNotificationRepository(f.db)
	require.NoError(t, repo.MarkChannelFailed(n.ID, domain.ChannelPush, "unregistered", true))
	require.NoError(t, repo.Archive(n.ID, time.Now()))

	newTime := time.Now().Add(30 * time.Minute)
	got, err := f.svc.Reschedule(n.ID, newTime)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryPending, got.Push.Status)
	assert.Zero(t, got.Push.RetryCount)
	assert.False(t, got.IsArchived)
	assert.Equal(t, 1, got.RescheduledCount)
	require.NotNil(t, got.OriginalScheduledFor)
}
