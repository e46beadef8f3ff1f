package domain

const (
	RoleAdmin     = "ADMIN"
	RoleTreasurer = "TREASURER"
	RoleSecretary = "SECRETARY"
	RoleMember    = "MEMBER"
)

// OfficerRoles may create notifications for other members.
var OfficerRoles = []string{RoleAdmin, RoleTreasurer, RoleSecretary}

// Delivery channels. InApp has no gateway leg: it is considered
// delivered the moment the record is persisted.
const (
	ChannelPush  = "push"
	ChannelSMS   = "sms"
	ChannelEmail = "email"
	ChannelInApp = "in_app"
)

// Per-channel delivery statuses. Sending is the in-flight claim marker:
// a channel moves pending -> sending exactly once per attempt, which is
// what keeps two concurrent dispatchers from double-sending.
const (
	DeliveryPending   = "pending"
	DeliverySending   = "sending"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Derived record-level statuses, never stored.
const (
	OverallPending   = "pending"
	OverallSent      = "sent"
	OverallPartial   = "partial"
	OverallDelivered = "delivered"
)

const (
	TypeInfo     = "info"
	TypeWarning  = "warning"
	TypeSuccess  = "success"
	TypeError    = "error"
	TypeMeeting  = "meeting"
	TypePayment  = "payment"
	TypeSystem   = "system"
	TypeReminder = "reminder"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const (
	TitleMaxLen   = 100
	MessageMaxLen = 500
)

// MaxChannelRetries caps automatic attempts per channel. Once a channel
// has failed this many times it stays failed until an explicit reschedule.
const MaxChannelRetries = 3

func ValidType(t string) bool {
	switch t {
	case TypeInfo, TypeWarning, TypeSuccess, TypeError, TypeMeeting, TypePayment, TypeSystem, TypeReminder:
		return true
	}
	return false
}

func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func ValidChannel(c string) bool {
	switch c {
	case ChannelPush, ChannelSMS, ChannelEmail, ChannelInApp:
		return true
	}
	return false
}
