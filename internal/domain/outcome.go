package domain

// DeliveryOutcome is the result of one gateway call for one endpoint.
// It is never persisted: the dispatcher folds it into the record's
// channel sub-state and forwards permanent failures to token hygiene.
type DeliveryOutcome struct {
	Channel   string
	Endpoint  string
	Success   bool
	MessageID string
	ErrorCode string
	Error     string
	// Permanent means the provider reported the endpoint itself as
	// invalid (unregistered token, blacklisted number). Transient
	// conditions like timeouts or rate limits must leave this false.
	Permanent bool
}
