package dispatcher

import (
	"context"
	"log"
	"sync"
	"time"

	"chamalink/internal/domain"
	"chamalink/internal/models"
	"chamalink/internal/repository"
)

// Gateway interfaces are defined here so the dispatcher can be driven
// with fakes in tests; the service package's FCM/SMS/email gateways
// satisfy them.
type PushGateway interface {
	Available() bool
	SendMany(ctx context.Context, tokens []string, n *models.Notification) []domain.DeliveryOutcome
}

type SMSGateway interface {
	Available() bool
	SendBulk(ctx context.Context, numbers []string, text string) []domain.DeliveryOutcome
}

type EmailGateway interface {
	Available() bool
	SendOne(ctx context.Context, address string, n *models.Notification) domain.DeliveryOutcome
}

type TokenCleaner interface {
	CleanOutcomes(outcomes []domain.DeliveryOutcome)
}

type Config struct {
	Workers         int
	GatewayTimeout  time.Duration
	BatchLimit      int
	StaleClaimAfter time.Duration
}

// Dispatcher finds due notifications, claims them channel by channel
// and drives each claim to a sent or failed sub-state. It is safe to
// run from several processes at once: the per-channel claim in the
// store is what prevents double sends, not anything in here.
type Dispatcher struct {
	repo    *repository.NotificationRepository
	users   *repository.UserRepository
	push    PushGateway
	sms     SMSGateway
	email   EmailGateway
	hygiene TokenCleaner
	cfg     Config
}

func New(repo *repository.NotificationRepository, users *repository.UserRepository,
	push PushGateway, sms SMSGateway, email EmailGateway, hygiene TokenCleaner, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 20 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 200
	}
	return &Dispatcher{
		repo:    repo,
		users:   users,
		push:    push,
		sms:     sms,
		email:   email,
		hygiene: hygiene,
		cfg:     cfg,
	}
}

// Run polls on a fixed interval until the context is cancelled. The
// interval is a deployment knob, not a correctness one.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	log.Printf("[DISPATCH] polling every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := d.RunDueDispatch(ctx); err != nil {
			log.Printf("[DISPATCH] cycle: %v", err)
		} else if n > 0 {
			log.Printf("[DISPATCH] dispatched %d channel sends", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type smsJob struct {
	record *models.Notification
	number string
}

// RunDueDispatch executes one poll cycle. Idempotent and safe to call
// concurrently: every (record, channel) pair is claimed before any
// gateway call. One failing record never aborts the cycle.
func (d *Dispatcher) RunDueDispatch(ctx context.Context) (int, error) {
	now := time.Now()
	if d.cfg.StaleClaimAfter > 0 {
		if n, err := d.repo.ReclaimStale(now.Add(-d.cfg.StaleClaimAfter)); err != nil {
			log.Printf("[DISPATCH] reclaim stale: %v", err)
		} else if n > 0 {
			log.Printf("[DISPATCH] reclaimed %d stale in-flight channels", n)
		}
	}

	due, err := d.repo.DueForDispatch(now, d.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}

	var (
		wg         sync.WaitGroup
		sem        = make(chan struct{}, d.cfg.Workers)
		smsJobs    []smsJob
		dispatched int
	)
	for i := range due {
		rec := due[i]
		for _, ch := range rec.ExternalChannels() {
			st := rec.Delivery(ch)
			if st.Status != domain.DeliveryPending || st.Exhausted() {
				continue
			}
			claimed, err := d.repo.ClaimChannel(rec.ID, ch)
			if err != nil {
				log.Printf("[DISPATCH] claim %d/%s: %v", rec.ID, ch, err)
				continue
			}
			if !claimed {
				// Another dispatcher got here first.
				continue
			}
			dispatched++
			switch ch {
			case domain.ChannelSMS:
				ep, err := d.users.ResolveEndpoints(rec.RecipientID, domain.ChannelSMS)
				if err != nil || ep.Phone == "" {
					d.failNoRetry(rec.ID, domain.ChannelSMS, "no endpoint")
					continue
				}
				r := rec
				smsJobs = append(smsJobs, smsJob{record: &r, number: ep.Phone})
			case domain.ChannelPush:
				r := rec
				wg.Add(1)
				sem <- struct{}{}
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					d.dispatchPush(ctx, &r)
				}()
			case domain.ChannelEmail:
				r := rec
				wg.Add(1)
				sem <- struct{}{}
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					d.dispatchEmail(ctx, &r)
				}()
			}
		}
	}
	wg.Wait()
	d.dispatchSMSJobs(ctx, smsJobs)
	return dispatched, nil
}

func (d *Dispatcher) dispatchPush(ctx context.Context, n *models.Notification) {
	ep, err := d.users.ResolveEndpoints(n.RecipientID, domain.ChannelPush)
	if err != nil || len(ep.DeviceTokens) == 0 {
		d.failNoRetry(n.ID, domain.ChannelPush, "no endpoint")
		return
	}
	if d.push == nil || !d.push.Available() {
		d.releaseNoRetry(n.ID, domain.ChannelPush, "push gateway unavailable")
		return
	}
	cctx, cancel := context.WithTimeout(ctx, d.cfg.GatewayTimeout)
	defer cancel()
	outcomes := d.push.SendMany(cctx, ep.DeviceTokens, n)
	if d.hygiene != nil {
		d.hygiene.CleanOutcomes(outcomes)
	}

	// The channel is sent if any device accepted the message; dead
	// tokens were already handed to hygiene above.
	var messageID, lastErr string
	success := false
	for _, out := range outcomes {
		if out.Success {
			success = true
			if messageID == "" {
				messageID = out.MessageID
			}
		} else if out.Error != "" {
			lastErr = out.Error
		}
	}
	if success {
		if err := d.repo.MarkChannelSent(n.ID, domain.ChannelPush, messageID, time.Now()); err != nil {
			log.Printf("[DISPATCH] mark push sent %d: %v", n.ID, err)
		}
		return
	}
	if lastErr == "" {
		lastErr = "no outcome from provider"
	}
	d.applyFailure(n, domain.ChannelPush, lastErr, allPermanent(outcomes))
}

func (d *Dispatcher) dispatchEmail(ctx context.Context, n *models.Notification) {
	ep, err := d.users.ResolveEndpoints(n.RecipientID, domain.ChannelEmail)
	if err != nil || ep.Email == "" {
		d.failNoRetry(n.ID, domain.ChannelEmail, "no endpoint")
		return
	}
	if d.email == nil || !d.email.Available() {
		d.releaseNoRetry(n.ID, domain.ChannelEmail, "email gateway unavailable")
		return
	}
	cctx, cancel := context.WithTimeout(ctx, d.cfg.GatewayTimeout)
	defer cancel()
	out := d.email.SendOne(cctx, ep.Email, n)
	if out.Success {
		if err := d.repo.MarkChannelSent(n.ID, domain.ChannelEmail, out.MessageID, time.Now()); err != nil {
			log.Printf("[DISPATCH] mark email sent %d: %v", n.ID, err)
		}
		return
	}
	d.applyFailure(n, domain.ChannelEmail, out.Error, out.Permanent)
}

// dispatchSMSJobs aggregates the cycle's claimed sms channels into
// bulk provider calls, grouped by message text so bulk fan-out
// siblings travel in one request. Outcomes map back per record.
func (d *Dispatcher) dispatchSMSJobs(ctx context.Context, jobs []smsJob) {
	if len(jobs) == 0 {
		return
	}
	if d.sms == nil || !d.sms.Available() {
		for _, j := range jobs {
			d.releaseNoRetry(j.record.ID, domain.ChannelSMS, "sms gateway unavailable")
		}
		return
	}
	groups := make(map[string][]smsJob)
	for _, j := range jobs {
		key := smsText(j.record)
		groups[key] = append(groups[key], j)
	}
	for text, group := range groups {
		numbers := make([]string, 0, len(group))
		for _, j := range group {
			numbers = append(numbers, j.number)
		}
		cctx, cancel := context.WithTimeout(ctx, d.cfg.GatewayTimeout)
		outcomes := d.sms.SendBulk(cctx, numbers, text)
		cancel()

		byNumber := make(map[string]domain.DeliveryOutcome, len(outcomes))
		for _, out := range outcomes {
			byNumber[out.Endpoint] = out
		}
		for _, j := range group {
			out, ok := byNumber[j.number]
			if !ok {
				d.applyFailure(j.record, domain.ChannelSMS, "no outcome from provider", false)
				continue
			}
			if out.Success {
				if err := d.repo.MarkChannelSent(j.record.ID, domain.ChannelSMS, out.MessageID, time.Now()); err != nil {
					log.Printf("[DISPATCH] mark sms sent %d: %v", j.record.ID, err)
				}
				continue
			}
			d.applyFailure(j.record, domain.ChannelSMS, out.Error, out.Permanent)
		}
	}
}

// applyFailure routes a gateway failure to its terminal or retryable
// form. Permanent failures and exhausted retry budgets end in failed;
// transient failures go back to pending for the next cycle.
func (d *Dispatcher) applyFailure(n *models.Notification, channel, errMsg string, permanent bool) {
	st := n.Delivery(channel)
	if permanent || st.RetryCount+1 >= domain.MaxChannelRetries {
		if err := d.repo.MarkChannelFailed(n.ID, channel, errMsg, true); err != nil {
			log.Printf("[DISPATCH] mark %s failed %d: %v", channel, n.ID, err)
		}
		return
	}
	if err := d.repo.ReleaseChannel(n.ID, channel, errMsg, true); err != nil {
		log.Printf("[DISPATCH] release %s %d: %v", channel, n.ID, err)
	}
}

// failNoRetry marks a channel failed without consuming retry budget
// (missing endpoint: retrying cannot help, rescheduling might).
func (d *Dispatcher) failNoRetry(id uint, channel, errMsg string) {
	if err := d.repo.MarkChannelFailed(id, channel, errMsg, false); err != nil {
		log.Printf("[DISPATCH] mark %s failed %d: %v", channel, id, err)
	}
}

// releaseNoRetry puts a claimed channel back to pending without
// consuming retry budget (gateway not configured; surfaced to
// operators via the health check, not burned against the cap).
func (d *Dispatcher) releaseNoRetry(id uint, channel, errMsg string) {
	if err := d.repo.ReleaseChannel(id, channel, errMsg, false); err != nil {
		log.Printf("[DISPATCH] release %s %d: %v", channel, id, err)
	}
}

func allPermanent(outcomes []domain.DeliveryOutcome) bool {
	if len(outcomes) == 0 {
		return false
	}
	for _, out := range outcomes {
		if out.Success || !out.Permanent {
			return false
		}
	}
	return true
}

func smsText(n *models.Notification) string {
	return n.Title + ": " + n.Message
}
