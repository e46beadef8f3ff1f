package dispatcher

import (
	"context"
	"log"
	"time"

	"chamalink/internal/repository"
)

// Sweeper archives expired notifications on an interval. Expiry is a
// lifecycle concern, not a channel transition: delivery sub-states are
// left untouched and archived records drop out of the due query.
type Sweeper struct {
	repo     *repository.NotificationRepository
	pageSize int
}

func NewSweeper(repo *repository.NotificationRepository, pageSize int) *Sweeper {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Sweeper{repo: repo, pageSize: pageSize}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := s.RunOnce(time.Now()); err != nil {
			log.Printf("[SWEEP] archive expired: %v", err)
		} else if n > 0 {
			log.Printf("[SWEEP] archived %d expired notifications", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) RunOnce(now time.Time) (int64, error) {
	return s.repo.ArchiveExpired(now, s.pageSize)
}
