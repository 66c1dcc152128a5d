package quota

import (
	"fmt"

	"quota-gateway/internal/config"
)

// Raised by adapters when a request cannot be admitted. Carries enough
// context for a clean 429 without exposing store internals.
type ErrQuotaExceeded struct {
	APIType       config.APIType
	UserID        string
	Usage         int64
	Limit         int64
	QueuePosition int64
	EstimatedWait int64 // seconds
}

func (e *ErrQuotaExceeded) Error() string {
	if e.QueuePosition > 0 {
		return fmt.Sprintf("quota exceeded for %s (usage %d/%d), request queued at position %d",
			e.APIType, e.Usage, e.Limit, e.QueuePosition)
	}
	return fmt.Sprintf("quota exceeded for %s (usage %d/%d)", e.APIType, e.Usage, e.Limit)
}
