package pipeline

import (
	"context"
	"fmt"

	"trendbot/internal/insta"
	"trendbot/internal/notify"
	"trendbot/pkg/logx"
)

// BalanceJob periodically checks the upstream API key balance and alerts the
// admin chat when it drops below the configured floor.
type BalanceJob struct {
	client     insta.Client
	sender     notify.Sender
	adminChat  int64
	alertFloor float64
	log        logx.Logger

	// alerted suppresses repeat alerts until the balance recovers.
	alerted bool
}

func NewBalanceJob(client insta.Client, sender notify.Sender, adminChat int64, alertFloor float64, log logx.Logger) *BalanceJob {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &BalanceJob{client: client, sender: sender, adminChat: adminChat, alertFloor: alertFloor, log: log}
}

func (j *BalanceJob) Run(ctx context.Context) error {
	b, err := j.client.Balance(ctx)
	if err != nil {
		return fmt.Errorf("balance check: %w", err)
	}
	j.log.Info("upstream balance", logx.Float64("balance", b.Balance))

	if j.alertFloor <= 0 || j.adminChat == 0 {
		return nil
	}
	if b.Balance >= j.alertFloor {
		j.alerted = false
		return nil
	}
	if j.alerted {
		return nil
	}
	msg := fmt.Sprintf("⚠️ Upstream API balance is low: %.2f (floor %.2f)", b.Balance, j.alertFloor)
	if err := j.sender.SendText(ctx, j.adminChat, msg); err != nil {
		return fmt.Errorf("balance alert: %w", err)
	}
	j.alerted = true
	return nil
}
