// Package notify fans scored content out to owning users and records
// successful deliveries in the sent ledger.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"trendbot/internal/storage"
	"trendbot/internal/trend"
	"trendbot/pkg/logx"
)

const defaultMaxPerRun = 5

const (
	msgTitle    = "🔥 *New trending content from your tracked accounts*"
	msgNoTrends = "Nothing new is trending from your tracked accounts this cycle."
)

// Ledger is the slice of the store the dispatcher needs.
type Ledger interface {
	RecordSent(ctx context.Context, userID int64, url, accountName string) error
}

type Dispatcher struct {
	sender    Sender
	ledger    Ledger
	log       logx.Logger
	maxPerRun int
}

func NewDispatcher(sender Sender, ledger Ledger, maxPerRun int, log logx.Logger) *Dispatcher {
	if maxPerRun <= 0 {
		maxPerRun = defaultMaxPerRun
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{sender: sender, ledger: ledger, log: log, maxPerRun: maxPerRun}
}

// Dispatch delivers up to maxPerRun assessments to one user and returns the
// number actually recorded in the ledger (not the number attempted).
//
// An empty candidate set still produces a "nothing new" notice so the user
// can tell "pipeline ran, nothing found" from "pipeline did not run".
// A failure on one item never blocks the remaining items.
func (d *Dispatcher) Dispatch(ctx context.Context, userID int64, assessments []trend.Assessment) int {
	if len(assessments) == 0 {
		if err := d.sender.SendText(ctx, userID, msgNoTrends); err != nil {
			d.log.Warn("no-trends notice failed", logx.Int64("user", userID), logx.Err(err))
		}
		return 0
	}

	if err := d.sender.SendText(ctx, userID, msgTitle); err != nil {
		d.log.Warn("title message failed", logx.Int64("user", userID), logx.Err(err))
	}

	batch := assessments
	if len(batch) > d.maxPerRun {
		batch = batch[:d.maxPerRun]
	}

	sent := 0
	for _, a := range batch {
		if err := d.sender.SendText(ctx, userID, formatAssessment(a)); err != nil {
			d.log.Warn("notification send failed",
				logx.Int64("user", userID), logx.String("url", a.Item.URL), logx.Err(err))
			continue
		}
		err := d.ledger.RecordSent(ctx, userID, a.Item.URL, a.Item.Owner)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, storage.ErrAlreadySent):
			// Concurrent run beat us to it; the user got the message twice at
			// worst, the ledger stays consistent.
			d.log.Debug("duplicate ledger insert skipped",
				logx.Int64("user", userID), logx.String("url", a.Item.URL))
		default:
			d.log.Error("ledger insert failed",
				logx.Int64("user", userID), logx.String("url", a.Item.URL), logx.Err(err))
		}
	}

	d.log.Info("notifications dispatched",
		logx.Int64("user", userID), logx.Int("sent", sent), logx.Int("candidates", len(assessments)))
	return sent
}

func formatAssessment(a trend.Assessment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*@%s* — %s trend\n", a.Item.Owner, a.Category)
	fmt.Fprintf(&b, "%s\n", a.Item.URL)
	fmt.Fprintf(&b, "_%s_\n", a.Reason)
	fmt.Fprintf(&b, "👁 %s  ❤️ %s  💬 %s\n",
		humanize.Comma(a.Item.Views), humanize.Comma(a.Item.Likes), humanize.Comma(a.Item.Comments))
	fmt.Fprintf(&b, "Followers: %s", humanize.Comma(a.FollowerCount))
	return b.String()
}
