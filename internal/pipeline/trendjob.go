// Package pipeline orchestrates one trend-monitoring cycle:
// load tracked accounts, fetch, score, dedup, dispatch, housekeeping.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"trendbot/internal/insta"
	"trendbot/internal/storage"
	"trendbot/internal/trend"
	"trendbot/pkg/logx"
)

const defaultRetention = 30 * 24 * time.Hour

// Store is the slice of persistence the trend job consumes.
type Store interface {
	ListTrackedAccounts(ctx context.Context) ([]storage.TrackedAccount, error)
	SentURLs(ctx context.Context, userID int64) (map[string]struct{}, error)
	PurgeSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Fetcher abstracts the retrying activity fetcher.
type Fetcher interface {
	FetchAccount(ctx context.Context, handle string) (insta.AccountInfo, []insta.ActivityItem, error)
	Invalidate()
}

// Dispatcher abstracts per-user delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID int64, assessments []trend.Assessment) int
}

type TrendJobConfig struct {
	Retention time.Duration // ledger retention window
}

type TrendJob struct {
	store      Store
	fetcher    Fetcher
	scorer     *trend.Scorer
	dispatcher Dispatcher
	cfg        TrendJobConfig
	log        logx.Logger
}

func NewTrendJob(store Store, fetcher Fetcher, scorer *trend.Scorer, dispatcher Dispatcher, cfg TrendJobConfig, log logx.Logger) *TrendJob {
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TrendJob{store: store, fetcher: fetcher, scorer: scorer, dispatcher: dispatcher, cfg: cfg, log: log}
}

// Run executes one full cycle. A failure on one account or owner is logged
// and skipped; only infrastructure failures (store unreachable) abort the run.
func (j *TrendJob) Run(ctx context.Context) error {
	now := time.Now()

	// Housekeeping first so the unsent filter never matches stale rows.
	if n, err := j.store.PurgeSentBefore(ctx, now.Add(-j.cfg.Retention)); err != nil {
		j.log.Warn("ledger purge failed", logx.Err(err))
	} else if n > 0 {
		j.log.Info("ledger purged", logx.Int64("removed", n))
	}

	// Drop the previous cycle's cached activity; within this run the cache
	// still dedupes accounts tracked by more than one owner.
	j.fetcher.Invalidate()

	accounts, err := j.store.ListTrackedAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list tracked accounts: %w", err)
	}
	if len(accounts) == 0 {
		j.log.Info("no tracked accounts")
		return nil
	}

	owners, byOwner := groupByOwner(accounts)
	j.log.Info("trend cycle started",
		logx.Int("accounts", len(accounts)), logx.Int("owners", len(owners)))

	for _, owner := range owners {
		j.runForOwner(ctx, owner, byOwner[owner], now)
	}

	j.log.Info("trend cycle completed", logx.Duration("took", time.Since(now)))
	return nil
}

func (j *TrendJob) runForOwner(ctx context.Context, owner int64, accounts []storage.TrackedAccount, now time.Time) {
	var candidates []trend.Assessment
	for _, acct := range accounts {
		info, items, err := j.fetcher.FetchAccount(ctx, acct.Handle)
		if err != nil {
			j.logFetchFailure(acct.Handle, err)
			continue
		}
		candidates = append(candidates, j.scorer.Score(items, info, now)...)
	}

	// Per-account results are individually sorted; merge them back into one
	// engagement-ordered list before capping.
	sort.SliceStable(candidates, func(i, k int) bool {
		return candidates[i].EngagementRate > candidates[k].EngagementRate
	})

	sent, err := j.store.SentURLs(ctx, owner)
	if err != nil {
		// Without the ledger we can't guarantee at-most-once; skip this
		// owner for the cycle rather than risk double-sending.
		j.log.Error("sent-ledger lookup failed; owner skipped", logx.Int64("user", owner), logx.Err(err))
		return
	}

	unsent := FilterUnsent(sent, candidates)
	j.dispatcher.Dispatch(ctx, owner, unsent)
}

func (j *TrendJob) logFetchFailure(handle string, err error) {
	switch insta.KindOf(err) {
	case insta.KindNoContent:
		j.log.Debug("account has no recent activity", logx.String("handle", handle))
	case insta.KindNotFound, insta.KindForbidden:
		j.log.Warn("account skipped", logx.String("handle", handle), logx.String("kind", insta.KindOf(err).String()))
	default:
		j.log.Warn("account fetch failed", logx.String("handle", handle), logx.Err(err))
	}
}

// FilterUnsent drops candidates already recorded for the user, preserving
// order. Semantically equivalent to a WasSent check per candidate.
func FilterUnsent(sent map[string]struct{}, candidates []trend.Assessment) []trend.Assessment {
	if len(sent) == 0 {
		return candidates
	}
	out := make([]trend.Assessment, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := sent[c.Item.URL]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

// groupByOwner buckets accounts per owning user, keeping both the owner
// order and the per-owner account order as loaded from the store.
func groupByOwner(accounts []storage.TrackedAccount) ([]int64, map[int64][]storage.TrackedAccount) {
	var owners []int64
	byOwner := map[int64][]storage.TrackedAccount{}
	for _, a := range accounts {
		if _, ok := byOwner[a.OwnerID]; !ok {
			owners = append(owners, a.OwnerID)
		}
		byOwner[a.OwnerID] = append(byOwner[a.OwnerID], a)
	}
	return owners, byOwner
}
