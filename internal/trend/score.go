// Package trend scores fetched activity for trending status.
//
// Scoring is pure: metrics in, assessments out, no I/O. The only
// non-determinism is the reach multiplier injected into the justification
// text, drawn from a fixed range.
package trend

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"trendbot/internal/insta"
)

// Category is the display label for how strongly an item is trending.
// Ordered: Low < Medium < High < UltraTrend.
type Category int

const (
	Low Category = iota
	Medium
	High
	UltraTrend
)

func (c Category) String() string {
	switch c {
	case UltraTrend:
		return "UltraTrend"
	case High:
		return "High"
	case Medium:
		return "Medium"
	default:
		return "Low"
	}
}

// Point weights for the category score. The thresholds they pair with live
// in Thresholds so they can be tuned without touching the algorithm.
const (
	pointsTempoHigh   = 3
	pointsTempoMedium = 2
	pointsExceeds     = 2
	pointsLikeRate    = 1
	pointsCommentRate = 1
	pointsShareRate   = 1
	pointsFresh       = 1

	scoreUltraTrend = 8
	scoreHigh       = 6
	scoreMedium     = 3
)

// Reach multiplier range for the justification text. Intentionally random;
// tests assert the range, not a fixed value.
const (
	ReasonMultiplierMin = 2
	ReasonMultiplierMax = 5
)

// Thresholds holds every tunable constant of the scorer.
type Thresholds struct {
	TempoHigh     float64       // views/followers ratio worth +3
	TempoMedium   float64       // views/followers ratio worth +2
	LikeRate      float64       // likes/views worth +1
	CommentRate   float64       // comments/views worth +1
	ShareRate     float64       // shares/views worth +1
	FreshWindow   time.Duration // publish age worth +1
	SelectionRate float64       // engagement gate for selection
	MaxItemAge    time.Duration // older items are not scored at all
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		TempoHigh:     3.0,
		TempoMedium:   2.0,
		LikeRate:      0.10,
		CommentRate:   0.01,
		ShareRate:     0.02,
		FreshWindow:   24 * time.Hour,
		SelectionRate: 0.05,
		MaxItemAge:    14 * 24 * time.Hour,
	}
}

func (t Thresholds) Validate() error {
	if t.TempoHigh <= 0 || t.TempoMedium <= 0 || t.LikeRate <= 0 ||
		t.CommentRate <= 0 || t.ShareRate <= 0 || t.SelectionRate <= 0 {
		return fmt.Errorf("trend: all rate thresholds must be > 0")
	}
	if t.TempoHigh < t.TempoMedium {
		return fmt.Errorf("trend: TempoHigh must be >= TempoMedium")
	}
	if t.FreshWindow <= 0 || t.MaxItemAge <= 0 {
		return fmt.Errorf("trend: windows must be > 0")
	}
	return nil
}

// Assessment is the derived, in-memory scoring result for one item.
type Assessment struct {
	Item             insta.ActivityItem
	FollowerCount    int64
	EngagementRate   float64
	ExceedsFollowers bool
	Score            int
	Category         Category
	Reason           string
}

// Scorer applies a threshold set. Safe for concurrent use.
type Scorer struct {
	mu  sync.Mutex
	th  Thresholds
	rng *rand.Rand
}

func NewScorer(th Thresholds) *Scorer {
	return &Scorer{
		th:  th,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetThresholds swaps the threshold set (config hot-reload).
func (s *Scorer) SetThresholds(th Thresholds) {
	s.mu.Lock()
	s.th = th
	s.mu.Unlock()
}

// Score assesses items against the account metadata and returns only the
// items selected as trending, ordered by descending engagement rate.
//
// Selection (engagement above the gate OR views exceeding followers) is
// independent of the category score; the category exists for display only.
func (s *Scorer) Score(items []insta.ActivityItem, acct insta.AccountInfo, now time.Time) []Assessment {
	s.mu.Lock()
	defer s.mu.Unlock()
	th := s.th
	rng := s.rng
	out := make([]Assessment, 0, len(items))

	for _, it := range items {
		// Eligibility: unplayable or stale items are excluded entirely,
		// not scored as Low.
		if it.Views <= 0 {
			continue
		}
		if now.Sub(it.PostedAt) > th.MaxItemAge {
			continue
		}

		a := assess(it, acct, th, now)
		if !a.selected(th) {
			continue
		}
		a.Reason = buildReason(a, rng)
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EngagementRate > out[j].EngagementRate
	})
	return out
}

func assess(it insta.ActivityItem, acct insta.AccountInfo, th Thresholds, now time.Time) Assessment {
	views := float64(it.Views)
	followers := acct.FollowerCount
	if followers < 1 {
		followers = 1
	}

	a := Assessment{
		Item:             it,
		FollowerCount:    acct.FollowerCount,
		EngagementRate:   float64(it.Likes+it.Comments) / views,
		ExceedsFollowers: it.Views > acct.FollowerCount,
	}

	tempo := views / float64(followers)
	switch {
	case tempo > th.TempoHigh:
		a.Score += pointsTempoHigh
	case tempo > th.TempoMedium:
		a.Score += pointsTempoMedium
	}
	if a.ExceedsFollowers {
		a.Score += pointsExceeds
	}
	if float64(it.Likes)/views > th.LikeRate {
		a.Score += pointsLikeRate
	}
	if float64(it.Comments)/views > th.CommentRate {
		a.Score += pointsCommentRate
	}
	if float64(it.Shares)/views > th.ShareRate {
		a.Score += pointsShareRate
	}
	if age := now.Sub(it.PostedAt); age >= 0 && age <= th.FreshWindow {
		a.Score += pointsFresh
	}

	switch {
	case a.Score >= scoreUltraTrend:
		a.Category = UltraTrend
	case a.Score >= scoreHigh:
		a.Category = High
	case a.Score >= scoreMedium:
		a.Category = Medium
	default:
		a.Category = Low
	}
	return a
}

func (a Assessment) selected(th Thresholds) bool {
	return a.EngagementRate > th.SelectionRate || a.ExceedsFollowers
}

// buildReason renders the justification. Deterministic for a given
// assessment except for the projected-reach multiplier.
func buildReason(a Assessment, rng *rand.Rand) string {
	var parts []string
	if a.ExceedsFollowers {
		parts = append(parts, fmt.Sprintf("views exceed the follower base (%d vs %d)", a.Item.Views, a.FollowerCount))
	}
	if a.EngagementRate > 0 {
		parts = append(parts, fmt.Sprintf("engagement rate %.1f%%", a.EngagementRate*100))
	}
	if len(parts) == 0 {
		parts = append(parts, "audience activity is picking up")
	}

	mult := ReasonMultiplierMin + rng.Intn(ReasonMultiplierMax-ReasonMultiplierMin+1)
	parts = append(parts, fmt.Sprintf("similar posts typically see x%d reach within days", mult))
	return strings.Join(parts, "; ")
}
