package insta

import (
	"context"
	"encoding/json"
	"time"

	"trendbot/internal/cache"
	"trendbot/pkg/logx"
)

const defaultClipLimit = 10

// retryBackoff is the fixed wait before the single retry of a transient
// upstream failure. Bounded policy: exactly 0 or 1 retry per call.
const retryBackoff = 1 * time.Second

// Fetcher wraps the upstream client with the activity cache and the
// bounded-retry policy.
//
// The cache holds normalized activity per (kind, key) with no TTL; the
// pipeline invalidates between runs so each cycle sees fresh data while
// repeated lookups inside one operational window stay local.
type Fetcher struct {
	client  Client
	cache   *cache.Cache
	log     logx.Logger
	limit   int
	backoff time.Duration
}

func NewFetcher(client Client, c *cache.Cache, limit int, log logx.Logger) *Fetcher {
	if limit <= 0 {
		limit = defaultClipLimit
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{client: client, cache: c, log: log, limit: limit, backoff: retryBackoff}
}

// FetchAccount returns the account metadata and its recent normalized
// activity. Failure kinds:
//   - KindNotFound / KindForbidden: precondition, not retried
//   - KindUpstream: transient failure that survived the single retry
//   - KindNoContent: upstream returned zero items
func (f *Fetcher) FetchAccount(ctx context.Context, handle string) (AccountInfo, []ActivityItem, error) {
	info, err := f.client.AccountByHandle(ctx, handle)
	if err != nil {
		return AccountInfo{}, nil, err
	}

	if items, ok := f.cached(cache.KindUser, handle); ok {
		f.log.Debug("activity cache hit", logx.String("handle", handle), logx.Int("items", len(items)))
		return info, items, nil
	}

	// Precondition: a private account cannot be fetched at all.
	if info.IsPrivate {
		return info, nil, newStatusError(KindForbidden, "account %q is private", handle)
	}

	media, err := f.withRetry(ctx, handle, func() ([]MediaItem, error) {
		return f.client.RecentClips(ctx, info, f.limit)
	})
	if err != nil {
		return info, nil, err
	}
	if len(media) == 0 {
		return info, nil, newStatusError(KindNoContent, "no clips for %q", handle)
	}

	items := normalize(media, handle)
	f.store(cache.KindUser, handle, items)
	return info, items, nil
}

// FetchHashtag returns normalized top activity for a hashtag.
// An empty result maps to KindNotFound, matching upstream semantics for
// unknown tags.
func (f *Fetcher) FetchHashtag(ctx context.Context, tag string) ([]ActivityItem, error) {
	if items, ok := f.cached(cache.KindHashtag, tag); ok {
		f.log.Debug("activity cache hit", logx.String("hashtag", tag), logx.Int("items", len(items)))
		return items, nil
	}

	media, err := f.withRetry(ctx, tag, func() ([]MediaItem, error) {
		return f.client.TopHashtagClips(ctx, tag, f.limit)
	})
	if err != nil {
		return nil, err
	}
	if len(media) == 0 {
		return nil, newStatusError(KindNotFound, "hashtag %q not found", tag)
	}

	items := normalize(media, "")
	f.store(cache.KindHashtag, tag, items)
	return items, nil
}

// Invalidate drops cached activity so the next fetch hits upstream.
func (f *Fetcher) Invalidate() {
	if f.cache == nil {
		return
	}
	_ = f.cache.InvalidateAll(cache.KindUser)
	_ = f.cache.InvalidateAll(cache.KindHashtag)
}

// withRetry runs call, retrying exactly once after a fixed backoff when the
// failure is transient. A second failure surfaces as KindUpstream.
func (f *Fetcher) withRetry(ctx context.Context, key string, call func() ([]MediaItem, error)) ([]MediaItem, error) {
	media, err := call()
	if err == nil {
		return media, nil
	}
	if !IsTransient(err) {
		return nil, err
	}

	f.log.Warn("upstream fetch failed; retrying once", logx.String("key", key), logx.Err(err))
	select {
	case <-ctx.Done():
		return nil, newStatusError(KindUpstream, "%s: %v", key, ctx.Err())
	case <-time.After(f.backoff):
	}

	media, err = call()
	if err != nil {
		return nil, newStatusError(KindUpstream, "%s: retry failed: %v", key, err)
	}
	return media, nil
}

func (f *Fetcher) cached(kind cache.Kind, key string) ([]ActivityItem, bool) {
	if f.cache == nil {
		return nil, false
	}
	b, ok := f.cache.Get(kind, key)
	if !ok {
		return nil, false
	}
	var items []ActivityItem
	if err := json.Unmarshal(b, &items); err != nil {
		// Corrupt entry: drop it and refetch.
		_ = f.cache.Invalidate(kind, key)
		return nil, false
	}
	return items, true
}

func (f *Fetcher) store(kind cache.Kind, key string, items []ActivityItem) {
	if f.cache == nil {
		return
	}
	b, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := f.cache.Put(kind, key, b); err != nil {
		f.log.Warn("activity cache write failed", logx.String("key", key), logx.Err(err))
	}
}

// normalize keeps only qualifying video items with a non-zero play count.
// ownerFallback fills the owner for per-account fetches where the API omits
// the user object.
func normalize(media []MediaItem, ownerFallback string) []ActivityItem {
	items := make([]ActivityItem, 0, len(media))
	for _, m := range media {
		if !m.qualifies() {
			continue
		}
		owner := m.Owner.Username
		if owner == "" {
			owner = ownerFallback
		}
		items = append(items, ActivityItem{
			ID:       m.ID,
			Owner:    owner,
			URL:      m.Permalink(),
			VideoURL: m.VideoURL,
			Title:    m.Title,
			Caption:  m.Caption,
			Views:    m.PlayCount,
			Likes:    m.LikeCount,
			Comments: m.CommentCount,
			Shares:   m.ReshareCount,
			PostedAt: time.Unix(m.TakenAt, 0),
		})
	}
	return items
}
