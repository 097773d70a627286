package insta

import (
	"context"
	"testing"
	"time"

	"trendbot/internal/cache"
	"trendbot/pkg/logx"
)

type fakeClient struct {
	info      AccountInfo
	infoErr   error
	clips     []MediaItem
	clipsErrs []error // one per call; nil entry means success
	calls     int

	hashtagClips []MediaItem
	hashtagErr   error
}

func (f *fakeClient) AccountByHandle(ctx context.Context, handle string) (AccountInfo, error) {
	if f.infoErr != nil {
		return AccountInfo{}, f.infoErr
	}
	return f.info, nil
}

func (f *fakeClient) RecentClips(ctx context.Context, acct AccountInfo, limit int) ([]MediaItem, error) {
	call := f.calls
	f.calls++
	if call < len(f.clipsErrs) && f.clipsErrs[call] != nil {
		return nil, f.clipsErrs[call]
	}
	return f.clips, nil
}

func (f *fakeClient) TopHashtagClips(ctx context.Context, tag string, limit int) ([]MediaItem, error) {
	if f.hashtagErr != nil {
		return nil, f.hashtagErr
	}
	return f.hashtagClips, nil
}

func (f *fakeClient) Balance(ctx context.Context) (Balance, error) {
	return Balance{}, nil
}

func videoItem(code string, plays int64) MediaItem {
	return MediaItem{
		PK: code, ID: code, Code: code, MediaType: mediaTypeVideo,
		PlayCount: plays, LikeCount: 1, TakenAt: time.Now().Unix(),
	}
}

func newTestFetcher(t *testing.T, c Client) *Fetcher {
	t.Helper()
	ac, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	f := NewFetcher(c, ac, 10, logx.Nop())
	f.backoff = time.Millisecond
	return f
}

func TestFetchAccountSuccessNormalizes(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{
		info: AccountInfo{Handle: "acct", UserID: "1", FollowerCount: 100},
		clips: []MediaItem{
			videoItem("a", 500),
			{PK: "b", ID: "b", Code: "b", MediaType: 1, PlayCount: 900}, // photo: dropped
			{PK: "c", ID: "c", Code: "c", MediaType: mediaTypeVideo, PlayCount: 0}, // zero plays: dropped
			videoItem("d", 250),
		},
	}
	f := newTestFetcher(t, fc)

	info, items, err := f.FetchAccount(context.Background(), "acct")
	if err != nil {
		t.Fatalf("FetchAccount: %v", err)
	}
	if info.Handle != "acct" {
		t.Fatalf("info handle = %q", info.Handle)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 after normalization", len(items))
	}
	if items[0].URL != "https://www.instagram.com/reel/a/" {
		t.Fatalf("permalink = %q", items[0].URL)
	}
	if items[0].Owner != "acct" {
		t.Fatalf("owner fallback = %q", items[0].Owner)
	}
}

func TestFetchAccountCacheHitSkipsUpstream(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{
		info:  AccountInfo{Handle: "acct", UserID: "1"},
		clips: []MediaItem{videoItem("a", 500)},
	}
	f := newTestFetcher(t, fc)
	ctx := context.Background()

	if _, _, err := f.FetchAccount(ctx, "acct"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if _, items, err := f.FetchAccount(ctx, "acct"); err != nil || len(items) != 1 {
		t.Fatalf("cached fetch = (%d items, %v)", len(items), err)
	}
	if fc.calls != 1 {
		t.Fatalf("upstream clip calls = %d, want 1 (second served from cache)", fc.calls)
	}

	f.Invalidate()
	if _, _, err := f.FetchAccount(ctx, "acct"); err != nil {
		t.Fatalf("after invalidate: %v", err)
	}
	if fc.calls != 2 {
		t.Fatalf("upstream clip calls = %d, want 2 after invalidate", fc.calls)
	}
}

func TestFetchAccountPrivateShortCircuits(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{info: AccountInfo{Handle: "acct", UserID: "1", IsPrivate: true}}
	f := newTestFetcher(t, fc)

	_, _, err := f.FetchAccount(context.Background(), "acct")
	if !IsKind(err, KindForbidden) {
		t.Fatalf("err = %v, want KindForbidden", err)
	}
	if fc.calls != 0 {
		t.Fatalf("clips fetched for private account (%d calls)", fc.calls)
	}
}

// Exactly one retry: two consecutive transient failures surface as upstream
// unavailable even if a third call would have succeeded.
func TestFetchAccountRetryBound(t *testing.T) {
	t.Parallel()
	transient := newStatusError(KindUpstream, "boom")
	fc := &fakeClient{
		info:      AccountInfo{Handle: "acct", UserID: "1"},
		clips:     []MediaItem{videoItem("a", 500)}, // would succeed on third call
		clipsErrs: []error{transient, transient},
	}
	f := newTestFetcher(t, fc)

	_, _, err := f.FetchAccount(context.Background(), "acct")
	if !IsKind(err, KindUpstream) {
		t.Fatalf("err = %v, want KindUpstream", err)
	}
	if fc.calls != 2 {
		t.Fatalf("upstream calls = %d, want exactly 2", fc.calls)
	}
}

func TestFetchAccountRetryRecovers(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{
		info:      AccountInfo{Handle: "acct", UserID: "1"},
		clips:     []MediaItem{videoItem("a", 500)},
		clipsErrs: []error{newStatusError(KindRateLimited, "slow down")},
	}
	f := newTestFetcher(t, fc)

	_, items, err := f.FetchAccount(context.Background(), "acct")
	if err != nil {
		t.Fatalf("FetchAccount: %v", err)
	}
	if len(items) != 1 || fc.calls != 2 {
		t.Fatalf("items = %d calls = %d, want 1 item after single retry", len(items), fc.calls)
	}
}

func TestFetchAccountNoContent(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{info: AccountInfo{Handle: "acct", UserID: "1"}}
	f := newTestFetcher(t, fc)

	_, _, err := f.FetchAccount(context.Background(), "acct")
	if !IsKind(err, KindNoContent) {
		t.Fatalf("err = %v, want KindNoContent", err)
	}
}

func TestFetchAccountPreconditionNotRetried(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{
		info:      AccountInfo{Handle: "acct", UserID: "1"},
		clipsErrs: []error{newStatusError(KindNotFound, "gone")},
	}
	f := newTestFetcher(t, fc)

	_, _, err := f.FetchAccount(context.Background(), "acct")
	if !IsKind(err, KindNotFound) {
		t.Fatalf("err = %v, want KindNotFound", err)
	}
	if fc.calls != 1 {
		t.Fatalf("upstream calls = %d, want 1 (no retry for precondition)", fc.calls)
	}
}

func TestFetchHashtag(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{hashtagClips: []MediaItem{videoItem("a", 500)}}
	fc.hashtagClips[0].Owner.Username = "someone"
	f := newTestFetcher(t, fc)

	items, err := f.FetchHashtag(context.Background(), "golang")
	if err != nil {
		t.Fatalf("FetchHashtag: %v", err)
	}
	if len(items) != 1 || items[0].Owner != "someone" {
		t.Fatalf("unexpected items: %+v", items)
	}

	empty := &fakeClient{}
	f2 := newTestFetcher(t, empty)
	if _, err := f2.FetchHashtag(context.Background(), "nope"); !IsKind(err, KindNotFound) {
		t.Fatalf("err = %v, want KindNotFound for empty hashtag", err)
	}
}
