package insta

import (
	"errors"
	"fmt"
	"time"
)

// FailKind classifies upstream failures into the stable outcomes the
// pipeline acts on.
type FailKind int

const (
	// KindUpstream covers transport errors, timeouts, and 5xx responses.
	// Transient: worth exactly one retry.
	KindUpstream FailKind = iota
	// KindRateLimited is a 429. Transient as well.
	KindRateLimited
	// KindNotFound: the handle does not exist upstream.
	KindNotFound
	// KindForbidden: the account is private; fetching is pointless.
	KindForbidden
	// KindNoContent: the call succeeded but returned zero items.
	// Not an error condition, just "nothing to report".
	KindNoContent
)

func (k FailKind) String() string {
	switch k {
	case KindUpstream:
		return "upstream"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindNoContent:
		return "no_content"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// StatusError carries a FailKind across call boundaries.
type StatusError struct {
	Kind FailKind
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

func newStatusError(kind FailKind, format string, args ...any) *StatusError {
	return &StatusError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind; non-StatusError values count as upstream.
func KindOf(err error) FailKind {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUpstream
}

func IsKind(err error, kind FailKind) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Kind == kind
}

// IsTransient reports whether the failure is worth a retry.
func IsTransient(err error) bool {
	k := KindOf(err)
	return k == KindUpstream || k == KindRateLimited
}

// AccountInfo is the upstream account metadata the scorer needs.
type AccountInfo struct {
	UserID        string `json:"pk"`
	Handle        string `json:"username"`
	FullName      string `json:"full_name"`
	FollowerCount int64  `json:"follower_count"`
	IsPrivate     bool   `json:"is_private"`
}

// MediaItem is one raw media object as the upstream API returns it.
type MediaItem struct {
	PK           string `json:"pk"`
	ID           string `json:"id"`
	Code         string `json:"code"`
	MediaType    int    `json:"media_type"`
	Title        string `json:"title"`
	Caption      string `json:"caption_text"`
	PlayCount    int64  `json:"play_count"`
	LikeCount    int64  `json:"like_count"`
	CommentCount int64  `json:"comment_count"`
	ReshareCount int64  `json:"reshare_count"`
	TakenAt      int64  `json:"taken_at"` // unix seconds
	VideoURL     string `json:"video_url"`
	Owner        struct {
		Username string `json:"username"`
	} `json:"user"`
}

// Media types that qualify as video content.
const (
	mediaTypeVideo = 2
	mediaTypeAlbum = 8
)

func (m MediaItem) qualifies() bool {
	return (m.MediaType == mediaTypeVideo || m.MediaType == mediaTypeAlbum) && m.PlayCount > 0
}

// Permalink builds the public reel URL from the media short code.
func (m MediaItem) Permalink() string {
	return "https://www.instagram.com/reel/" + m.Code + "/"
}

// ActivityItem is the normalized unit of content the pipeline works with.
// Reconstructed on every fetch; never persisted except via the sent ledger.
type ActivityItem struct {
	ID       string    `json:"id"`
	Owner    string    `json:"owner"`
	URL      string    `json:"url"`
	VideoURL string    `json:"video_url,omitempty"`
	Title    string    `json:"title,omitempty"`
	Caption  string    `json:"caption,omitempty"`
	Views    int64     `json:"views"`
	Likes    int64     `json:"likes"`
	Comments int64     `json:"comments"`
	Shares   int64     `json:"shares,omitempty"`
	PostedAt time.Time `json:"posted_at"`
}

// Balance is the upstream API key account state.
type Balance struct {
	Balance float64 `json:"balance"`
}
