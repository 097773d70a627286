package insta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.hikerapi.com"

// Client is the upstream data source as the pipeline sees it.
type Client interface {
	AccountByHandle(ctx context.Context, handle string) (AccountInfo, error)
	RecentClips(ctx context.Context, acct AccountInfo, limit int) ([]MediaItem, error)
	TopHashtagClips(ctx context.Context, tag string, limit int) ([]MediaItem, error)
	Balance(ctx context.Context) (Balance, error)
}

type ClientConfig struct {
	BaseURL   string
	AccessKey string
	Timeout   time.Duration
}

type apiClient struct {
	base string
	key  string
	http *http.Client
}

func NewClient(cfg ClientConfig) (Client, error) {
	if strings.TrimSpace(cfg.AccessKey) == "" {
		return nil, errors.New("upstream access key is empty")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &apiClient{
		base: base,
		key:  cfg.AccessKey,
		http: &http.Client{Timeout: timeout},
	}, nil
}

func (c *apiClient) AccountByHandle(ctx context.Context, handle string) (AccountInfo, error) {
	var info AccountInfo
	q := url.Values{"username": {handle}}
	if err := c.getJSON(ctx, "/v1/user/by/username", q, &info); err != nil {
		return AccountInfo{}, err
	}
	if info.Handle == "" {
		return AccountInfo{}, newStatusError(KindNotFound, "user %q not found", handle)
	}
	return info, nil
}

func (c *apiClient) RecentClips(ctx context.Context, acct AccountInfo, limit int) ([]MediaItem, error) {
	q := url.Values{
		"user_id": {acct.UserID},
		"amount":  {strconv.Itoa(limit)},
	}
	var items []MediaItem
	if err := c.getJSON(ctx, "/v1/user/clips", q, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *apiClient) TopHashtagClips(ctx context.Context, tag string, limit int) ([]MediaItem, error) {
	q := url.Values{
		"name":   {tag},
		"amount": {strconv.Itoa(limit)},
	}
	var items []MediaItem
	if err := c.getJSON(ctx, "/v1/hashtag/medias/top", q, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *apiClient) Balance(ctx context.Context) (Balance, error) {
	var b Balance
	if err := c.getJSON(ctx, "/sys/balance", nil, &b); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-access-key", c.key)
	req.Header.Set("accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return newStatusError(KindUpstream, "%s: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return statusErrorFromCode(resp.StatusCode, path, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newStatusError(KindUpstream, "%s: decode: %v", path, err)
	}
	return nil
}

func statusErrorFromCode(code int, path, body string) error {
	msg := fmt.Sprintf("%s: http %d", path, code)
	if s := strings.TrimSpace(body); s != "" {
		msg += ": " + s
	}
	switch {
	case code == http.StatusNotFound:
		return &StatusError{Kind: KindNotFound, Msg: msg}
	case code == http.StatusForbidden:
		return &StatusError{Kind: KindForbidden, Msg: msg}
	case code == http.StatusTooManyRequests:
		return &StatusError{Kind: KindRateLimited, Msg: msg}
	case code >= 500:
		return &StatusError{Kind: KindUpstream, Msg: msg}
	default:
		return &StatusError{Kind: KindUpstream, Msg: msg}
	}
}
