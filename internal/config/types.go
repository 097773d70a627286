package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Upstream UpstreamConfig `json:"upstream"`
	Storage  StorageConfig  `json:"storage"`
	Cache    CacheConfig    `json:"cache"`
	Jobs     JobsConfig     `json:"jobs"`
	Scoring  ScoringConfig  `json:"scoring"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	AdminChatID int64  `json:"admin_chat_id,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// UpstreamConfig points at the social-data API.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type UpstreamConfig struct {
	BaseURL   string `json:"base_url,omitempty"`
	AccessKey string `json:"access_key"`
	Timeout   string `json:"timeout,omitempty"`
	ClipLimit int    `json:"clip_limit,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type CacheConfig struct {
	Dir string `json:"dir"`
}

// JobsConfig controls the two recurring jobs.
type JobsConfig struct {
	TrendInterval     string  `json:"trend_interval,omitempty"`
	TrendGrace        string  `json:"trend_grace,omitempty"`
	TrendTimeout      string  `json:"trend_timeout,omitempty"`
	BalanceInterval   string  `json:"balance_interval,omitempty"`
	BalanceGrace      string  `json:"balance_grace,omitempty"`
	BalanceAlertFloor float64 `json:"balance_alert_floor,omitempty"`
	RetentionDays     int     `json:"retention_days,omitempty"`
	MaxPerRun         int     `json:"max_per_run,omitempty"`
}

// ScoringConfig names every threshold the scorer uses so a bad value fails
// at load time, not on the first pipeline run.
type ScoringConfig struct {
	TempoHigh      float64 `json:"tempo_high,omitempty"`
	TempoMedium    float64 `json:"tempo_medium,omitempty"`
	LikeRate       float64 `json:"like_rate,omitempty"`
	CommentRate    float64 `json:"comment_rate,omitempty"`
	ShareRate      float64 `json:"share_rate,omitempty"`
	FreshWindow    string  `json:"fresh_window,omitempty"`
	SelectionRate  float64 `json:"selection_rate,omitempty"`
	MaxItemAgeDays int     `json:"max_item_age_days,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console,omitempty"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Validate rejects configs that cannot produce a working process.
// Duration strings are checked here too so a typo surfaces at startup.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if strings.TrimSpace(c.Upstream.AccessKey) == "" {
		errs = append(errs, errors.New("upstream.access_key is required"))
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if strings.TrimSpace(c.Cache.Dir) == "" {
		errs = append(errs, errors.New("cache.dir is required"))
	}
	if c.Telegram.RatePerSec < 0 {
		errs = append(errs, errors.New("telegram.rate_per_sec must be >= 0"))
	}
	if c.Upstream.ClipLimit < 0 {
		errs = append(errs, errors.New("upstream.clip_limit must be >= 0"))
	}
	if c.Jobs.RetentionDays < 0 {
		errs = append(errs, errors.New("jobs.retention_days must be >= 0"))
	}
	if c.Jobs.MaxPerRun < 0 {
		errs = append(errs, errors.New("jobs.max_per_run must be >= 0"))
	}
	if c.Jobs.BalanceAlertFloor < 0 {
		errs = append(errs, errors.New("jobs.balance_alert_floor must be >= 0"))
	}

	for _, d := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"upstream.timeout", c.Upstream.Timeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"jobs.trend_interval", c.Jobs.TrendInterval},
		{"jobs.trend_grace", c.Jobs.TrendGrace},
		{"jobs.trend_timeout", c.Jobs.TrendTimeout},
		{"jobs.balance_interval", c.Jobs.BalanceInterval},
		{"jobs.balance_grace", c.Jobs.BalanceGrace},
		{"scoring.fresh_window", c.Scoring.FreshWindow},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if err := c.Scoring.validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validate only rejects values that break the algorithm; zero means
// "use the default" and is filled in by the app when building thresholds.
func (s ScoringConfig) validate() error {
	var errs []error
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"scoring.tempo_high", s.TempoHigh},
		{"scoring.tempo_medium", s.TempoMedium},
		{"scoring.like_rate", s.LikeRate},
		{"scoring.comment_rate", s.CommentRate},
		{"scoring.share_rate", s.ShareRate},
		{"scoring.selection_rate", s.SelectionRate},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0", f.name))
		}
	}
	if s.MaxItemAgeDays < 0 {
		errs = append(errs, errors.New("scoring.max_item_age_days must be >= 0"))
	}
	if s.TempoHigh > 0 && s.TempoMedium > 0 && s.TempoHigh < s.TempoMedium {
		errs = append(errs, errors.New("scoring.tempo_high must be >= scoring.tempo_medium"))
	}
	return errors.Join(errs...)
}
