package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/scipunch/updatesbot/feed"
	"github.com/scipunch/updatesbot/fetcher"
	"github.com/scipunch/updatesbot/notify"
	"github.com/scipunch/updatesbot/store"
)

const baseCfgPath = "updatesbot/config.toml"

// PlaceholderWebhookURL marks a webhook that still has to be configured
const PlaceholderWebhookURL = "YOUR_WEBHOOK_URL_GOES_HERE"

type Config struct {
	TriggerIntervalHours int         `toml:"trigger_interval_hours"`
	NotifyWeekend        bool        `toml:"notify_weekend"`
	MaxInitUpdates       int         `toml:"max_init_updates"`
	MaxContentChars      int         `toml:"max_content_chars"`
	MaxContentUpdates    int         `toml:"max_content_updates"` // Cannot exceed 25
	Concurrency          int         `toml:"concurrency"`
	Timezone             string      `toml:"timezone"` // IANA name, empty means local time
	UserAgent            string      `toml:"user_agent"`
	HTTPTimeoutSeconds   int         `toml:"http_timeout_seconds"`
	LogLevel             string      `toml:"log_level"`
	NotifyHours          NotifyHours `toml:"notify_hours"`
	Store                StoreConfig `toml:"store"`

	Webhooks map[string]WebhookConfig `toml:"webhooks"`
	Feeds    []FeedConfig             `toml:"feeds"`
}

// NotifyHours is the [Start, End) hour window for regular cycles
type NotifyHours struct {
	Start int `toml:"start"`
	End   int `toml:"end"`
}

type StoreConfig struct {
	Backend   string `toml:"backend"` // sqlite, redis or memory
	Path      string `toml:"path"`
	RedisAddr string `toml:"redis_addr"`
	RedisKey  string `toml:"redis_key"`
}

type WebhookConfig struct {
	Name     string        `toml:"name"`
	Platform feed.Platform `toml:"platform"`
	URL      string        `toml:"url"`
}

type FeedConfig struct {
	ID       string      `toml:"id"`
	Format   feed.Format `toml:"format"`
	Title    string      `toml:"title"`
	Subtitle string      `toml:"subtitle"`
	Source   string      `toml:"source"`
	Logo     string      `toml:"logo"`
	CTA      string      `toml:"cta"`
	Filters  []string    `toml:"filters"`  // Phrases removed from the content, in order
	Webhooks []string    `toml:"webhooks"` // Keys of [webhooks.<key>] tables
}

func Read(path string) (Config, error) {
	conf := defaultSettings()
	dat, err := os.ReadFile(path)
	if err != nil {
		return conf, err
	}
	_, err = toml.Decode(string(dat), &conf)
	if err != nil {
		return conf, fmt.Errorf("failed to decode config at %s with %w", path, err)
	}
	conf.Store.Path = expandHome(conf.Store.Path)
	return conf, nil
}

func Write(cfgPath string, cfg Config) error {
	blob, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config with %w", err)
	}
	basePath := path.Dir(cfgPath)
	err = os.MkdirAll(basePath, os.ModePerm)
	if err != nil {
		return fmt.Errorf("failed to create base config directory at '%s' with %w", basePath, err)
	}
	err = os.WriteFile(cfgPath, blob, 0644)
	if err != nil {
		return fmt.Errorf("failed to write into config file at '%s' with %w", cfgPath, err)
	}
	slog.Info("config written", "at", cfgPath)
	return nil
}

// defaultSettings holds every scalar default but no feeds or webhooks, so
// a decoded file never inherits the default registry.
func defaultSettings() Config {
	return Config{
		TriggerIntervalHours: 1,
		NotifyWeekend:        false,
		MaxInitUpdates:       1,
		MaxContentChars:      250,
		MaxContentUpdates:    10,
		Concurrency:          1,
		UserAgent:            fetcher.DefaultUserAgent,
		HTTPTimeoutSeconds:   int(fetcher.DefaultTimeout / time.Second),
		LogLevel:             "info",
		NotifyHours:          NotifyHours{Start: 9, End: 17},
		Store: StoreConfig{
			Backend:   store.SQLiteBackend,
			Path:      store.DefaultPath(),
			RedisAddr: "localhost:6379",
			RedisKey:  store.DefaultRedisKey,
		},
	}
}

// Default returns the settings plus the stock Google feeds, all posting to
// a single placeholder Google Chat webhook.
func Default() Config {
	conf := defaultSettings()
	conf.Webhooks = map[string]WebhookConfig{
		"admin_room": {
			Name:     "Google Workspace Admin Room",
			Platform: feed.GoogleChat,
			URL:      PlaceholderWebhookURL,
		},
	}
	adminRoom := []string{"admin_room"}
	conf.Feeds = []FeedConfig{
		{
			ID:       "WORKSPACE_UPDATES",
			Format:   feed.FeedburnerAtom,
			Title:    "Google Workspace Updates",
			Subtitle: "workspaceupdates.googleblog.com",
			Source:   "https://feeds.feedburner.com/GoogleAppsUpdates",
			Logo:     "https://fonts.gstatic.com/s/i/productlogos/googleg/v6/web-512dp/logo_googleg_color_1x_web_512dp.png",
			CTA:      "READ MORE",
			Filters:  []string{"What’s changing", "Quick launch summary"},
			Webhooks: adminRoom,
		},
		{
			ID:       "CHROME_RELEASES",
			Format:   feed.FeedburnerAtom,
			Title:    "Chrome Releases",
			Subtitle: "chromereleases.googleblog.com",
			Source:   "https://feeds.feedburner.com/GoogleChromeReleases",
			Logo:     "https://fonts.gstatic.com/s/i/productlogos/chrome/v6/web-512dp/logo_chrome_color_1x_web_512dp.png",
			CTA:      "READ MORE",
			Filters:  []string{"Hi everyone!"},
			Webhooks: adminRoom,
		},
		{
			ID:       "GCP_TRAINING",
			Format:   feed.GoogleBlogRSS,
			Title:    "GCP Training & Certification",
			Subtitle: "cloudblog.withgoogle.com",
			Source:   "https://cloudblog.withgoogle.com/topics/training-certifications/rss/",
			Logo:     "https://fonts.gstatic.com/s/i/productlogos/google_cloud/v8/web-512dp/logo_google_cloud_color_1x_web_512dp.png",
			CTA:      "READ MORE",
			Filters:  []string{},
			Webhooks: adminRoom,
		},
		{
			ID:       "DEVELOPERS",
			Format:   feed.FeedburnerAtom,
			Title:    "Google Developers",
			Subtitle: "developers.googleblog.com",
			Source:   "https://feeds.feedburner.com/GDBcode",
			Logo:     "https://fonts.gstatic.com/s/i/productlogos/google_developers/v7/web-512dp/logo_google_developers_color_1x_web_512dp.png",
			CTA:      "READ MORE",
			Filters:  []string{},
			Webhooks: adminRoom,
		},
	}
	return conf
}

func DefaultPath() string {
	var xdgHome = os.Getenv("XDG_CONFIG_HOME")
	if xdgHome != "" {
		return path.Join(xdgHome, baseCfgPath)
	}

	var home = os.Getenv("HOME")
	if home != "" {
		return path.Join(home, ".config", baseCfgPath)
	}

	panic("unclear where to search for the config file")
}

// Validate reports every problem found in the config at once
func (c Config) Validate() error {
	var errs []error

	if c.TriggerIntervalHours < 1 {
		errs = append(errs, fmt.Errorf("trigger_interval_hours must be at least 1, got %d", c.TriggerIntervalHours))
	}
	if c.MaxContentUpdates < 1 || c.MaxContentUpdates > fetcher.MaxUpdatesLimit {
		errs = append(errs, fmt.Errorf("max_content_updates must be within [1, %d], got %d", fetcher.MaxUpdatesLimit, c.MaxContentUpdates))
	}
	if c.MaxInitUpdates < 0 {
		errs = append(errs, fmt.Errorf("max_init_updates cannot be negative, got %d", c.MaxInitUpdates))
	}
	if c.MaxContentChars < 0 {
		errs = append(errs, fmt.Errorf("max_content_chars cannot be negative, got %d", c.MaxContentChars))
	}
	if c.HTTPTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("http_timeout_seconds cannot be negative, got %d", c.HTTPTimeoutSeconds))
	}
	if h := c.NotifyHours; h.Start < 0 || h.End > 24 || h.Start >= h.End {
		errs = append(errs, fmt.Errorf("notify_hours must satisfy 0 <= start < end <= 24, got [%d, %d)", h.Start, h.End))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	switch c.Store.Backend {
	case store.SQLiteBackend, store.MemoryBackend:
	case store.RedisBackend:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	for key, hook := range c.Webhooks {
		if hook.Platform == 0 {
			errs = append(errs, fmt.Errorf("webhook %s: platform is required", key))
		}
		if hook.URL == "" {
			errs = append(errs, fmt.Errorf("webhook %s: url is required", key))
		}
	}

	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		if f.ID == "" {
			errs = append(errs, fmt.Errorf("feed #%d: id is required", i+1))
			continue
		}
		if seen[f.ID] {
			errs = append(errs, fmt.Errorf("feed %s: duplicate id", f.ID))
		}
		seen[f.ID] = true
		if f.Format == 0 {
			errs = append(errs, fmt.Errorf("feed %s: format is required", f.ID))
		}
		if f.Source == "" {
			errs = append(errs, fmt.Errorf("feed %s: source is required", f.ID))
		}
		for _, key := range f.Webhooks {
			if _, ok := c.Webhooks[key]; !ok {
				errs = append(errs, fmt.Errorf("feed %s: undefined webhook %q", f.ID, key))
			}
		}
	}

	return errors.Join(errs...)
}

// Feeds resolves the feed list and the webhook registry into feeds
func (c Config) Feeds() ([]feed.Feed, error) {
	feeds := make([]feed.Feed, 0, len(c.Feeds))
	for _, fc := range c.Feeds {
		hooks := make([]feed.Webhook, 0, len(fc.Webhooks))
		for _, key := range fc.Webhooks {
			wc, ok := c.Webhooks[key]
			if !ok {
				return nil, fmt.Errorf("feed %s references undefined webhook %q", fc.ID, key)
			}
			if wc.URL == PlaceholderWebhookURL {
				slog.Warn("webhook still uses the placeholder url", "webhook", key, "feed", fc.ID)
			}
			hooks = append(hooks, feed.Webhook{Key: key, Name: wc.Name, Platform: wc.Platform, URL: wc.URL})
		}
		feeds = append(feeds, feed.Feed{
			ID:       fc.ID,
			Format:   fc.Format,
			Title:    fc.Title,
			Subtitle: fc.Subtitle,
			Logo:     fc.Logo,
			CTA:      fc.CTA,
			Source:   fc.Source,
			Filters:  append([]string(nil), fc.Filters...),
			Webhooks: hooks,
		})
	}
	return feeds, nil
}

// Location loads Timezone, falling back to local time when it is empty
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q with %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) Gate() (notify.Gate, error) {
	loc, err := c.Location()
	if err != nil {
		return notify.Gate{}, err
	}
	return notify.Gate{
		NotifyWeekend: c.NotifyWeekend,
		StartHour:     c.NotifyHours.Start,
		EndHour:       c.NotifyHours.End,
		Location:      loc,
	}, nil
}

func (c Config) TriggerInterval() time.Duration {
	return time.Duration(c.TriggerIntervalHours) * time.Hour
}

func (c Config) FetcherOptions() fetcher.Options {
	return fetcher.Options{
		MaxContentChars:   c.MaxContentChars,
		MaxContentUpdates: c.MaxContentUpdates,
		UserAgent:         c.UserAgent,
		Timeout:           c.HTTPTimeout(),
	}
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c Config) StoreOptions() store.Options {
	return store.Options{
		Backend:   c.Store.Backend,
		Path:      expandHome(c.Store.Path),
		RedisAddr: c.Store.RedisAddr,
		RedisKey:  c.Store.RedisKey,
	}
}

// ParseLogLevel accepts debug, info, warn and error
func ParseLogLevel(level string) (slog.Level, error) {
	if level == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home := os.Getenv("HOME")
	if home == "" {
		return p
	}
	return path.Join(home, p[2:])
}
