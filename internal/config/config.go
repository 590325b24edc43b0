// Package config loads and validates docmirror configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/docmirror/internal/extract"
)

// EnvPrefix is prepended to every environment override, e.g.
// DOCMIRROR_SITE_START_URL.
const EnvPrefix = "DOCMIRROR"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Git      GitConfig      `mapstructure:"git"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SiteConfig identifies the site to mirror.
type SiteConfig struct {
	StartURL string `mapstructure:"start_url"`
	// DocumentsPageURL defaults to StartURL.
	DocumentsPageURL string `mapstructure:"documents_page_url"`
	UserAgent        string `mapstructure:"user_agent"`
	RespectRobots    bool   `mapstructure:"respect_robots"`
	// MaxPages bounds the crawl. Zero means unbounded.
	MaxPages int `mapstructure:"max_pages"`
}

// HTTPConfig configures timeouts, politeness and retries.
type HTTPConfig struct {
	TimeoutSeconds      int   `mapstructure:"timeout_seconds"`
	ProbeTimeoutSeconds int   `mapstructure:"probe_timeout_seconds"`
	MinIntervalMs       int   `mapstructure:"min_interval_ms"`
	MaxRetries          int   `mapstructure:"max_retries"`
	MaxDownloadBytes    int64 `mapstructure:"max_download_bytes"`
	MaxPageBytes        int   `mapstructure:"max_page_bytes"`
}

// ExtractConfig mirrors extract.Config.
type ExtractConfig struct {
	TabSelector           string   `mapstructure:"tab_selector"`
	HeadingSelector       string   `mapstructure:"heading_selector"`
	DescriptionSelector   string   `mapstructure:"description_selector"`
	DocumentExtensions    []string `mapstructure:"document_extensions"`
	NonDocumentExtensions []string `mapstructure:"non_document_extensions"`
	RepositorySegments    []string `mapstructure:"repository_segments"`
	ExcludedKeywords      []string `mapstructure:"excluded_keywords"`
	ExcludedTabIDs        []string `mapstructure:"excluded_tab_ids"`
	AnnouncementMarker    string   `mapstructure:"announcement_marker"`
	ExcludedURLKeywords   []string `mapstructure:"excluded_url_keywords"`
	DefaultCategory       string   `mapstructure:"default_category"`
	MinDescriptionRunes   int      `mapstructure:"min_description_runes"`
	MaxDescriptionRunes   int      `mapstructure:"max_description_runes"`
}

// StorageConfig sets the local layout and the optional GCS archive.
type StorageConfig struct {
	// DataDir holds the documents tree, the snapshot and the report.
	DataDir      string `mapstructure:"data_dir"`
	MetadataFile string `mapstructure:"metadata_file"`
	ReportFile   string `mapstructure:"report_file"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	GCSPrefix    string `mapstructure:"gcs_prefix"`
}

// GitConfig enables committing the snapshot after every run.
type GitConfig struct {
	Commit      bool   `mapstructure:"commit"`
	AuthorName  string `mapstructure:"author_name"`
	AuthorEmail string `mapstructure:"author_email"`
}

// DatabaseConfig enables the Postgres run history.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig configures the Pushgateway push after a run.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

// ServerConfig controls the read-only HTTP view.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-provided Viper, so command-line flags bound to
// v take precedence over file and environment values.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	ext := extract.DefaultConfig()

	v.SetDefault("site.start_url", "https://www.ravensburg.dhbw.de/service-einrichtungen/dokumente-downloads")
	v.SetDefault("site.documents_page_url", "")
	v.SetDefault("site.user_agent", "docmirror/1.0 (+https://github.com/JakeFAU/docmirror)")
	v.SetDefault("site.respect_robots", true)
	v.SetDefault("site.max_pages", 50)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.probe_timeout_seconds", 10)
	v.SetDefault("http.min_interval_ms", 500)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.max_download_bytes", int64(200<<20))
	v.SetDefault("http.max_page_bytes", 10<<20)
	v.SetDefault("extract.tab_selector", ext.TabSelector)
	v.SetDefault("extract.heading_selector", ext.HeadingSelector)
	v.SetDefault("extract.description_selector", ext.DescriptionSelector)
	v.SetDefault("extract.document_extensions", ext.DocumentExtensions)
	v.SetDefault("extract.non_document_extensions", ext.NonDocumentExtensions)
	v.SetDefault("extract.repository_segments", ext.RepositorySegments)
	v.SetDefault("extract.excluded_keywords", ext.ExcludedKeywords)
	v.SetDefault("extract.excluded_tab_ids", ext.ExcludedTabIDs)
	v.SetDefault("extract.announcement_marker", ext.AnnouncementMarker)
	v.SetDefault("extract.excluded_url_keywords", ext.ExcludedURLKeywords)
	v.SetDefault("extract.default_category", ext.DefaultCategory)
	v.SetDefault("extract.min_description_runes", ext.MinDescriptionRunes)
	v.SetDefault("extract.max_description_runes", ext.MaxDescriptionRunes)
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.metadata_file", "dokumente_metadata.json")
	v.SetDefault("storage.report_file", "sync_report.md")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "docmirror")
	v.SetDefault("git.commit", false)
	v.SetDefault("git.author_name", "docmirror")
	v.SetDefault("git.author_email", "docmirror@localhost")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "sync_runs")
	v.SetDefault("database.max_conns", 2)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job_name", "docmirror")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validateURL("site.start_url", c.Site.StartURL); err != nil {
		return err
	}
	if c.Site.DocumentsPageURL != "" {
		if err := validateURL("site.documents_page_url", c.Site.DocumentsPageURL); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.Site.UserAgent) == "" {
		return fmt.Errorf("site.user_agent must be set")
	}
	if c.Site.MaxPages < 0 {
		return fmt.Errorf("site.max_pages must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.ProbeTimeoutSeconds <= 0 {
		return fmt.Errorf("http.probe_timeout_seconds must be > 0")
	}
	if c.HTTP.MinIntervalMs < 0 {
		return fmt.Errorf("http.min_interval_ms must be >= 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.MaxDownloadBytes < 0 || c.HTTP.MaxPageBytes < 0 {
		return fmt.Errorf("http byte limits must be >= 0")
	}
	if err := c.ExtractConfig().Validate(); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	if strings.TrimSpace(c.Storage.MetadataFile) == "" {
		return fmt.Errorf("storage.metadata_file must be set")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Metrics.PushgatewayURL != "" {
		if err := validateURL("metrics.pushgateway_url", c.Metrics.PushgatewayURL); err != nil {
			return err
		}
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) url, got %q", key, raw)
	}
	return nil
}

// ExtractConfig converts the extract section for extract.New.
func (c Config) ExtractConfig() extract.Config {
	page := c.Site.DocumentsPageURL
	if page == "" {
		page = c.Site.StartURL
	}
	return extract.Config{
		DocumentsPageURL:      page,
		TabSelector:           c.Extract.TabSelector,
		HeadingSelector:       c.Extract.HeadingSelector,
		DescriptionSelector:   c.Extract.DescriptionSelector,
		DocumentExtensions:    c.Extract.DocumentExtensions,
		NonDocumentExtensions: c.Extract.NonDocumentExtensions,
		RepositorySegments:    c.Extract.RepositorySegments,
		ExcludedKeywords:      c.Extract.ExcludedKeywords,
		ExcludedTabIDs:        c.Extract.ExcludedTabIDs,
		AnnouncementMarker:    c.Extract.AnnouncementMarker,
		ExcludedURLKeywords:   c.Extract.ExcludedURLKeywords,
		DefaultCategory:       c.Extract.DefaultCategory,
		MinDescriptionRunes:   c.Extract.MinDescriptionRunes,
		MaxDescriptionRunes:   c.Extract.MaxDescriptionRunes,
	}
}

// MetadataPath is the snapshot location.
func (c Config) MetadataPath() string {
	return c.inDataDir(c.Storage.MetadataFile)
}

// ReportPath is the run report location, or "" when disabled.
func (c Config) ReportPath() string {
	if c.Storage.ReportFile == "" {
		return ""
	}
	return c.inDataDir(c.Storage.ReportFile)
}

func (c Config) inDataDir(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Storage.DataDir, name)
}

// Timeout is the page fetch and download timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ProbeTimeout bounds a single HEAD request.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.HTTP.ProbeTimeoutSeconds) * time.Second
}

// MinInterval is the politeness spacing between requests to one host.
func (c Config) MinInterval() time.Duration {
	return time.Duration(c.HTTP.MinIntervalMs) * time.Millisecond
}
