// Package config resolves pulsecheck's settings from, in priority order,
// environment variables, a TOML config file, and built-in defaults — the
// same layered resolution the teacher's own config.Load used, upgraded
// from its hand-rolled scanner to github.com/BurntSushi/toml now that the
// file actually needs typed values (durations, integers) rather than
// flat strings.
package config

import (
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every resolved setting the alerting loop, ingestion
// writer and dispatcher need (spec §6 "Environment variables").
type Config struct {
	DataDir string
	DBPath  string

	SiteRoot     string
	PingEndpoint string

	// Body-offload destination (spec §4.8, §9 Non-goals): carried as
	// configuration only. The object-storage client that actually
	// uploads large ping bodies is outside this core's scope, and no
	// code in this module reads these three fields.
	S3Bucket   string
	S3Region   string
	S3Endpoint string

	TickInterval   time.Duration
	NumWorkers     int
	NagInterval    time.Duration
	FlipRetention  time.Duration
	LockStaleAfter time.Duration

	// TransportTimeout overrides the dispatcher's per-channel-kind
	// default timeout uniformly when positive (zero keeps the per-kind
	// defaults in internal/dispatch).
	TransportTimeout time.Duration

	// PoolDefault is the default for sendalerts' --pool flag when the
	// operator doesn't pass it explicitly.
	PoolDefault bool

	// EnabledTransports restricts the transport registry to these kinds
	// (webhook, slack, pagerduty, opsgenie, email) when non-empty; empty
	// means every kind is wired.
	EnabledTransports []string

	ReportInterval time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	LogLevel string
}

var (
	osUserHomeDir = os.UserHomeDir
	osCurrentUser = user.Current
	osGeteuid     = os.Geteuid
	osTempDir     = os.TempDir
)

const defaultConfigContent = `# pulsecheck configuration
# All values shown are defaults. Uncomment and edit to customize.

# SQLite database file path.
# Environment variable: PULSECHECK_DB_PATH
# db_path = "~/.pulsecheck/pulsecheck.db"

# Base URL checks are displayed under (badges, dashboards).
# Environment variable: PULSECHECK_SITE_ROOT
# site_root = "http://localhost:8080"

# Base URL the ping HTTP listener answers on.
# Environment variable: PULSECHECK_PING_ENDPOINT
# ping_endpoint = "http://localhost:8080/ping"

# Object storage destination for offloaded ping bodies (spec §4.8).
# Environment variables: PULSECHECK_S3_BUCKET, PULSECHECK_S3_REGION, PULSECHECK_S3_ENDPOINT
# s3_bucket = ""
# s3_region = ""
# s3_endpoint = ""

# How often the alerting loop sweeps checks due for re-evaluation.
# Environment variable: PULSECHECK_TICK_INTERVAL
# tick_interval = "5s"

# Size of the dispatcher's bounded worker pool.
# Environment variable: PULSECHECK_NUM_WORKERS
# num_workers = 10

# Minimum spacing between repeat ("nag") alerts for a check stuck down.
# Environment variable: PULSECHECK_NAG_INTERVAL
# nag_interval = "1h"

# How long processed flips are retained before pruning.
# Environment variable: PULSECHECK_FLIP_RETENTION
# flip_retention = "2232h"  # 93 days

# How long an advisory lock on a check may be held before another
# worker is allowed to reclaim it as stale.
# Environment variable: PULSECHECK_LOCK_STALE_AFTER
# lock_stale_after = "5m"

# Per-call timeout (seconds) applied to every transport send, overriding
# the dispatcher's per-kind defaults uniformly. Unset keeps those
# defaults.
# Environment variable: PULSECHECK_TRANSPORT_TIMEOUT_SECONDS
# transport_timeout_seconds = 10

# Comma-separated subset of transport kinds to wire (webhook, slack,
# pagerduty, opsgenie, email). Unset wires all of them.
# Environment variable: PULSECHECK_ENABLED_TRANSPORTS
# enabled_transports = ""

# Default for sendalerts' --pool flag when not passed explicitly.
# Environment variable: PULSECHECK_POOL_DEFAULT
# pool_default = false

# How often sendreports --loop summarizes check status.
# Environment variable: PULSECHECK_REPORT_INTERVAL
# report_interval = "1h"

# Outbound SMTP server for the email transport.
# Environment variables: PULSECHECK_SMTP_HOST, PULSECHECK_SMTP_PORT,
# PULSECHECK_SMTP_FROM, PULSECHECK_SMTP_USERNAME, PULSECHECK_SMTP_PASSWORD
# smtp_host = ""
# smtp_port = 587
# smtp_from = ""
# smtp_username = ""
# smtp_password = ""

# Log level: debug, info, warn, error.
# Environment variable: PULSECHECK_LOG_LEVEL
# log_level = "info"
`

type fileConfig struct {
	DBPath         string `toml:"db_path"`
	SiteRoot       string `toml:"site_root"`
	PingEndpoint   string `toml:"ping_endpoint"`
	S3Bucket       string `toml:"s3_bucket"`
	S3Region       string `toml:"s3_region"`
	S3Endpoint     string `toml:"s3_endpoint"`
	TickInterval   string `toml:"tick_interval"`
	NumWorkers     int    `toml:"num_workers"`
	NagInterval    string `toml:"nag_interval"`
	FlipRetention  string `toml:"flip_retention"`
	LockStaleAfter string `toml:"lock_stale_after"`

	TransportTimeoutSeconds string `toml:"transport_timeout_seconds"`
	EnabledTransports       string `toml:"enabled_transports"`
	PoolDefault             string `toml:"pool_default"`

	ReportInterval string `toml:"report_interval"`
	SMTPHost       string `toml:"smtp_host"`
	SMTPPort       int    `toml:"smtp_port"`
	SMTPFrom       string `toml:"smtp_from"`
	SMTPUsername   string `toml:"smtp_username"`
	SMTPPassword   string `toml:"smtp_password"`
	LogLevel       string `toml:"log_level"`
}

// Load resolves a Config, creating a commented-out default config.toml
// on first run the way the teacher's ensureDefaultConfig does.
func Load() Config {
	cfg := Config{
		TickInterval:   5 * time.Second,
		NumWorkers:     10,
		NagInterval:    time.Hour,
		FlipRetention:  93 * 24 * time.Hour,
		LockStaleAfter: 5 * time.Minute,
		ReportInterval: time.Hour,
		SMTPPort:       587,
		LogLevel:       "info",
	}

	cfg.DataDir = resolveDataDir()
	cfg.DBPath = filepath.Join(cfg.DataDir, "pulsecheck.db")

	configPath := filepath.Join(cfg.DataDir, "config.toml")
	ensureDefaultConfig(configPath)

	file := loadFile(configPath)
	applyConfig(&cfg, file)

	return cfg
}

func resolveDataDir() string {
	if v := strings.TrimSpace(os.Getenv("PULSECHECK_DATA_DIR")); v != "" {
		return v
	}
	if home, err := resolveHomeDir(); err == nil {
		return filepath.Join(home, ".pulsecheck")
	}
	// Last-resort fallback for restricted service environments.
	return filepath.Join(osTempDir(), "pulsecheck")
}

func ensureDefaultConfig(configPath string) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		writeDefaultConfig(configPath)
	}
}

func applyConfig(cfg *Config, file fileConfig) {
	if cfg == nil {
		return
	}

	if v := readString("PULSECHECK_DB_PATH", file.DBPath); v != "" {
		cfg.DBPath = v
	}
	cfg.SiteRoot = readString("PULSECHECK_SITE_ROOT", file.SiteRoot)
	cfg.PingEndpoint = readString("PULSECHECK_PING_ENDPOINT", file.PingEndpoint)
	cfg.S3Bucket = readString("PULSECHECK_S3_BUCKET", file.S3Bucket)
	cfg.S3Region = readString("PULSECHECK_S3_REGION", file.S3Region)
	cfg.S3Endpoint = readString("PULSECHECK_S3_ENDPOINT", file.S3Endpoint)

	cfg.TickInterval = readDuration("PULSECHECK_TICK_INTERVAL", file.TickInterval, cfg.TickInterval)
	cfg.NumWorkers = readPositiveInt("PULSECHECK_NUM_WORKERS", strconv.Itoa(file.NumWorkers), cfg.NumWorkers)
	cfg.NagInterval = readDuration("PULSECHECK_NAG_INTERVAL", file.NagInterval, cfg.NagInterval)
	cfg.FlipRetention = readDuration("PULSECHECK_FLIP_RETENTION", file.FlipRetention, cfg.FlipRetention)
	cfg.LockStaleAfter = readDuration("PULSECHECK_LOCK_STALE_AFTER", file.LockStaleAfter, cfg.LockStaleAfter)
	cfg.TransportTimeout = readFloatSecondsDuration("PULSECHECK_TRANSPORT_TIMEOUT_SECONDS", file.TransportTimeoutSeconds, 0)
	cfg.EnabledTransports = splitCSV(readString("PULSECHECK_ENABLED_TRANSPORTS", file.EnabledTransports))
	cfg.PoolDefault = readBool("PULSECHECK_POOL_DEFAULT", file.PoolDefault, cfg.PoolDefault)
	cfg.ReportInterval = readDuration("PULSECHECK_REPORT_INTERVAL", file.ReportInterval, cfg.ReportInterval)

	cfg.SMTPHost = readString("PULSECHECK_SMTP_HOST", file.SMTPHost)
	cfg.SMTPPort = readPositiveInt("PULSECHECK_SMTP_PORT", strconv.Itoa(file.SMTPPort), cfg.SMTPPort)
	cfg.SMTPFrom = readString("PULSECHECK_SMTP_FROM", file.SMTPFrom)
	cfg.SMTPUsername = readString("PULSECHECK_SMTP_USERNAME", file.SMTPUsername)
	cfg.SMTPPassword = readString("PULSECHECK_SMTP_PASSWORD", file.SMTPPassword)

	if v := readString("PULSECHECK_LOG_LEVEL", file.LogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
}

func readString(envKey, fileValue string) string {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v
	}
	return strings.TrimSpace(fileValue)
}

func readDuration(envKey, fileValue string, fallback time.Duration) time.Duration {
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if v, ok := parseDuration(raw); ok {
			return v
		}
	}
	if v, ok := parseDuration(strings.TrimSpace(fileValue)); ok {
		return v
	}
	return fallback
}

func readPositiveInt(envKey, fileValue string, fallback int) int {
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if v, ok := parsePositiveInt(raw); ok {
			return v
		}
	}
	if v, ok := parsePositiveInt(strings.TrimSpace(fileValue)); ok {
		return v
	}
	return fallback
}

func readBool(envKey, fileValue string, fallback bool) bool {
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if v, ok := parseBool(raw); ok {
			return v
		}
	}
	if v, ok := parseBool(strings.TrimSpace(fileValue)); ok {
		return v
	}
	return fallback
}

func parsePositiveFloat(raw string) (float64, bool) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

// readFloatSecondsDuration resolves a fractional-seconds setting (env
// wins over file) into a time.Duration, the same float-seconds-to-
// Duration convention internal/store uses for schedule timeout/grace
// columns. Returns fallback if neither source parses to a positive value.
func readFloatSecondsDuration(envKey, fileValue string, fallback time.Duration) time.Duration {
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if v, ok := parsePositiveFloat(raw); ok {
			return time.Duration(v * float64(time.Second))
		}
	}
	if v, ok := parsePositiveFloat(strings.TrimSpace(fileValue)); ok {
		return time.Duration(v * float64(time.Second))
	}
	return fallback
}

// loadFile decodes config.toml with github.com/BurntSushi/toml. A
// missing or malformed file yields the zero value, matching the
// teacher's "best-effort, never fatal" posture for configuration.
func loadFile(path string) fileConfig {
	var fc fileConfig
	_, _ = toml.DecodeFile(path, &fc)
	return fc
}

// writeDefaultConfig creates the config file with commented-out defaults.
// Best-effort: errors are silently ignored.
func writeDefaultConfig(path string) {
	_ = os.MkdirAll(filepath.Dir(path), 0o700)
	_ = os.WriteFile(path, []byte(defaultConfigContent), 0o600) //nolint:gosec // fixed content, not user input
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func parseDuration(raw string) (time.Duration, bool) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func parsePositiveInt(raw string) (int, bool) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

func resolveHomeDir() (string, error) {
	if home := strings.TrimSpace(os.Getenv("HOME")); home != "" {
		return home, nil
	}
	if home, err := osUserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
		return strings.TrimSpace(home), nil
	}
	if current, err := osCurrentUser(); err == nil && current != nil {
		if home := strings.TrimSpace(current.HomeDir); home != "" {
			return home, nil
		}
	}
	if osGeteuid() == 0 {
		// System services may run without HOME set.
		if runtime.GOOS == "darwin" {
			return "/var/root", nil
		}
		return "/root", nil
	}
	return "", errors.New("home directory not found")
}
