package pingwatch_config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// legacyEnv maps config keys to the environment names older deployments use.
var legacyEnv = map[string]string{
	"alerts.discord_webhook_url": "DISCORD_WEBHOOK_URL",
	"alerts.slack_webhook_url":   "SLACK_WEBHOOK_URL",
	"alerts.smtp.host":           "SMTP_HOST",
	"alerts.smtp.port":           "SMTP_PORT",
	"alerts.smtp.user":           "SMTP_USERNAME",
	"alerts.smtp.password":       "SMTP_PASSWORD",
	"alerts.smtp.from":           "SMTP_FROM_EMAIL",
	"alerts.smtp.to":             "SMTP_TO_EMAIL",
	"monitor.tick":               "ANALYSIS_MONITOR_CHECK_INTERVAL",
	"monitor.timeout":            "ANALYSIS_MONITOR_TIMEOUT",
	"monitor.max_retries":        "ANALYSIS_MONITOR_MAX_RETRIES",
}

func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	// Older configs express durations as plain seconds ("5", "2.5").
	for _, key := range []string{"monitor.tick", "monitor.timeout", "monitor.backoff_base", "alerts.timeout"} {
		if secs, err := strconv.ParseFloat(v.GetString(key), 64); err == nil {
			v.Set(key, time.Duration(secs*float64(time.Second)))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pingwatch")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.version", "dev")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", false)

	v.SetDefault("otel.enable", false)
	v.SetDefault("otel.otlp_endpoint", "localhost:4317")
	v.SetDefault("otel.service_name", "")
	v.SetDefault("otel.sample_ratio", 1.0)

	v.SetDefault("monitor.tick", "10s")
	v.SetDefault("monitor.timeout", "5s")
	v.SetDefault("monitor.max_retries", 3)
	v.SetDefault("monitor.backoff_base", "1s")
	v.SetDefault("monitor.max_parallel", 0)
	v.SetDefault("monitor.default_interval", 10)
	v.SetDefault("monitor.honor_intervals", true)
	v.SetDefault("monitor.user_agent", "pingwatch/1.0")
	v.SetDefault("monitor.follow_redirects", false)
	v.SetDefault("monitor.verify_tls", true)

	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.services_file", "services.json")

	v.SetDefault("history.file", "history.json")
	v.SetDefault("history.max_entries", 1000)
	v.SetDefault("history.retention_days", 30)
	v.SetDefault("history.flush_every", 10)
	v.SetDefault("history.sink_dsn", "")

	v.SetDefault("alerts.threshold", 1)
	v.SetDefault("alerts.queue_size", 64)
	v.SetDefault("alerts.attempts", 2)
	v.SetDefault("alerts.timeout", "10s")
	v.SetDefault("alerts.discord_webhook_url", "")
	v.SetDefault("alerts.slack_webhook_url", "")
	v.SetDefault("alerts.smtp.host", "")
	v.SetDefault("alerts.smtp.port", 587)
	v.SetDefault("alerts.smtp.from", "")
	v.SetDefault("alerts.smtp.to", []string{})
	v.SetDefault("alerts.smtp.user", "")
	v.SetDefault("alerts.smtp.password", "")
	v.SetDefault("alerts.smtp.use_tls", false)
	v.SetDefault("alerts.smtp.timeout", "10s")
	v.SetDefault("alerts.smtp.subj_prefix", "[pingwatch]")
	v.SetDefault("alerts.kafka.enable", false)
	v.SetDefault("alerts.kafka.brokers", []string{"localhost:9094"})
	v.SetDefault("alerts.kafka.topic", "pingwatch.status.changed")
	v.SetDefault("alerts.kafka.group_id", "pingwatch-tail")

	v.SetDefault("server.metrics_addr", ":8085")

	v.SetDefault("db.url", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.max_conn_idle_time", "10m")
	v.SetDefault("db.health_check_period", "30s")
	v.SetDefault("db.query_timeout", "2s")
}

// normalize resolves relative file names against the data directory and
// splits comma separated recipient lists coming from the environment.
func normalize(cfg *Config) {
	if cfg.Storage.ServicesFile != "" && !filepath.IsAbs(cfg.Storage.ServicesFile) {
		cfg.Storage.ServicesFile = filepath.Join(cfg.Storage.DataDir, cfg.Storage.ServicesFile)
	}
	if cfg.History.File != "" && !filepath.IsAbs(cfg.History.File) {
		cfg.History.File = filepath.Join(cfg.Storage.DataDir, cfg.History.File)
	}
	var to []string
	for _, r := range cfg.Alerts.SMTP.To {
		for _, p := range strings.Split(r, ",") {
			if p = strings.TrimSpace(p); p != "" {
				to = append(to, p)
			}
		}
	}
	cfg.Alerts.SMTP.To = to
	if cfg.DB.URL == "" && cfg.History.SinkKind() == "postgres" {
		cfg.DB.URL = cfg.History.SinkDSN
	}
}
