package pingwatch_config

import (
	"fmt"
	"strings"
	"time"

	"github.com/NordCoder/Pingwatch/internal/obs"
	pg "github.com/NordCoder/Pingwatch/internal/repository/postgres"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	Pretty     bool   `mapstructure:"pretty"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

type Monitor struct {
	Tick            time.Duration `mapstructure:"tick"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	DefaultInterval int           `mapstructure:"default_interval"`
	HonorIntervals  bool          `mapstructure:"honor_intervals"`
	UserAgent       string        `mapstructure:"user_agent"`
	FollowRedirects bool          `mapstructure:"follow_redirects"`
	VerifyTLS       bool          `mapstructure:"verify_tls"`
}

type Storage struct {
	DataDir      string `mapstructure:"data_dir"`
	ServicesFile string `mapstructure:"services_file"`
}

type History struct {
	File          string `mapstructure:"file"`
	MaxEntries    int    `mapstructure:"max_entries"`
	RetentionDays int    `mapstructure:"retention_days"`
	FlushEvery    int    `mapstructure:"flush_every"`
	SinkDSN       string `mapstructure:"sink_dsn"`
}

type SMTP struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	From       string        `mapstructure:"from"`
	To         []string      `mapstructure:"to"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SubjPrefix string        `mapstructure:"subj_prefix"`
}

func (s SMTP) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

func (s SMTP) Enabled() bool { return s.Host != "" && s.From != "" && len(s.To) > 0 }

type Kafka struct {
	Enable  bool     `mapstructure:"enable"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type Alerts struct {
	Threshold         int           `mapstructure:"threshold"`
	QueueSize         int           `mapstructure:"queue_size"`
	Attempts          int           `mapstructure:"attempts"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DiscordWebhookURL string        `mapstructure:"discord_webhook_url"`
	SlackWebhookURL   string        `mapstructure:"slack_webhook_url"`
	SMTP              SMTP          `mapstructure:"smtp"`
	Kafka             Kafka         `mapstructure:"kafka"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type Config struct {
	App     App       `mapstructure:"app"`
	Log     Log       `mapstructure:"log"`
	OTEL    OTEL      `mapstructure:"otel"`
	Monitor Monitor   `mapstructure:"monitor"`
	Storage Storage   `mapstructure:"storage"`
	History History   `mapstructure:"history"`
	Alerts  Alerts    `mapstructure:"alerts"`
	Server  Server    `mapstructure:"server"`
	DB      pg.Config `mapstructure:"db"`
}

func (lc *Log) AsLoggerConfig(app App) obs.LogConfig {
	return obs.LogConfig{
		Level:      lc.Level,
		Pretty:     lc.Pretty,
		App:        app.Name,
		Env:        app.Env,
		Ver:        app.Version,
		File:       lc.File,
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAgeDays: lc.MaxAgeDays,
		Compress:   lc.Compress,
	}
}

func (oc *OTEL) AsOTELConfig(app App) *obs.OTELConfig {
	name := oc.ServiceName
	if name == "" {
		name = app.Name
	}
	return &obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: name,
		SampleRatio: oc.SampleRatio,
		Version:     app.Version,
	}
}

// SinkKind reports which history mirror the DSN selects: "postgres", "sqlite" or "".
func (h History) SinkKind() string {
	dsn := strings.TrimSpace(h.SinkDSN)
	switch {
	case dsn == "":
		return ""
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }

const (
	ErrTick       ErrConfig = "monitor.tick must be positive"
	ErrTimeout    ErrConfig = "monitor.timeout must be positive"
	ErrRetries    ErrConfig = "monitor.max_retries must be at least 1"
	ErrMaxEntries ErrConfig = "history.max_entries must be positive"
	ErrRetention  ErrConfig = "history.retention_days must be positive"
	ErrDataDir    ErrConfig = "storage.data_dir is empty"
	ErrKafka      ErrConfig = "alerts.kafka needs brokers and topic when enabled"
)

func (c *Config) Validate() error {
	switch {
	case c.Monitor.Tick <= 0:
		return ErrTick
	case c.Monitor.Timeout <= 0:
		return ErrTimeout
	case c.Monitor.MaxRetries < 1:
		return ErrRetries
	case c.History.MaxEntries <= 0:
		return ErrMaxEntries
	case c.History.RetentionDays <= 0:
		return ErrRetention
	case strings.TrimSpace(c.Storage.DataDir) == "":
		return ErrDataDir
	case c.Alerts.Kafka.Enable && (len(c.Alerts.Kafka.Brokers) == 0 || c.Alerts.Kafka.Topic == ""):
		return ErrKafka
	}
	return nil
}
