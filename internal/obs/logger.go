package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	Level  string
	Pretty bool
	App    string
	Env    string
	Ver    string

	// File enables a rotated log file next to stderr output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func NewLogger(c LogConfig) (*zap.Logger, error) {
	var cfg zap.Config
	if c.Pretty {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	level := new(zapcore.Level)
	if err := level.Set(c.Level); err != nil {
		*level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(*level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	opts := []zap.Option{
		zap.Fields(
			zap.String("service", c.App),
			zap.String("env", c.Env),
			zap.String("version", c.Ver),
		),
	}
	if c.File != "" {
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore(c, cfg.EncoderConfig, cfg.Level))
		}))
	}

	l, err := cfg.Build(opts...)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// fileCore always writes JSON so rotated files stay machine readable.
func fileCore(c LogConfig, enc zapcore.EncoderConfig, lvl zap.AtomicLevel) zapcore.Core {
	w := &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    orDefault(c.MaxSizeMB, 50),
		MaxBackups: orDefault(c.MaxBackups, 5),
		MaxAge:     orDefault(c.MaxAgeDays, 14),
		Compress:   c.Compress,
	}
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), lvl)
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
