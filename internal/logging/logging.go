// Package logging builds the process logger.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options select the encoder, level and sinks.
type Options struct {
	Level string // debug, info, warn, error; empty means info
	File  string // rotating log file; empty logs to stderr only
	Dev   bool   // console encoder instead of JSON

	// Rotation limits for File. Zero values select the defaults below.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
	defaultMaxAgeDays = 28
)

// New returns a logger writing to stderr and, when File is set, to a rotating
// file. The returned cleanup flushes the logger and closes the file.
func New(o Options) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if o.Level != "" {
		l, err := zapcore.ParseLevel(o.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", o.Level, err)
		}
		level = l
	}

	encCfg := zap.NewProductionEncoderConfig()
	if o.Dev {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if o.Dev {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	var rot *lumberjack.Logger
	if o.File != "" {
		rot = &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    orDefault(o.MaxSizeMB, defaultMaxSizeMB),
			MaxBackups: orDefault(o.MaxBackups, defaultMaxBackups),
			MaxAge:     orDefault(o.MaxAgeDays, defaultMaxAgeDays),
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(rot))
	}

	opts := []zap.Option{zap.AddCaller()}
	if o.Dev {
		opts = append(opts, zap.Development())
	}
	log := zap.New(zapcore.NewCore(enc, sink, zap.NewAtomicLevelAt(level)), opts...)

	cleanup := func() {
		_ = log.Sync()
		if rot != nil {
			_ = rot.Close()
		}
	}
	return log, cleanup, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
