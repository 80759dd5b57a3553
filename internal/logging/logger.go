package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New. Zero values give a warn-level stderr logger.
type Options struct {
	Dir     string    // rotating JSON log directory; empty disables the file core
	Level   string    // console level: debug, info, warn, error
	Console io.Writer // defaults to os.Stderr
}

func New(opts Options) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, err
		}
		level = lvl
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	cc := zap.NewDevelopmentEncoderConfig()
	cc.TimeKey = ""
	cc.EncodeLevel = zapcore.CapitalLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(cc), zapcore.AddSync(console), level),
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, err
		}
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, "ipsafe.log"),
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
		fc := zap.NewProductionEncoderConfig()
		fc.TimeKey = "ts"
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fc), w, zap.InfoLevel))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}

// NewLogger keeps the file-only constructor used by the service.
func NewLogger(logDir string) (*zap.Logger, error) {
	return New(Options{Dir: logDir, Level: "info"})
}
