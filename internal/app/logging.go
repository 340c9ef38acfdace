package app

import (
	"fmt"
	"io"
	stdslog "log/slog"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/sceneshare"
	asynchook "github.com/unkn0wn-root/sceneshare/hooks/async"
	sclogrus "github.com/unkn0wn-root/sceneshare/log/logrus"
	scslog "github.com/unkn0wn-root/sceneshare/log/slog"
	sczap "github.com/unkn0wn-root/sceneshare/log/zap"
	"github.com/unkn0wn-root/sceneshare/sloghooks"
)

// Logging is the logger and hooks of one run. Close flushes both.
type Logging struct {
	Logger sceneshare.Logger
	Hooks  *asynchook.Hooks
	close  func()
}

func (l *Logging) Close() {
	l.Hooks.Close()
	if l.close != nil {
		l.close()
	}
}

// NewLogging builds the configured backend writing to w. Hook events go
// through log/slog on the same writer, off the calling goroutine.
func NewLogging(format, level string, w io.Writer) (*Logging, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	slvl := stdslog.LevelInfo
	switch lvl {
	case zapcore.DebugLevel:
		slvl = stdslog.LevelDebug
	case zapcore.WarnLevel:
		slvl = stdslog.LevelWarn
	case zapcore.ErrorLevel:
		slvl = stdslog.LevelError
	}
	sl := stdslog.New(stdslog.NewTextHandler(w, &stdslog.HandlerOptions{Level: slvl}))

	out := &Logging{Hooks: asynchook.New(sloghooks.New(sl, sloghooks.Options{BuiltEvery: 10}), 1, 1024)}
	switch format {
	case "logrus":
		lr := logrus.New()
		lr.SetOutput(w)
		lr.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
		lrl, err := logrus.ParseLevel(lvl.String())
		if err != nil {
			return nil, err
		}
		lr.SetLevel(lrl)
		out.Logger = sclogrus.New(lr)
	case "slog":
		out.Logger = scslog.Logger{L: sl}
	default:
		enc := zap.NewDevelopmentEncoderConfig()
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), lvl)
		zl := zap.New(core)
		out.Logger = sczap.New(zl)
		out.close = func() { _ = zl.Sync() }
	}
	return out, nil
}
