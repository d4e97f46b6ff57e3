package frontrun

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const ErrorsCategory = "errors"

// TradeLogs hands out append-only JSON loggers writing to <dir>/<category>.log.
// A category whose file cannot be opened gets a no-op logger.
type TradeLogs struct {
	mu      sync.Mutex
	dir     string
	console *zap.Logger
	loggers map[string]*zap.Logger
}

func NewTradeLogs(dir string, console *zap.Logger) *TradeLogs {
	return &TradeLogs{
		dir:     dir,
		console: console.Named("tradelog"),
		loggers: make(map[string]*zap.Logger),
	}
}

func (t *TradeLogs) Category(name string) *zap.Logger {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.loggers[name]; ok {
		return l
	}
	l, err := t.open(name)
	if err != nil {
		t.console.Warn("Trade log is disabled", zap.String("category", name), zap.Error(err))
		l = zap.NewNop()
	}
	t.loggers[name] = l
	return l
}

func (t *TradeLogs) open(name string) (*zap.Logger, error) {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{filepath.Join(t.dir, name+".log")}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func (t *TradeLogs) Sync() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range t.loggers {
		_ = l.Sync()
	}
}
