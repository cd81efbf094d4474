package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/lumberjack/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	queueCapacity = 4096
	flushInterval = 2 * time.Second
)

// New builds the agent logger: human readable console output plus JSON
// entries written to a rotating file through a QueueSink. The caller owns
// the returned sink and must Run and Close it.
func New(level, logPath string) (*zap.Logger, *QueueSink, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	rotating := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	sink := NewQueueSink(rotating, queueCapacity, flushInterval, clock.WallClock)

	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEnc := zap.NewDevelopmentEncoderConfig()
	consoleEnc.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.Lock(os.Stdout), lvl),
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), sink, lvl),
	)

	return zap.New(core, zap.AddCaller()), sink, nil
}
