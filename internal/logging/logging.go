// Package logging builds the zap-backed logr.Logger used by the binaries.
package logging

import (
	"io"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger writing to w. verbosity follows logr: 0 logs
// Info and errors, 1 adds the V(1) routing decisions, and so on.
// The returned func flushes buffered entries.
func New(w io.Writer, verbosity int) (logr.Logger, func()) {
	if verbosity < 0 {
		verbosity = 0
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(enc),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(zapcore.Level(int8(-verbosity))),
	)
	zl := zap.New(core, zap.AddCaller())
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }
}
