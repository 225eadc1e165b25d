// Package logging builds the logr.Logger shared by every pipectl command.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Options select the verbosity and encoding of the logger.
type Options struct {
	Level  string
	Format string // console|json
	Writer io.Writer
}

// NewWithOptions returns a zap-backed logr.Logger. "debug" also enables
// V(1) messages, such as request bodies.
func NewWithOptions(o Options) (logr.Logger, error) {
	var (
		zapLevel zapcore.Level
		dev      bool
	)
	switch strings.ToLower(strings.TrimSpace(o.Level)) {
	case "debug":
		dev = true
		zapLevel = zapcore.DebugLevel
	case "info", "":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return logr.Logger{}, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", o.Level)
	}

	var encoder crzap.Opts
	switch strings.ToLower(strings.TrimSpace(o.Format)) {
	case "console", "":
		encoder = crzap.ConsoleEncoder()
	case "json":
		encoder = crzap.JSONEncoder()
	default:
		return logr.Logger{}, fmt.Errorf("unknown log format %q (expected console or json)", o.Format)
	}

	w := o.Writer
	if w == nil {
		w = os.Stderr
	}
	atomic := zap.NewAtomicLevelAt(zapLevel)
	return crzap.New(
		crzap.UseDevMode(dev),
		crzap.Level(&atomic),
		encoder,
		crzap.WriteTo(w),
	), nil
}
