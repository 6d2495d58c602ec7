package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tmc/mxlwb/options"
)

// ANSI colors for log lines.
const (
	grey          = "\033[38;5;240m"
	boldLightGrey = "\033[1;38;5;240m"
	red           = "\033[38;5;9m"
	yellow        = "\033[38;5;11m"
	reset         = "\033[0m"
)

// fullLineColorLevelEncoder colors the entire output line based on log level
func fullLineColorLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var color string
	switch l {
	case zapcore.DebugLevel:
		color = grey
	case zapcore.InfoLevel:
		color = boldLightGrey
	case zapcore.WarnLevel:
		color = yellow
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		color = red
	default:
		color = reset
	}
	enc.AppendString(color + l.CapitalString())
}

// NewLogger creates a console logger writing to w. The level is Warn,
// Info with verbose and Debug with debug.
func NewLogger(w io.Writer, verbose, debug bool) *zap.SugaredLogger {
	if w == nil {
		w = os.Stderr
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = ""
	cfg.EncoderConfig.LevelKey = "L"
	cfg.EncoderConfig.NameKey = "N"
	cfg.EncoderConfig.FunctionKey = ""
	cfg.EncoderConfig.MessageKey = "M"
	cfg.EncoderConfig.StacktraceKey = "S"
	cfg.EncoderConfig.LineEnding = reset + zapcore.DefaultLineEnding
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncoderConfig.ConsoleSeparator = " "
	cfg.EncoderConfig.EncodeLevel = fullLineColorLevelEncoder

	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level.SetLevel(zapcore.InfoLevel)
	}
	var opts []zap.Option
	if debug {
		cfg.Level.SetLevel(zapcore.DebugLevel)
		cfg.EncoderConfig.TimeKey = "T"
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cfg.EncoderConfig.CallerKey = "C"
		opts = append(opts, zap.AddCaller())
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg.EncoderConfig), zapcore.AddSync(w), cfg.Level)
	return zap.New(core, opts...).Sugar()
}

// setupLogger builds the logger for a run. Logs go to --log-file when set.
// The full-screen workbench owns the terminal, so without a log file it
// logs nothing.
func setupLogger(opts *options.RunOptions) (*zap.SugaredLogger, func(), error) {
	w := opts.Stderr
	closeFile := func() {}
	switch {
	case opts.LogFile != "":
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFile = func() { f.Close() }
	case opts.Mode == options.ModeTUI:
		return zap.NewNop().Sugar(), func() {}, nil
	}
	logger := NewLogger(w, opts.Verbose, opts.DebugMode)
	return logger.Named("mxlwb"), func() {
		_ = logger.Sync()
		closeFile()
	}, nil
}
