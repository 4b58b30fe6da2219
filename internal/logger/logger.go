package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New. Stdout and Stderr default to the process streams
// and exist so tests can capture output.
type Options struct {
	Level string // debug|info|warn|error
	File  string // optional path of a rotated log file

	Stdout io.Writer
	Stderr io.Writer
}

// New builds a JSON zap logger. Records below error level go to stdout,
// error and above go to stderr, so run summaries and failures land on
// separate streams. If opts.File is set every record is also appended to a
// size-rotated file.
func New(opts Options) (*zap.Logger, error) {
	var minLevel zapcore.Level
	if opts.Level == "" {
		opts.Level = "info"
	}
	if err := minLevel.UnmarshalText([]byte(opts.Level)); err != nil {
		return nil, err
	}

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	infoLevels := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= minLevel && l < zapcore.ErrorLevel
	})
	errorLevels := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= minLevel && l >= zapcore.ErrorLevel
	})

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(stdout)), infoLevels),
		zapcore.NewCore(enc.Clone(), zapcore.Lock(zapcore.AddSync(stderr)), errorLevels),
	}

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(rotator), minLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// Flush forces any buffered log entries to be written. Call it from main
// just before the program exits.
func Flush(l *zap.Logger) {
	// Sync on a console-backed core can fail with "invalid argument"; nothing to do about it.
	_ = l.Sync()
}
