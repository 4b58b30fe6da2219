// Package cli wires configuration, logging and the store into the anomalyd
// commands.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"anomalyd/internal/config"
	"anomalyd/internal/detector"
	"anomalyd/internal/logger"
)

type app struct {
	cfg      *config.Config
	log      *zap.Logger
	logLevel string
	stdout   io.Writer
	stderr   io.Writer
}

// Execute runs the command line in args and returns the process exit code:
// 0 on success, 1 on any failure.
func Execute(args []string) int {
	return run(args, os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err != nil {
		a.reportError(err)
	}
	if a.log != nil {
		logger.Flush(a.log)
	}
	if err != nil {
		return 1
	}
	return 0
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "anomalyd",
		Short:         "Isolation-forest anomaly detection over per-minute service metrics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override APP_LOG_LEVEL (debug|info|warn|error)")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		a.cfg = config.Load()
		if a.logLevel != "" {
			a.cfg.LogLevel = a.logLevel
		}
		log, err := logger.New(logger.Options{
			Level:  a.cfg.LogLevel,
			File:   a.cfg.LogFile,
			Stdout: a.stdout,
			Stderr: a.stderr,
		})
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		a.log = log.With(zap.String("command", cmd.Name()))
		return nil
	}

	cmd.AddCommand(
		newDetectCmd(a),
		newServeCmd(a),
		newPruneCmd(a),
	)
	return cmd
}

// reportError writes a failure to the error stream, through the logger
// when one was built.
func (a *app) reportError(err error) {
	if a.log == nil {
		fmt.Fprintln(a.stderr, "anomalyd:", err)
		return
	}
	fields := []zap.Field{zap.Error(err)}
	var se *detector.StageError
	if errors.As(err, &se) {
		fields = append(fields, zap.String("stage", string(se.Stage)))
	}
	a.log.Error("command failed", fields...)
}
