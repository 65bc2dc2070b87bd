package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dudk/linepipe/config"
	"github.com/dudk/linepipe/log"
	"github.com/dudk/linepipe/metric"
	"github.com/dudk/linepipe/pipeline"
	"github.com/dudk/linepipe/plugin"
	"github.com/dudk/linepipe/transform"
)

const maxQueueSize = 1000000

// exitError carries process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func usageError(err error) error {
	return &exitError{code: usageExitCode, err: err}
}

func failure(err error) error {
	return &exitError{code: failureExitCode, err: err}
}

// run executes the command line and returns exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdin, stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return successExitCode
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	var exitErr *exitError
	if errors.As(err, &exitErr) && exitErr.code != usageExitCode {
		return exitErr.code
	}
	_ = cmd.Usage()
	return usageExitCode
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "linepipe <queue_size> <plugin1> ... <pluginN>",
		Short: "Stream lines of text through a chain of plugins",
		Long: `linepipe reads lines from stdin and passes each of them through the
chain of plugins in provided order. Every plugin has its own queue of
queue_size lines. The line <END> stops the input.`,
		Example: `  echo 'hello' | linepipe 20 uppercaser rotator logger
  printf 'hello\n<END>\n' | linepipe 1 flipper sink_stdout`,
		Args:              cobra.MinimumNArgs(2),
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), v, args, stdin, stdout, cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("plugin-dir", "", "directory with <name>.so plugins")
	flags.String("output-dir", "", "directory for the logger plugin output")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")
	for key, flag := range map[string]string{
		"log_level":    "log-level",
		"plugin_dir":   "plugin-dir",
		"output_dir":   "output-dir",
		"metrics_addr": "metrics-addr",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		config.SetDefaults(v)
		if file, _ := cmd.Flags().GetString("config"); file != "" {
			v.SetConfigFile(file)
		}
		return nil
	}

	cmd.AddCommand(newListCmd(v))
	return cmd
}

func newListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the list of available plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return usageError(err)
			}
			loader := &plugin.Loader{
				Registry: plugin.Builtin(),
				Dir:      cfg.PluginDir,
			}
			names, err := loader.List()
			if err != nil {
				return failure(err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plugin directory:\n\t%s\n", cfg.PluginDir)
			fmt.Fprintf(out, "Available plugins:\n")
			for _, name := range names {
				fmt.Fprintf(out, "\t%s\n", name)
			}
			return nil
		},
	}
}

func parseQueueSize(s string) (int, error) {
	size, err := strconv.Atoi(s)
	if err != nil || size <= 0 || size > maxQueueSize {
		return 0, fmt.Errorf("invalid queue_size %q: must be between 1 and %d", s, maxQueueSize)
	}
	return size, nil
}

func runPipeline(ctx context.Context, v *viper.Viper, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load(v)
	if err != nil {
		return usageError(err)
	}
	logger, err := log.New(cfg.LogLevel, stderr)
	if err != nil {
		return usageError(err)
	}
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		logger.Debugf("config: %s", spew.Sdump(cfg))
	}

	size, err := parseQueueSize(args[0])
	if err != nil {
		return usageError(err)
	}

	out := transform.NewSyncWriter(stdout)
	metrics := metric.New()
	loader := &plugin.Loader{
		Registry: plugin.Builtin(),
		Dir:      cfg.PluginDir,
		Env: plugin.Env{
			Stdout:          out,
			OutputDir:       cfg.OutputDir,
			LogFile:         cfg.LogFile,
			TypewriterDelay: cfg.TypewriterDelay,
			Logger:          logger,
			Metrics:         metrics,
		},
	}
	plugins, err := loader.LoadAll(args[1:])
	if err != nil {
		return usageError(err)
	}
	p, err := pipeline.New(size, plugins, pipeline.WithLogger(logger))
	if err != nil {
		return failure(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return p.Run(gctx, stdin)
	})
	if cfg.MetricsAddr != "" {
		serveMetrics(g, done, cfg.MetricsAddr, metrics, logger)
	}
	err = g.Wait()
	fmt.Fprintln(out, "Pipeline shutdown complete")
	if err != nil {
		return failure(err)
	}
	return nil
}

// serveMetrics runs metrics endpoint until done is closed.
func serveMetrics(g *errgroup.Group, done <-chan struct{}, addr string, m *metric.Metrics, logger logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.WithField("addr", addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}
