// swarmworker registers this machine with the device gate, validates it, and
// only then asks a Swarm agent for a short rollout plan.
//
// Configuration is read from an optional YAML file, an optional .env file,
// the process environment and finally the command-line flags. The process
// exits 0 when the run completes, when the plan limit is reached, or when the
// gate denies execution; it exits 1 on missing credentials, register failures
// and agent errors.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"machineid-swarm/internal/config"
	xerrors "machineid-swarm/internal/errors"
	"machineid-swarm/internal/worker"
	"machineid-swarm/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	var (
		configPath string
		envFile    string
		overrides  config.Overrides
		showHelp   bool
		history    int
	)

	flagSet := pflag.NewFlagSet("swarmworker", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file (env: "+config.EnvConfigPath+")")
	flagSet.StringVar(&envFile, "env-file", ".env", "optional dotenv file; process environment wins")
	flagSet.StringVar(&overrides.DeviceID, "device-id", "", "device identifier (env: "+config.EnvDeviceID+")")
	flagSet.StringVar(&overrides.BaseURL, "base-url", "", "device gate base URL (env: "+config.EnvBaseURL+")")
	flagSet.StringVar(&overrides.ValidateMethod, "validate-method", "", "validate with POST (default) or GET")
	flagSet.StringVar(&overrides.LogLevel, "log-level", "", "debug, info, warn or error")
	flagSet.BoolVar(&overrides.DryRun, "dry-run", false, "run the gate only and skip the Swarm agent")
	flagSet.IntVar(&history, "history", 0, "print the N most recent stored runs and exit")
	flagSet.BoolVarP(&showHelp, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if showHelp {
		fmt.Fprintf(os.Stdout, "Usage: swarmworker [flags]\n\n%s", flagSet.FlagUsages())
		return 0
	}

	cfg, err := config.Load(config.LoadOptions{
		Path:      configPath,
		EnvFiles:  []string{envFile},
		Overrides: overrides,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return xerrors.ExitCodeOf(err)
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Log.AuditPath != "",
			Path:    cfg.Log.AuditPath,
		},
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: 初始化日志失败: %v\n", err)
		return 1
	}
	defer logger.Sync()

	if history > 0 {
		return worker.History(ctx, cfg, nil, os.Stdout, os.Stderr, history)
	}

	return worker.Run(ctx, worker.Deps{
		Config: cfg,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
}
