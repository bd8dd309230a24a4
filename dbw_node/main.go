package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"dbw-twist-core/utils"
)

func main() {
	utils.LoadDotEnv()

	var (
		cfgPath  = flag.String("config", utils.GetEnv("DBW_CONFIG", ""), "Node config JSON (defaults when empty)")
		scenPath = flag.String("scenario", utils.GetEnv("DBW_SCENARIO", ""), "Scenario JSON replacing the CAN twist/enable input")
		logLevel = flag.String("log", utils.GetEnv("DBW_LOG_LEVEL", "info"), "trace|debug|info|warn|error|critical")
		logFile  = flag.String("logfile", utils.GetEnv("DBW_LOG_FILE", "dbw_node.log"), "Log file path")
	)
	flag.Parse()

	log, err := utils.NewFileLogger(*logFile, utils.ParseLevel(*logLevel), true)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + *logFile + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	cfg, err := LoadNodeConfig(*cfgPath)
	if err != nil {
		log.Critical("Config failed: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, *scenPath, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		os.Exit(1)
	}
}
