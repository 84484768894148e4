package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fizzbot/internal/app"
	"fizzbot/internal/config"
	logx "fizzbot/pkg/logx"
)

func main() {
	var cfgPath, envFile string
	flag.StringVar(&cfgPath, "config", "", "optional path to config yaml/json")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	// Console only until the configured log service exists.
	boot := logx.NewConsole(os.Getenv(config.EnvLogLevel)).With(logx.String("comp", "main"))

	if err := config.LoadDotenv(envFile); err != nil {
		fatal(boot, err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatal(boot, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg)
	if err != nil {
		fatal(boot, err)
	}
	if err := a.Start(ctx); err != nil {
		fatal(boot, err)
	}

	<-a.Done()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
	if err := a.Err(); err != nil {
		boot.Warn("exited with task error", logx.Err(err))
	}
}

func fatal(log logx.Logger, err error) {
	var se *config.StartupError
	if errors.As(err, &se) {
		log.Error("startup failed", logx.String("field", se.Field), logx.Err(se.Err))
	} else {
		log.Error("fatal", logx.Err(err))
	}
	os.Exit(1)
}
