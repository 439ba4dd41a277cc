package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/timjbruce/blog-function/server"
)

func main() {
	configSource := flag.String("config", "config/config.yaml", "Path to a YAML configuration file, or ssm:/parameter/name")
	forceLambda := flag.Bool("lambda", false, "Run as an AWS Lambda handler even outside the Lambda runtime")
	flag.Parse()

	config, err := server.LoadConfig(*configSource)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log, err := server.NewLogger(config, os.Stderr)
	if err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, config, log)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// The Lambda runtime sets AWS_LAMBDA_RUNTIME_API for the bootstrap process
	if *forceLambda || os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		srv.StartLambda()
		return
	}

	log.Info("Starting blog function")
	if err := srv.Start(ctx); err != nil {
		log.Errorf("Server stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Stop(shutdownCtx)
}
