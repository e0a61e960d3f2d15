package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/educonnect/videocall/config"
	"github.com/educonnect/videocall/pkg/awsclient"
	"github.com/educonnect/videocall/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "educall",
	Short:         "EduConnect video calls: meeting bootstrap, telemetry ingestion and call client",
	Long:          `Commands: serve (HTTP + WebSocket services), worker (telemetry archive), call (interactive call).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe, // default: same as "educall serve"
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(callCmd)
}

// Execute runs the root command and returns the error for main to report.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads configuration and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func loadAWS(ctx context.Context, cfg *config.Config, log *zap.Logger) (aws.Config, error) {
	return awsclient.Load(ctx, awsclient.Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	}, log)
}
