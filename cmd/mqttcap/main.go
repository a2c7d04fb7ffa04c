// mqttcap runs one bounded-duration MQTT capture session: it subscribes to
// the configured topic set, consumes messages for a fixed window while
// recovering from connection loss, writes the captured payloads to a JSON
// file, and prints a throughput summary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/calyptra/mqttcap/pkg/capture"
	"github.com/calyptra/mqttcap/pkg/config"
	"github.com/calyptra/mqttcap/pkg/mqttclient"
	"github.com/calyptra/mqttcap/pkg/report"
)

type cliArgs struct {
	ConfigFile string
	Duration   int
	OutputFile string
	LogLevel   string
	JSONLog    bool
}

func main() {
	// Optional .env next to the binary; absence is fine.
	_ = godotenv.Load()

	var args cliArgs
	app := &cli.App{
		Name:  "mqttcap",
		Usage: "bounded-duration MQTT message capture",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to the YAML config file; built-in defaults are used if it cannot be loaded",
				Aliases:     []string{"c"},
				EnvVars:     []string{"MQTTCAP_CONFIG"},
				Value:       "config.yaml",
				Destination: &args.ConfigFile,
			},
			&cli.IntFlag{
				Name:        "duration",
				Usage:       "Capture duration in seconds",
				Aliases:     []string{"d"},
				EnvVars:     []string{"MQTTCAP_DURATION"},
				Value:       10,
				Destination: &args.Duration,
			},
			&cli.StringFlag{
				Name:        "output",
				Usage:       "Path of the capture output file (default: output-<random>.json)",
				Aliases:     []string{"o"},
				EnvVars:     []string{"MQTTCAP_OUTPUT"},
				Destination: &args.OutputFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"MQTTCAP_LOG_LEVEL"},
				Value:       "info",
				Destination: &args.LogLevel,
			},
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Log in JSON format instead of console format",
				EnvVars:     []string{"MQTTCAP_LOG_AS_JSON"},
				Destination: &args.JSONLog,
			},
		},
		Action: func(_ *cli.Context) error {
			return run(args)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mqttcap: %v\n", err)
		os.Exit(1)
	}
}

func run(args cliArgs) error {
	logger, err := newLogger(args.LogLevel, args.JSONLog)
	if err != nil {
		return err
	}

	cfg, err := config.Load(args.ConfigFile)
	if err != nil {
		logger.Warn().Err(err).Str("path", args.ConfigFile).Msg("Could not load config file, falling back to built-in defaults.")
		cfg = config.Default()
	}

	outputFile := args.OutputFile
	if outputFile == "" {
		outputFile = fmt.Sprintf("output-%s.json", uuid.NewString())
	}

	client, err := mqttclient.New(mqttclient.Config{
		BrokerURL:          cfg.Hostname,
		ClientID:           cfg.ClientID,
		Username:           cfg.Username,
		Password:           cfg.Password,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		CACertFile:         cfg.CACertFile,
		ClientCertFile:     cfg.ClientCertFile,
		ClientKeyFile:      cfg.ClientKeyFile,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create MQTT client: %w", err)
	}

	session, err := capture.NewSession(client, capture.SessionConfig{
		Topics:          cfg.Topics(),
		CaptureDuration: time.Duration(args.Duration) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create capture session: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := session.Run(ctx)
	if err != nil {
		return err
	}

	if err := report.WriteRecords(outputFile, result.Records); err != nil {
		return err
	}
	logger.Info().Str("path", outputFile).Int("records", len(result.Records)).Msg("Captured messages written.")

	fmt.Println(report.RenderStats(result.TopicCount, result.Stats, result.Elapsed))
	return nil
}

func newLogger(level string, jsonLog bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if jsonLog {
		return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger(), nil
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger(), nil
}
