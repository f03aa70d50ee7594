package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/lottolabs/sollotto/internal/config"
	"github.com/lottolabs/sollotto/internal/logger"
	"github.com/lottolabs/sollotto/internal/lottery"
	"github.com/lottolabs/sollotto/internal/metrics"
	"github.com/lottolabs/sollotto/internal/notify"
	"github.com/lottolabs/sollotto/internal/server"
	"github.com/lottolabs/sollotto/internal/session"
	"github.com/lottolabs/sollotto/internal/sol"
	"github.com/lottolabs/sollotto/internal/wallet"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultMetricsAddr = "0.0.0.0:0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	bindFlag := flag.String("bind", "0.0.0.0", "HTTP bind host")
	portFlag := flag.Int("port", 8080, "HTTP port")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")

	rpcEndpointFlag := flag.String("solana-rpc", "", "Solana RPC endpoint (or set SOLANA_RPC_ENDPOINT env var)")
	operatorKeyFlag := flag.String("operator-key", "", "Operator wallet base58 secret key (or set OPERATOR_SECRET_KEY env var)")
	payoutAddressFlag := flag.String("payout-address", "", "Operator-cut payout address; empty disables the cut (or set OPERATOR_PAYOUT_ADDRESS env var)")

	slackTokenFlag := flag.String("slack-token", "", "Slack bot token for draw announcements (or set SLACK_BOT_TOKEN env var)")
	slackChannelFlag := flag.String("slack-channel", "", "Slack channel for draw announcements (or set SLACK_CHANNEL env var)")

	flag.Parse()

	// Best effort: local development reads a .env file.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if env := os.Getenv("SOLANA_RPC_ENDPOINT"); env != "" {
		*rpcEndpointFlag = env
	}
	if env := os.Getenv("OPERATOR_SECRET_KEY"); env != "" {
		*operatorKeyFlag = env
	}
	if env := os.Getenv("OPERATOR_PAYOUT_ADDRESS"); env != "" {
		*payoutAddressFlag = env
	}
	if env := os.Getenv("SLACK_BOT_TOKEN"); env != "" {
		*slackTokenFlag = env
	}
	if env := os.Getenv("SLACK_CHANNEL"); env != "" {
		*slackChannelFlag = env
	}

	if *rpcEndpointFlag == "" {
		return errors.New("--solana-rpc (or SOLANA_RPC_ENDPOINT) is required")
	}
	if *operatorKeyFlag == "" {
		return errors.New("--operator-key (or OPERATOR_SECRET_KEY) is required")
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
			Release:     version,
		})
		if err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		} else {
			defer sentry.Flush(5 * time.Second)
		}
	}

	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgCfg := config.PostgresFromEnv(log)
	pool, err := config.OpenPostgres(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := lottery.NewStore(lottery.StoreConfig{Logger: log, Pool: pool})
	if err != nil {
		return err
	}
	wallets, err := wallet.NewRegistry(wallet.RegistryConfig{Logger: log, Pool: pool})
	if err != nil {
		return err
	}

	gateway, err := sol.NewGatewayFromEndpoint(log, *rpcEndpointFlag, *operatorKeyFlag)
	if err != nil {
		return err
	}
	log.Info("payment gateway ready", "operator", gateway.Operator(), "endpoint", *rpcEndpointFlag)

	var sink lottery.Sink
	var announcer notify.Announcer
	if *slackTokenFlag != "" && *slackChannelFlag != "" {
		slackSink, err := notify.NewSlackSink(notify.SlackSinkConfig{
			Logger:   log,
			BotToken: *slackTokenFlag,
			Channel:  *slackChannelFlag,
		})
		if err != nil {
			return err
		}
		sink = slackSink
		announcer = slackSink
		log.Info("draw announcements going to slack", "channel", *slackChannelFlag)
	} else {
		logSink := notify.NewLogSink(log)
		sink = logSink
		announcer = logSink
		log.Info("no slack channel configured, draw announcements go to the log")
	}

	sessions, err := session.NewManager(session.ManagerConfig{Logger: log})
	if err != nil {
		return err
	}
	sessions.StartCleanup(ctx)

	engine, err := lottery.NewEngine(lottery.EngineConfig{
		Logger:                log,
		Store:                 store,
		Gateway:               gateway,
		Addresses:             wallets,
		Sink:                  sink,
		OperatorPayoutAddress: *payoutAddressFlag,
	})
	if err != nil {
		return err
	}

	scheduler, err := lottery.NewScheduler(lottery.SchedulerConfig{
		Logger:  log,
		Runner:  engine,
		Windows: store,
	})
	if err != nil {
		return err
	}

	reminder, err := notify.NewReminder(notify.ReminderConfig{
		Logger:      log,
		Announcer:   announcer,
		Subscribers: wallets,
	})
	if err != nil {
		return err
	}

	httpServer, err := server.New(server.Config{
		Logger:          log,
		Store:           store,
		Wallets:         wallets,
		Sessions:        sessions,
		Payments:        gateway,
		OperatorAddress: gateway.Operator(),
		Bind:            *bindFlag,
		Port:            *portFlag,
		Version:         version,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error {
		err := reminder.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error { return httpServer.Run(ctx) })

	log.Info("sollotto running", "version", version, "http", fmt.Sprintf("%s:%d", *bindFlag, *portFlag))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("sollotto shut down")
	return nil
}
