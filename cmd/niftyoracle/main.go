package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/niftyoracle/internal/config"
	"github.com/rewired-gh/niftyoracle/internal/contest"
	"github.com/rewired-gh/niftyoracle/internal/credentials"
	"github.com/rewired-gh/niftyoracle/internal/feed"
	"github.com/rewired-gh/niftyoracle/internal/kite"
	"github.com/rewired-gh/niftyoracle/internal/logger"
	"github.com/rewired-gh/niftyoracle/internal/metrics"
	"github.com/rewired-gh/niftyoracle/internal/models"
	"github.com/rewired-gh/niftyoracle/internal/storage"
	"github.com/rewired-gh/niftyoracle/internal/telegram"
	"github.com/rewired-gh/niftyoracle/internal/token"
)

var (
	configPath  = flag.String("config", "configs/config.yaml", "Path to configuration file")
	leaderboard = flag.Bool("leaderboard", false, "Print the active contest leaderboard and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxSamples, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()
	if err := store.EnsureDefaultContest(cfg.Contest.DefaultName); err != nil {
		logger.Fatal("Failed to create default contest: %v", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	kiteClient := kite.NewClient(kite.Config{
		BaseURL:    cfg.Kite.APIURL,
		APIKey:     cfg.Kite.APIKey,
		Instrument: cfg.Kite.Instrument,
		Timeout:    cfg.Kite.Timeout,
		RatePerSec: cfg.Kite.RateLimit,
	})

	var credStore credentials.Store = &credentials.Memory{}
	if cfg.Credentials.EnvPath != "" {
		credStore = credentials.NewEnvFile(cfg.Credentials.EnvPath)
	} else {
		logger.Warn("credentials.env_path is empty, refreshed tokens will not survive a restart")
	}

	tokens := token.New(token.Config{
		APIKey:       cfg.Kite.APIKey,
		APISecret:    cfg.Kite.APISecret,
		RequestToken: cfg.Kite.RequestToken,
		AccessToken:  cfg.Kite.AccessToken,
	}, kiteClient, credStore)
	tokens.SetObserver(func(prev, next models.TokenState) {
		if prev.Status != next.Status {
			logger.Info("Token status %s -> %s", prev.Status, next.Status)
		}
		if m != nil {
			m.SetTokenState(next)
		}
	})
	if m != nil {
		m.SetTokenState(tokens.Snapshot())
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	var feedOpts []feed.Option
	if telegramClient != nil {
		feedOpts = append(feedOpts, feed.WithNotifier(telegramClient))
	}
	if m != nil {
		feedOpts = append(feedOpts, feed.WithRecorder(m))
	}
	sched := feed.New(feed.Config{
		Interval:     cfg.Feed.PollInterval,
		FetchTimeout: cfg.Kite.Timeout,
		RetryBase:    cfg.Feed.RetryBase,
		RetryMax:     cfg.Feed.RetryMax,
	}, kiteClient, tokens, store, feedOpts...)

	var svcOpts []contest.Option
	if m != nil {
		svcOpts = append(svcOpts, contest.WithRecorder(m))
	}
	svc := contest.NewService(contest.Config{
		BandPct:    cfg.Contest.BandPct,
		TopN:       cfg.Contest.TopN,
		AdminPIN:   cfg.Admin.PIN,
		SessionTTL: cfg.Admin.SessionTTL,
	}, store, tokens, sched, svcOpts...)

	if *leaderboard {
		if err := printLeaderboard(os.Stdout, svc); err != nil {
			logger.Fatal("Failed to print leaderboard: %v", err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if m != nil {
		srv := metrics.StartServer(cfg.Metrics.Addr, m, store.Ping)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to stop metrics server: %v", err)
			}
		}()
	}

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, telegram.StatusFunc(func(context.Context) (telegram.Status, error) {
			return buildStatus(svc, sched, tokens)
		}))
	}

	if _, ok := tokens.AccessToken(); ok {
		logger.Debug("Access token configured, running initial fetch")
		if outcome, err := sched.TriggerImmediateFetch(ctx); err != nil {
			logger.Warn("Initial fetch ended with %s: %v", outcome, err)
		}
	} else {
		logger.Warn("No access token configured, polling waits for an operator refresh")
	}

	sched.Run(ctx)
	logger.Info("Service stopped")
}

func buildStatus(svc *contest.Service, sched *feed.Scheduler, tokens *token.Manager) (telegram.Status, error) {
	view, err := svc.ViewHome()
	if err != nil {
		return telegram.Status{}, err
	}
	market := sched.Snapshot()
	tok := tokens.Snapshot()

	st := telegram.Status{
		CurrentPrice: market.CurrentPrice,
		ClosePrice:   market.LastClosePrice,
		LastFetchAt:  market.LastFetchAt,
		TokenStatus:  tok.Status.String(),
		TokenError:   tok.LastError,
	}
	if view.Contest != nil {
		st.ContestName = view.Contest.Name
	}
	for _, r := range view.TopPredictions {
		st.Top = append(st.Top, telegram.Entry{Name: r.Name, Value: r.PredictedValue, Distance: r.Distance})
	}
	return st, nil
}
