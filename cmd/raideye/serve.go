package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/raideye/raideye/internal/channel"
	"github.com/raideye/raideye/internal/channel/adapters/discord"
	"github.com/raideye/raideye/internal/channel/inbound"
	"github.com/raideye/raideye/internal/clash"
	"github.com/raideye/raideye/internal/config"
	"github.com/raideye/raideye/internal/handlers"
	"github.com/raideye/raideye/internal/logger"
	"github.com/raideye/raideye/internal/server"
	"github.com/raideye/raideye/internal/stats"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			providePipelineHTTPClient,
			provideClanResolver,
			clash.NewLocator,
			provideExtractionClient,
			clash.NewClassifier,
			provideInjectionClient,
			clash.NewPayloadBuilder,
			stats.NewCollector,
			provideAdapter,
			provideOrchestrator,
			provideProcessor,
			handlers.NewPingHandler,
			handlers.NewStatusHandler,
			provideServer,
		),
		fx.Invoke(
			startBot,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func providePipelineHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{Timeout: time.Duration(cfg.Server.PipelineTimeoutSec) * time.Second}
}

// provideClanResolver seeds the token mapping with the clan list the
// server advertises. A failed fetch is not fatal; configured tokens
// still work.
func provideClanResolver(log *slog.Logger, cfg config.Config, httpClient *http.Client) *clash.ClanResolver {
	mapping := cfg.Clans.Mapping

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.StatusTimeoutSec)*time.Second)
	defer cancel()
	clans, err := clash.FetchServerClans(ctx, cfg.Server.APIBase(), httpClient)
	if err != nil {
		log.Warn("fetch server clans failed", slog.Any("error", err))
	} else {
		mapping = clash.MergeClanList(mapping, clans)
	}
	return clash.NewClanResolver(mapping)
}

func provideExtractionClient(log *slog.Logger, cfg config.Config, httpClient *http.Client) *clash.ExtractionClient {
	return clash.NewExtractionClient(log, cfg.Server.APIBase(), httpClient)
}

func provideInjectionClient(log *slog.Logger, cfg config.Config, httpClient *http.Client) *clash.InjectionClient {
	return clash.NewInjectionClient(log, cfg.Server.BaseURL, cfg.Server.APIBase(), httpClient)
}

func provideAdapter(log *slog.Logger, cfg config.Config) (*discord.Adapter, error) {
	return discord.NewAdapter(log, cfg.Discord.BotToken, cfg.Discord.GuildID)
}

func provideOrchestrator(log *slog.Logger, locator *clash.Locator, classifier *clash.Classifier, extraction *clash.ExtractionClient, injection *clash.InjectionClient, clans *clash.ClanResolver, payload *clash.PayloadBuilder, adapter *discord.Adapter, collector *stats.Collector) *clash.Orchestrator {
	o := clash.NewOrchestrator(log, locator, classifier, extraction, injection, clans, payload)
	o.SetCleaner(adapter)
	o.SetRecorder(collector)
	o.SetWorkDir(filepath.Join(os.TempDir(), "raideye"))
	return o
}

func provideProcessor(log *slog.Logger, orchestrator *clash.Orchestrator, adapter *discord.Adapter, cfg config.Config) *inbound.Processor {
	return inbound.NewProcessor(log, orchestrator, adapter, inbound.Options{
		GuildID:         cfg.Discord.GuildID,
		MainChannelID:   cfg.Discord.MainChannelID,
		DryRun:          cfg.Server.DryRun,
		DeleteOnSuccess: cfg.Discord.DeleteOnSuccess,
	})
}

func provideServer(cfg config.Config, pingHandler *handlers.PingHandler, statusHandler *handlers.StatusHandler) *server.Server {
	return server.NewServer(cfg.Admin.Addr, pingHandler, statusHandler)
}

func startBot(lc fx.Lifecycle, log *slog.Logger, adapter *discord.Adapter, processor *inbound.Processor) {
	lc.Append(botHook(log, adapter, processor.HandleMessage, processor.HandleCommand))
}

// botSession is the slice of the adapter the bot lifecycle needs.
type botSession interface {
	Connect(ctx context.Context, handler channel.InboundHandler, commands channel.CommandHandler) error
	Close() error
}

// botHook owns the session context. The OnStart context only bounds
// startup; the handlers Connect installs keep running on this one until
// OnStop cancels it.
func botHook(log *slog.Logger, session botSession, handler channel.InboundHandler, commands channel.CommandHandler) fx.Hook {
	ctx, cancel := context.WithCancel(context.Background())
	return fx.Hook{
		OnStart: func(context.Context) error {
			if err := session.Connect(ctx, handler, commands); err != nil {
				cancel()
				return fmt.Errorf("discord connect: %w", err)
			}
			log.Info("discord adapter connected")
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return session.Close()
		},
	}
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("admin server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
