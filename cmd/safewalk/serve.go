package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/safewalk-io/safewalk/internal/checkin"
	"github.com/safewalk-io/safewalk/internal/config"
	"github.com/safewalk-io/safewalk/internal/contacts"
	"github.com/safewalk-io/safewalk/internal/db"
	"github.com/safewalk-io/safewalk/internal/escalation"
	"github.com/safewalk-io/safewalk/internal/handlers"
	"github.com/safewalk-io/safewalk/internal/logger"
	"github.com/safewalk-io/safewalk/internal/notify"
	"github.com/safewalk-io/safewalk/internal/notify/transport"
	"github.com/safewalk-io/safewalk/internal/passcode"
	"github.com/safewalk-io/safewalk/internal/server"
	"github.com/safewalk-io/safewalk/internal/settings"
	"github.com/safewalk-io/safewalk/internal/users"
	"github.com/safewalk-io/safewalk/internal/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the SafeWalk API server and background watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				fx.Provide(
					loadConfig,
					provideLogger,
					provideDBConn,

					checkin.NewPGStore,
					contacts.NewPGStore,
					escalation.NewPGStore,
					passcode.NewPGStore,
					settings.NewPGStore,
					users.NewPGStore,

					checkin.NewFeed,
					notify.NewInApp,
					users.NewService,
					provideContactsService,
					providePasscodeService,
					provideSettingsService,
					provideCheckInService,
					provideChannels,
					provideDispatcher,
					provideEngine,
					provideWatcher,

					provideServerHandler(providePingHandler),
					provideServerHandler(provideAuthHandler),
					provideServerHandler(provideCheckInsHandler),
					provideServerHandler(provideAlertsHandler),
					provideServerHandler(provideContactsHandler),
					provideServerHandler(provideSettingsHandler),
					provideServerHandler(provideNotificationsHandler),
					provideServerHandler(provideWebhookHandler),

					provideServer,
				),
				fx.Invoke(
					startWatcher,
					startServer,
				),
				fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
					return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
				}),
			)
			app.Run()
			return nil
		},
	}
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideContactsService(log *slog.Logger, store contacts.Store, cfg config.Config) (*contacts.Service, error) {
	ttl, err := time.ParseDuration(cfg.CheckIn.EphemeralTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid ephemeral_ttl: %w", err)
	}
	return contacts.NewService(log, store, ttl), nil
}

func providePasscodeService(log *slog.Logger, store passcode.Store, cfg config.Config) *passcode.Service {
	return passcode.NewService(log, store, cfg.Auth.MinCodeLength)
}

func provideSettingsService(log *slog.Logger, store settings.Store, cfg config.Config) *settings.Service {
	return settings.NewService(log, store, cfg.Notify.SMSWeeklyCap)
}

func provideCheckInService(log *slog.Logger, store checkin.Store, contactsService *contacts.Service, inapp *notify.InApp, feed *checkin.Feed, cfg config.Config) *checkin.Service {
	return checkin.NewService(log, store, contactsService, inapp, feed, cfg.CheckIn.MaxContacts)
}

// provideChannels builds a transport per configured channel. Missing
// credentials just narrow the ranking; the dispatcher skips unconfigured
// channels.
func provideChannels(log *slog.Logger, cfg config.Config) []notify.Channel {
	var channels []notify.Channel
	if strings.TrimSpace(cfg.Channels.Push.BaseURL) != "" {
		ch, err := transport.NewPushChannel(log, cfg.Channels.Push)
		if err != nil {
			log.Warn("push channel disabled", slog.Any("error", err))
		} else {
			channels = append(channels, ch)
		}
	}
	if strings.TrimSpace(cfg.Channels.Telegram.BotToken) != "" {
		ch, err := transport.NewBridgeChannel(log, cfg.Channels.Telegram.BotToken)
		if err != nil {
			log.Warn("bridge channel disabled", slog.Any("error", err))
		} else {
			channels = append(channels, ch)
		}
	}
	if strings.TrimSpace(cfg.Channels.SMS.BaseURL) != "" {
		ch, err := transport.NewSMSChannel(log, cfg.Channels.SMS)
		if err != nil {
			log.Warn("sms channel disabled", slog.Any("error", err))
		} else {
			channels = append(channels, ch)
		}
	}
	if strings.TrimSpace(cfg.Channels.SMTP.Host) != "" {
		ch, err := transport.NewEmailChannel(log, cfg.Channels.SMTP)
		if err != nil {
			log.Warn("email channel disabled", slog.Any("error", err))
		} else {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		log.Warn("no outbound channels configured; alerts will only be recorded")
	}
	return channels
}

func provideDispatcher(log *slog.Logger, settingsService *settings.Service, channels []notify.Channel, cfg config.Config) *notify.Dispatcher {
	return notify.NewDispatcher(log, settingsService, cfg.Notify.SendsPerSecond, cfg.Notify.MaxParallel, channels...)
}

func provideEngine(log *slog.Logger, checkinStore checkin.Store, store escalation.Store, contactsService *contacts.Service, dispatcher *notify.Dispatcher, feed *checkin.Feed) *escalation.Engine {
	return escalation.NewEngine(log, checkinStore, store, contactsService, dispatcher, feed)
}

func provideWatcher(log *slog.Logger, cfg config.Config, engine *escalation.Engine, settingsService *settings.Service, checkinService *checkin.Service, contactsService *contacts.Service) (*escalation.Watcher, error) {
	return escalation.NewWatcher(log, cfg.CheckIn, engine, settingsService, checkinService, contactsService)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func providePingHandler() *handlers.PingHandler {
	return handlers.NewPingHandler()
}

func provideAuthHandler(userService *users.Service, cfg config.Config) (*handlers.AuthHandler, error) {
	ttl, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt_expires_in: %w", err)
	}
	return handlers.NewAuthHandler(userService, cfg.Auth.JWTSecret, ttl), nil
}

func provideCheckInsHandler(log *slog.Logger, service *checkin.Service, codes *passcode.Service, engine *escalation.Engine, feed *checkin.Feed) *handlers.CheckInsHandler {
	return handlers.NewCheckInsHandler(log, service, codes, engine, feed)
}

func provideAlertsHandler(engine *escalation.Engine) *handlers.AlertsHandler {
	return handlers.NewAlertsHandler(engine)
}

func provideContactsHandler(service *contacts.Service, cfg config.Config) *handlers.ContactsHandler {
	return handlers.NewContactsHandler(service, cfg.Auth.JWTSecret)
}

func provideSettingsHandler(service *settings.Service, codes *passcode.Service) *handlers.SettingsHandler {
	return handlers.NewSettingsHandler(service, codes)
}

func provideNotificationsHandler(inapp *notify.InApp) *handlers.NotificationsHandler {
	return handlers.NewNotificationsHandler(inapp)
}

func provideWebhookHandler(log *slog.Logger, service *contacts.Service, cfg config.Config) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, service, cfg.Auth.JWTSecret, cfg.Channels.Telegram.WebhookSecret)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers...)
}

func startWatcher(lc fx.Lifecycle, watcher *escalation.Watcher) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return watcher.Start()
		},
		OnStop: func(ctx context.Context) error {
			return watcher.Stop(ctx)
		},
	})
}

func startServer(
	lc fx.Lifecycle,
	logger *slog.Logger,
	srv *server.Server,
	shutdowner fx.Shutdowner,
	cfg config.Config,
	userService *users.Service,
) {
	fmt.Printf("Starting SafeWalk %s\n", version.Version)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := ensureAdminUser(ctx, logger, userService, cfg); err != nil {
				return err
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

func ensureAdminUser(ctx context.Context, log *slog.Logger, userService *users.Service, cfg config.Config) error {
	username := strings.TrimSpace(cfg.Admin.Username)
	password := strings.TrimSpace(cfg.Admin.Password)
	if username == "" || password == "" {
		return nil
	}
	user, err := userService.EnsureUser(ctx, username, password)
	if err != nil {
		return fmt.Errorf("ensure admin user: %w", err)
	}
	log.Info("admin user ready", slog.String("user_id", user.ID), slog.String("username", username))
	return nil
}
