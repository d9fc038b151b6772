package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	sloggger "github.com/roostbot/roost/cmd/roost/log"
	"github.com/roostbot/roost/internal/bot"
	"github.com/roostbot/roost/internal/config"
	"github.com/roostbot/roost/internal/console"
	"github.com/roostbot/roost/internal/event"
	"github.com/roostbot/roost/internal/game/wsbridge"
	"github.com/roostbot/roost/internal/remote/discord"
	ngrokremote "github.com/roostbot/roost/internal/remote/ngrok"
	"github.com/roostbot/roost/internal/remote/telegram"
	"github.com/roostbot/roost/internal/server"
	"github.com/roostbot/roost/internal/storage"
)

var (
	configDir   string
	profileName string
	debugFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "roost",
	Short: "Roost keeps a persistent presence on a remote game server",
	Long: `Roost connects a configured profile to its game server through the
protocol gateway, keeps the session alive across kicks and restarts, answers
verification challenges and chat triggers, and exposes console, web, Discord
and Telegram front ends for remote control.`,
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config",
		"Directory holding roost.yaml and the profile directories")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "",
		"Profile to run (default: the only profile, error if several exist)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"Enable debug logging regardless of configuration")
}

// wrapWithRecover wraps a function with panic recovery logic
func wrapWithRecover(logger *slog.Logger, f func() error) func() error {
	return func() error {
		defer func() {
			if r := recover(); r != nil {
				stackTrace := debug.Stack()
				errMsg := fmt.Sprintf("panic recovered: %v\nStacktrace: %s", r, stackTrace)
				logger.Error(errMsg)
				sloggger.FlushLog()
			}
		}()
		return f()
	}
}

// pickProfile resolves the --profile flag against the loaded profiles. With a
// single profile configured the flag is optional.
func pickProfile(name string) (*config.ProfileCfg, error) {
	profiles := config.GetProfiles()
	if len(profiles) == 0 {
		return nil, fmt.Errorf("no profiles found under %s, create one from the template first", config.BaseDir())
	}

	if name == "" {
		if len(profiles) == 1 {
			for _, p := range profiles {
				return p, nil
			}
		}
		return nil, fmt.Errorf("multiple profiles configured, pick one with --profile")
	}

	p, ok := config.GetProfile(name)
	if !ok {
		return nil, fmt.Errorf("profile %q not found under %s", name, config.BaseDir())
	}
	return p, nil
}

func run() error {
	config.SetBaseDir(configDir)
	if err := config.Load(); err != nil {
		log.Fatalf("Error loading configuration: %s", err.Error())
	}

	if debugFlag {
		config.Roost.Debug.Log = true
	}

	profile, err := pickProfile(profileName)
	if err != nil {
		return err
	}

	logger, err := sloggger.NewLogger(config.Roost.Debug.Log, config.Roost.LogSaveDirectory, profile.ProfileName)
	if err != nil {
		log.Fatalf("Error starting logger: %s", err.Error())
	}
	defer sloggger.FlushAndClose()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("fatal error detected, Roost will close with the following error: %v\n Stacktrace: %s", r, debug.Stack())
			logger.Error(err.Error())
			sloggger.FlushAndClose()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	eventListener := event.NewListener(logger)

	var store *storage.Store
	if config.Roost.Storage.Path != "" {
		store, err = storage.Open(ctx, config.Roost.Storage.Path)
		if err != nil {
			logger.Error("Session journal could not be opened, continuing without it", slog.Any("error", err))
		}
	}

	dial := wsbridge.Dialer(config.Roost.Bridge.URL, logger)
	sup := bot.NewSupervisor(logger, profile, dial, store)
	dispatcher := bot.NewDispatcher(logger, sup, profile, store)

	srv := server.New(logger, sup, dispatcher, store)
	eventListener.Register(srv.HandleEvent)

	var ngrokTunnel *ngrokremote.Tunnel
	if config.Roost.Ngrok.Enabled && config.Roost.Web.Enabled {
		opts := ngrokremote.FromConfig(config.Roost)
		if !opts.HasToken() {
			logger.Warn("ngrok enabled but no authtoken set; skipping tunnel start")
		} else {
			tunnel, err := ngrokremote.Start(ctx, opts)
			if err != nil {
				logger.Error("ngrok tunnel failed to start", slog.Any("error", err))
			} else {
				logger.Info("ngrok tunnel established", slog.String("url", tunnel.URL()))
				if config.Roost.Ngrok.SendURL {
					go event.Send(event.Tunnel(tunnel.URL()))
				}
				ngrokTunnel = tunnel
			}
		}
	}

	if config.Roost.Discord.Enabled {
		discordBot, err := discord.NewBot(config.Roost.Discord.Token, config.Roost.Discord.ChannelID, dispatcher)
		if err != nil {
			logger.Error("Discord could not been initialized", slog.Any("error", err))
			return err
		}

		eventListener.Register(discordBot.Handle)
		g.Go(wrapWithRecover(logger, func() error {
			return discordBot.Start(ctx)
		}))
	}

	if config.Roost.Telegram.Enabled {
		telegramBot, err := telegram.NewBot(config.Roost.Telegram.Token, config.Roost.Telegram.ChatID, dispatcher, logger)
		if err != nil {
			logger.Error("Telegram could not been initialized", slog.Any("error", err))
			return err
		}

		eventListener.Register(telegramBot.Handle)
		g.Go(wrapWithRecover(logger, func() error {
			return telegramBot.Start(ctx)
		}))
	}

	if config.Roost.Web.Enabled {
		g.Go(wrapWithRecover(logger, func() error {
			defer cancel()
			return srv.Listen(ctx, config.Roost.Web.Port)
		}))
	}

	g.Go(wrapWithRecover(logger, func() error {
		defer cancel()
		return eventListener.Listen(ctx)
	}))

	g.Go(wrapWithRecover(logger, func() error {
		defer cancel()
		return sup.Run(ctx)
	}))

	stdin := console.New(logger, sup, dispatcher)
	g.Go(wrapWithRecover(logger, func() error {
		return stdin.Run(ctx)
	}))

	g.Go(wrapWithRecover(logger, func() error {
		return config.Watch(ctx, logger, func() {
			logger.Info("Configuration reloaded")
		})
	}))

	g.Go(wrapWithRecover(logger, func() error {
		<-ctx.Done()
		logger.Info("Roost shutting down...")
		cancel()
		sup.Quit()
		if err := srv.Stop(); err != nil {
			logger.Error("error stopping local server", slog.Any("error", err))
		}
		if ngrokTunnel != nil {
			if closeErr := ngrokTunnel.Close(); closeErr != nil {
				logger.Error("error stopping ngrok tunnel", slog.Any("error", closeErr))
			}
		}
		if store != nil {
			if closeErr := store.Close(); closeErr != nil {
				logger.Error("error closing session journal", slog.Any("error", closeErr))
			}
		}

		return nil
	}))

	if err := g.Wait(); err != nil {
		cancel()
		logger.Error("Error running Roost", slog.Any("error", err))
		return err
	}

	sloggger.FlushAndClose()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
