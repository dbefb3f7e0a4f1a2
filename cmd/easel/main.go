package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/easelworks/easel/auth"
	"github.com/easelworks/easel/catalog"
	"github.com/easelworks/easel/download"
	"github.com/easelworks/easel/internal/config"
	"github.com/easelworks/easel/prefs"
	"github.com/easelworks/easel/secrets"
	"github.com/easelworks/easel/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("easel exited with error")
	}
	log.Info().Msg("easel stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	// Best effort; a missing .env just means plain environment variables.
	_ = godotenv.Load()

	c := config.New()
	setupLogging(c.GetLogLevel())
	displayAppName(c.GetAppName())

	machine, err := buildMachine(c)
	if err != nil {
		return err
	}
	machine.Start()
	defer machine.Close()

	machine.Resume()
	waitForLifecycleSignals(machine)
	return nil
}

func buildMachine(c config.Config) (*session.Machine, error) {
	logger := log.Logger

	client, err := catalog.NewClient(catalog.Options{
		BaseURL:            c.GetAPIBaseURL(),
		DeviceCodeEndpoint: c.GetDeviceCodeEndpoint(),
		TokenEndpoint:      c.GetTokenEndpoint(),
		ClientID:           c.GetClientID(),
		Scope:              c.GetScope(),
		Audience:           c.GetAudience(),
		SurfaceOS:          c.GetSurfaceOS(),
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build catalog client")
	}

	secretStore, err := secrets.NewFileStore(filepath.Join(c.GetDataDir(), "secrets"))
	if err != nil {
		return nil, errors.Wrap(err, "open secret store")
	}
	prefStore, err := prefs.Open(filepath.Join(c.GetDataDir(), "prefs.toml"))
	if err != nil {
		return nil, errors.Wrap(err, "open prefs store")
	}

	authManager, err := auth.NewManager(client, secretStore, prefStore, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build auth manager")
	}
	queue, err := download.NewQueue(client, c.GetDownloadConcurrency(), logger)
	if err != nil {
		return nil, errors.Wrap(err, "build download queue")
	}
	machine, err := session.NewMachine(authManager, client, queue, prefStore, c.GetCacheDir(), logger)
	if err != nil {
		return nil, errors.Wrap(err, "build session machine")
	}
	return machine, nil
}

// waitForLifecycleSignals maps host signals onto the lifecycle triggers:
// SIGUSR1 suspends (background), SIGUSR2 resumes (foreground), SIGINT and
// SIGTERM suspend and exit.
func waitForLifecycleSignals(machine *session.Machine) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	for sig := range signals {
		switch sig {
		case syscall.SIGUSR1:
			log.Info().Msg("background signal")
			machine.Suspend()
		case syscall.SIGUSR2:
			log.Info().Msg("foreground signal")
			machine.Resume()
		default:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			machine.Suspend()
			return
		}
	}
}

func setupLogging(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func displayAppName(appName string) {
	banner := figure.NewFigure(appName, "", true)
	banner.Print()
}
