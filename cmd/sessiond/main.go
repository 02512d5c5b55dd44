package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-keeper/authstate"
	"github.com/jrsteele09/go-session-keeper/idp"
	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/lifecycle"
	"github.com/jrsteele09/go-session-keeper/server"
	"github.com/jrsteele09/go-session-keeper/sessionstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "optional YAML configuration file")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run(configPath string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	displayAppname(c.GetAppName())
	if level, err := zerolog.ParseLevel(c.GetLogLevel()); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx := context.Background()
	store, closeStore, err := newStore(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := config.SetIdPConfigURL(c.GetIdPConfigURL()); err != nil {
		return err
	}
	settings, err := idp.LoadSettings(ctx, http.DefaultClient, c.GetIdPConfigURL())
	if err != nil {
		return fmt.Errorf("[sessiond] load provider settings: %w", err)
	}

	navigator, err := newNavigator(c)
	if err != nil {
		return err
	}

	projection := authstate.NewStore()
	manager := lifecycle.New(store, idp.NewOIDCClient, c,
		lifecycle.WithProjection(projection),
		lifecycle.WithClientConfig(idp.Config{
			Settings:     settings,
			ClientSecret: c.GetClientSecret(),
			RedirectURL:  c.GetBaseURL() + server.RouteCallback,
			Navigator:    navigator,
		}),
	)
	defer manager.Close()
	go watchProjection(projection)

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           server.New(c, manager),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(httpServer) }()

	select {
	case err := <-errCh:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.New(), nil
	}
	return config.NewFromFile(path)
}

// newStore builds the session store named by the configuration, sealed when a key is set.
func newStore(ctx context.Context, c config.Config) (sessionstore.Store, func(), error) {
	var (
		store     sessionstore.Store
		closeFunc = func() {}
	)
	switch c.GetStoreDriver() {
	case config.StoreDriverRedis:
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{c.GetRedisAddr()}})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("[sessiond] redis ping: %w", err)
		}
		sessionID := c.GetSessionID()
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		log.Info().Str("addr", c.GetRedisAddr()).Str("session_id", sessionID).Msg("Using redis session store")
		store = sessionstore.NewRedisStore(rdb, c.GetRedisPrefix(), sessionID, c.GetSessionTTL())
		closeFunc = func() { _ = rdb.Close() }
	case config.StoreDriverMemory:
		store = sessionstore.NewMemoryStore()
	default:
		return nil, nil, fmt.Errorf("[sessiond] unknown store driver %q", c.GetStoreDriver())
	}

	if hexKey := c.GetSealKey(); hexKey != "" {
		key, err := sessionstore.ParseSealKey(hexKey)
		if err != nil {
			closeFunc()
			return nil, nil, err
		}
		sealed, err := sessionstore.NewSealedStore(store, key, log.Logger,
			sessionstore.KeySessionSynced, sessionstore.KeyPreventStorageSync, sessionstore.KeyLogoutGatewayURL)
		if err != nil {
			closeFunc()
			return nil, nil, err
		}
		store = sealed
	}
	return store, closeFunc, nil
}

// newNavigator picks how provider URLs are delivered when no HTTP request is driving the call.
func newNavigator(c config.Config) (idp.Navigator, error) {
	switch c.GetNavigator() {
	case config.NavigatorLog:
		return idp.LogNavigator{Logger: log.Logger}, nil
	case config.NavigatorHTTP:
		return idp.HTTPNavigator{Client: &http.Client{Timeout: 10 * time.Second}}, nil
	default:
		return nil, fmt.Errorf("[sessiond] unknown navigator %q", c.GetNavigator())
	}
}

func watchProjection(p *authstate.Store) {
	updates, cancel := p.Subscribe()
	defer cancel()
	for st := range updates {
		log.Info().Bool("authenticated", st.Authenticated()).Str("user_id", st.UserID).Msg("Auth state changed")
	}
}

func listenAndServe(srv *http.Server) error {
	log.Info().Str("addr", srv.Addr).Msg("Server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
