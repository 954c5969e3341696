package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/spoofy-bot/spoofy/internal/adapters/http"
	"github.com/spoofy-bot/spoofy/internal/adapters/discord"
	"github.com/spoofy-bot/spoofy/internal/app"
	"github.com/spoofy-bot/spoofy/internal/config"
	"github.com/spoofy-bot/spoofy/internal/domain"
	spotifyx "github.com/spoofy-bot/spoofy/internal/spotify"
	"github.com/spoofy-bot/spoofy/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	cipher, err := store.NewCipher(cfg.Passphrase)
	if err != nil {
		log.Fatal().Err(err).Msg("credential cipher setup failed")
	}
	db, err := store.Open(cfg.DBPath, cipher)
	if err != nil {
		log.Fatal().Err(err).Msg("store open failed")
	}
	defer db.Close()

	manager := app.NewManager(app.NewRegistry(), app.NewPortAllocator(cfg.PortMin, cfg.PortMax))

	auth := spotifyx.NewAuth(spotifyx.AuthConfig{
		ClientID:            cfg.Spotify.ClientID,
		ClientSecret:        cfg.Spotify.ClientSecret,
		RedirectURI:         cfg.Spotify.RedirectURI,
		Scopes:              cfg.Spotify.Scopes,
		PlaylistRedirectURI: cfg.Spotify.PlaylistRedirectURI,
		PlaylistScopes:      cfg.Spotify.PlaylistScopes,
	}, db)
	// A stored setting wins over the config file, so the device name can be
	// changed without a redeploy.
	connectName := cfg.Spotify.ConnectName
	if v, ok, err := db.Setting(ctx, "connect_name"); err == nil && ok {
		connectName = v
	}
	music := spotifyx.NewService(auth, db, connectName, domain.UserID(cfg.Spotify.PlaylistAccountUID))

	bot, err := discord.NewBot(cfg, manager, music, db)
	if err != nil {
		log.Fatal().Err(err).Msg("bot setup failed")
	}
	if err := bot.Open(); err != nil {
		log.Fatal().Err(err).Msg("discord connect failed")
	}
	defer bot.Close()

	r := router.SetupRouter(ctx, router.Deps{
		Cfg:      cfg,
		Sessions: manager,
		Music:    music,
		Voice:    bot.Player(),
		Links:    db,
		OAuth:    auth,
	})
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Spoofy server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}
