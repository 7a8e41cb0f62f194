package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tomorrow/api/internal/app"
	"tomorrow/api/internal/email"
	"tomorrow/api/internal/metrics"
	"tomorrow/api/internal/persist"
	"tomorrow/api/internal/pulse"
	"tomorrow/api/internal/session"
)

func NewServeCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and static pages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Config.Addr, "addr", opts.Config.Addr, "listen address")
	cmd.Flags().StringVar(&opts.Config.StaticDir, "static-dir", opts.Config.StaticDir, "directory holding the front-end pages")
	return cmd
}

func serve(ctx context.Context, opts *RootOptions) error {
	cfg := opts.Config
	log := opts.Logger

	m := metrics.New()
	b, err := openBackend(ctx, opts, m)
	if err != nil {
		return err
	}
	defer b.Close()

	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		secret = randomSecret()
		log.Warn().Msg("TOMORROW_SECRET not set; sessions will not survive a restart")
	}

	var sessionStore session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return err
		}
		log.Info().Msg("using redis for sessions")
		sessionStore = redisStore
	} else {
		memory := session.NewMemoryStore()
		go sweepSessions(ctx, memory, log)
		sessionStore = memory
	}
	defer sessionStore.Close()
	sessions := session.NewManager(sessionStore, secret, cfg.SessionTTL)

	pinger := pulse.New(pulse.Options{
		Targets:  cfg.PulseTarget,
		Interval: cfg.PulseEvery,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Logger:   log,
	})
	if err := pinger.Start(); err != nil {
		return err
	}

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	service := app.New(app.Options{
		Documents:  b.coord,
		Sessions:   sessions,
		Pings:      pinger,
		History:    b.history,
		Notifier:   app.NewEmailNotifier(mail, log),
		PulseToken: cfg.PulseToken,
		Logger:     log,
	})

	// warm the local cache so the first request does not pay for the fetch
	b.coord.Load(ctx)

	httpServer := app.NewHTTPServer(service, app.HTTPOptions{
		CORSOrigin: cfg.CORSOrigin,
		StaticDir:  cfg.StaticDir,
		Hidden:     []string{cfg.DataFile},
		RateLimit:  cfg.RateLimit,
		Metrics:    m,
		Logger:     log,
	})
	// the gate load and a fully timed-out Update must still get a response out
	writeTimeout := persist.DefaultUpdateTimeout + 30*time.Second
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("remote", b.coord.Health().Driver).
			Dur("session_ttl", sessions.TTL()).
			Int("pulse_targets", len(pinger.Targets())).
			Msg("tomorrow listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pinger.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

// sweepSessions drops expired in-memory sessions until ctx ends.
func sweepSessions(ctx context.Context, memory *session.MemoryStore, log zerolog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Debug().Int("active", memory.Sweep()).Msg("session sweep")
		}
	}
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return []byte(hex.EncodeToString(buf))
}
