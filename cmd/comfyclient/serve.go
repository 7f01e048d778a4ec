package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"comfyclient/internal/bus"
	"comfyclient/internal/config"
	"comfyclient/internal/httpapi"
	"comfyclient/internal/jobclient"
	"comfyclient/internal/notify"
	"comfyclient/internal/store"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the client process and its HTTP API",
		Example: "  comfyclient serve --config ~/.comfyclient/config.yaml\n  COMFYCLIENT_NODE=me.os comfyclient serve --addr :8081",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath, os.LookupEnv)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if opts.logLevel != "" {
				cfg.LogLevel = opts.logLevel
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config), e.g. :8080")
	return cmd
}

// loadConfig reads the optional config file, applies environment overrides
// and defaults, then validates the result.
func loadConfig(path string, lookup func(string) (string, bool)) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	cfg, err := cfg.ApplyEnv(lookup)
	if err != nil {
		return cfg, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// app is a fully wired client process minus the listener.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	client  *jobclient.Client
	hub     *notify.Hub
	handler http.Handler
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	our, err := cfg.Our()
	if err != nil {
		return nil, err
	}
	states, err := a.openStateStore(ctx)
	if err != nil {
		return nil, err
	}
	images, err := a.openImageSink(ctx)
	if err != nil {
		return nil, err
	}

	a.hub = notify.NewHub(log.With().Str("component", "events").Logger())
	a.closers = append(a.closers, func() error { a.hub.Close(); return nil })
	pubs := notify.Multi{a.hub}
	if cfg.AMQP.URL != "" {
		ap, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue, log.With().Str("component", "amqp").Logger())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ap.Close)
		pubs = append(pubs, ap)
	}
	if cfg.Mail.APIKey != "" {
		mn, err := notify.NewMailNotifier(notify.MailOptions{
			APIKey:    cfg.Mail.APIKey,
			FromName:  cfg.Mail.FromName,
			FromEmail: cfg.Mail.FromEmail,
			To:        cfg.Mail.To,
		}, log.With().Str("component", "mail").Logger())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { mn.Wait(); return nil })
		pubs = append(pubs, mn)
	}

	client, err := jobclient.New(ctx, jobclient.Config{
		Our:              our,
		Transport:        bus.NewHTTPTransport(cfg.Nodes, nil),
		StateStore:       states,
		Images:           images,
		Publisher:        pubs,
		Logger:           log.With().Str("component", "jobclient").Logger(),
		RouterTimeout:    time.Duration(cfg.RouterTimeoutSeconds) * time.Second,
		SequencerTimeout: time.Duration(cfg.SequencerTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	a.client = client
	if err := a.client.Bootstrap(ctx, cfg.RouterProcess, cfg.RollupSequencer); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	if cfg.HTTPLogLevel != "" {
		httpapi.SetDefaultLogLevel(cfg.HTTPLogLevel)
	}
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)
	httpapi.SetEventStream(a.hub)
	httpapi.SetBaseContext(ctx)
	a.handler = httpapi.NewMux(a.client)
	ok = true
	return a, nil
}

// openStateStore picks Postgres when a DSN is configured, else the state file.
func (a *app) openStateStore(ctx context.Context) (jobclient.StateStore, error) {
	sc := a.cfg.State
	if sc.PostgresDSN == "" {
		fs, err := store.NewFileStore(sc.Path)
		if err != nil {
			return nil, err
		}
		a.log.Info().Str("path", fs.Path()).Msg("state file")
		return fs, nil
	}
	db, err := store.OpenPostgres(ctx, sc.PostgresDSN)
	if err != nil {
		return nil, err
	}
	ps := store.NewPostgresStore(db, sc.Key)
	a.closers = append(a.closers, ps.Close)
	if sc.AutoCreate {
		if err := ps.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	a.log.Info().Str("key", sc.Key).Msg("state in postgres")
	return ps, nil
}

// openImageSink picks MinIO when an endpoint is configured, else the image dir.
func (a *app) openImageSink(ctx context.Context) (jobclient.ImageSink, error) {
	ic := a.cfg.Images
	if ic.Minio.Endpoint == "" {
		ds, err := store.NewDirSink(ic.Dir)
		if err != nil {
			return nil, err
		}
		a.log.Info().Str("dir", ds.Dir()).Msg("image dir")
		return ds, nil
	}
	ms, err := store.NewMinioSink(store.MinioOptions{
		Endpoint:  ic.Minio.Endpoint,
		AccessKey: ic.Minio.AccessKey,
		SecretKey: ic.Minio.SecretKey,
		Bucket:    ic.Minio.Bucket,
		Prefix:    ic.Minio.Prefix,
		Secure:    ic.Minio.Secure,
	})
	if err != nil {
		return nil, err
	}
	if err := ms.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	a.log.Info().Str("endpoint", ic.Minio.Endpoint).Str("bucket", ic.Minio.Bucket).Msg("images in minio")
	return ms, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}

func serve(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	log := newLogger(cfg.LogLevel, logOut)
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{Addr: cfg.Addr, Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("our", a.client.Our().String()).Msg("comfyclient listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Websocket connections are hijacked and not tracked by Shutdown.
	a.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	log.Info().Msg("comfyclient stopped")
	return nil
}
