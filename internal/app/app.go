// Package app builds every component of one instance once and wires them:
// connectivity monitor into the sync engine, the change stream into the
// realtime registry, the registry into the engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/and161185/carecard/internal/auth"
	"github.com/and161185/carecard/internal/broadcast"
	"github.com/and161185/carecard/internal/config"
	"github.com/and161185/carecard/internal/connectivity"
	"github.com/and161185/carecard/internal/errs"
	"github.com/and161185/carecard/internal/limiter"
	"github.com/and161185/carecard/internal/realtime"
	"github.com/and161185/carecard/internal/repository/postgres"
	"github.com/and161185/carecard/internal/service"
	"github.com/and161185/carecard/internal/session"
	"github.com/and161185/carecard/internal/storage"
	"github.com/and161185/carecard/internal/syncstatus"
)

// Deps are the external resources an App runs on.
type Deps struct {
	DB     *postgres.DB
	Dial   postgres.Dialer
	Prober connectivity.Prober
	Now    func() time.Time
}

// App is one running instance.
type App struct {
	Config   config.Config
	Log      *zap.Logger
	Origin   string
	DB       *postgres.DB
	Bus      *broadcast.Hub
	Store    *storage.Notifying
	Activity *session.ActivityFeed
	Sessions *session.Manager
	Monitor  *connectivity.Monitor
	Sync     *syncstatus.Engine
	Listener *postgres.Listener
	Realtime *realtime.Registry
	Service  *service.Service
	Auth     *auth.Authenticator

	watcher    *storage.Watcher
	healthConn *grpc.ClientConn

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	detach  func()
	wg      sync.WaitGroup
}

// New opens the database pool and, when configured, the health endpoint
// connection, then builds the App.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	deps := Deps{DB: db, Dial: postgres.DialDSN(cfg.DSN), Prober: connectivity.PingProber(db)}

	var cc *grpc.ClientConn
	if cfg.HealthAddr != "" {
		creds, err := connectivity.LoadTLS(cfg.CAPath, cfg.SkipVerify, cfg.Plaintext)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("health tls: %w", err)
		}
		if cc, err = connectivity.DialHealth(cfg.HealthAddr, creds); err != nil {
			db.Close()
			return nil, fmt.Errorf("dial health %s: %w", cfg.HealthAddr, err)
		}
		deps.Prober = connectivity.NewHealthProber(cc, "")
	}

	a, err := Build(cfg, log, deps)
	if err != nil {
		if cc != nil {
			_ = cc.Close()
		}
		db.Close()
		return nil, err
	}
	a.healthConn = cc
	return a, nil
}

// Build wires an App over deps without starting anything.
func Build(cfg config.Config, log *zap.Logger, deps Deps) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.DB == nil {
		return nil, errors.New("app: nil database")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("instance id: %w", err)
	}
	origin := id.String()

	file, err := storage.OpenFile(cfg.ProfileDir)
	if err != nil {
		return nil, err
	}
	bus := broadcast.NewHub(log.Named("bus"))
	watcher, err := storage.NewWatcher(file, bus, log.Named("profile"))
	if err != nil {
		return nil, err
	}
	store := storage.NewNotifying(file, bus, origin)
	activity := session.NewActivityFeed()

	a := &App{
		Config:   cfg,
		Log:      log,
		Origin:   origin,
		DB:       deps.DB,
		Bus:      bus,
		Store:    store,
		Activity: activity,
		watcher:  watcher,
	}

	a.Sessions = session.New(store, bus, session.Options{
		IdleTimeout:      cfg.IdleTimeout,
		CheckInterval:    cfg.IdleCheckInterval,
		ActivityThrottle: cfg.ActivityThrottle,
		Origin:           origin,
		Activity:         activity,
		Now:              now,
		Logger:           log.Named("session"),
	})

	a.Monitor = connectivity.NewMonitor(true, deps.Prober, log.Named("connectivity"))

	tables := service.Tables{
		Cards:        postgres.NewCards(deps.DB),
		Clinics:      postgres.NewClinics(deps.DB),
		Appointments: postgres.NewAppointments(deps.DB),
		Perks:        postgres.NewPerks(deps.DB),
		Redemptions:  postgres.NewRedemptions(deps.DB),
	}
	var svc *service.Service
	a.Sync = syncstatus.New(toucherFunc(func(ctx context.Context) error { return svc.Touch(ctx) }),
		syncstatus.Options{Store: store, Now: now, Logger: log.Named("sync")})
	svc = service.New(tables, a.Sync)
	a.Service = svc

	a.Listener = postgres.NewListener(deps.Dial, postgres.ListenerOptions{
		RetryDelay: cfg.ListenRetry,
		Logger:     log.Named("listener"),
	})
	a.Realtime = realtime.New(a.Listener, a.Sync, realtime.Options{Now: now, Logger: log.Named("realtime")})

	lim := limiter.NewPG(deps.DB.Pool, limiter.DefaultPolicy, now)
	a.Auth = auth.New(tables.Clinics, auth.Admin{Username: cfg.AdminUser, SecretHash: cfg.AdminSecretHash},
		lim, a.Sessions, a.Sync, log.Named("auth"))
	return a, nil
}

// Start restores the session and begins watching the profile, probing
// connectivity and listening for remote changes. Background work stops with
// ctx or Close.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	switch {
	case a.closed:
		a.mu.Unlock()
		return errs.ErrClosed
	case a.started:
		a.mu.Unlock()
		return errors.New("app: already started")
	}
	a.started = true
	ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	if err := a.watcher.Start(); err != nil {
		return err
	}
	if err := a.Sessions.Start(ctx); err != nil {
		return err
	}
	a.detach = a.Sync.Attach(ctx, a.Monitor)
	if err := a.Realtime.Start(ctx); err != nil {
		return err
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.Monitor.Run(ctx, a.Config.ProbeInterval, a.Config.ProbeTimeout)
	}()
	go func() {
		defer a.wg.Done()
		if err := a.Listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Log.Warn("change stream stopped", zap.Error(err))
		}
	}()
	a.Log.Info("instance started", zap.String("origin", a.Origin), zap.String("profile", a.Config.ProfileDir))
	return nil
}

// Close stops background work and releases every resource. It is safe to call
// more than once and without Start.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	var err error
	err = multierr.Append(err, a.Realtime.Close())
	if a.detach != nil {
		a.detach()
	}
	a.Sync.Close()
	a.Sessions.Close()
	err = multierr.Append(err, a.watcher.Stop())
	if a.healthConn != nil {
		err = multierr.Append(err, a.healthConn.Close())
	}
	a.DB.Close()
	return err
}

type toucherFunc func(ctx context.Context) error

func (f toucherFunc) Touch(ctx context.Context) error { return f(ctx) }
