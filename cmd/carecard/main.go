// Command carecard drives one instance of the loyalty-card core from a shell:
// sign in, inspect the session and sync indicator, read and update records.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/carecard/internal/app"
	"github.com/and161185/carecard/internal/auth"
	"github.com/and161185/carecard/internal/config"
	pkgcrypto "github.com/and161185/carecard/internal/crypto"
	"github.com/and161185/carecard/internal/logging"
	"github.com/and161185/carecard/internal/migrate"
	"github.com/and161185/carecard/internal/model"
	"github.com/and161185/carecard/internal/session"
)

func usage() {
	fmt.Fprintf(os.Stderr, `carecard CLI
Usage:
  carecard [-dsn DSN] [-profile DIR] [-health-addr HOST:PORT] <cmd> [args]

Commands:
  version
  migrate      [-status]
  hash-secret  [-s <secret>] [-clinic]              (reads stdin without -s)
  login        -role admin|clinic -u <identity> [-p <secret>]
  logout
  whoami
  status       [-probe]
  sync
  list         -c <collection> [-f col=value ...]
  appt-status  -id <id> -status <status> [-date <RFC3339>]
  card-assign  -id <id> [-clinic <clinic id>]       (empty clinic unassigns)
  watch        [-c <collection> ...]

Global flags: carecard -h
`)
	exit(2)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands over one App built from flags and CARECARD_* env.
func main() {
	flag.Usage = usage
	cfg, err := config.Load(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fail(err)
	}
	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	// the CLI keeps stdout for results; logs go to stderr (and the log file)
	if cfg.LogLevel == "info" && !cfg.Dev {
		cfg.LogLevel = "warn"
	}
	logger, cleanup, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Dev: cfg.Dev})
	if err != nil {
		fail(err)
	}
	defer cleanup()
	onExit(cleanup)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {

	case "version":
		fmt.Printf("carecard %s (%s)\n", version, buildDate)

	case "migrate":
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		status := fs.Bool("status", false, "print migration status instead of applying")
		_ = fs.Parse(args)
		if *status {
			if err := migrate.Status(ctx, cfg.DSN); err != nil {
				fail(err)
			}
			return
		}
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			fail(err)
		}
		v, err := migrate.Version(ctx, cfg.DSN)
		if err != nil {
			fail(err)
		}
		fmt.Printf("schema version %d\n", v)

	case "hash-secret":
		fs := flag.NewFlagSet("hash-secret", flag.ExitOnError)
		s := fs.String("s", "", "secret (default: first line of stdin)")
		clinic := fs.Bool("clinic", false, "print clinic password_salt/password_hash columns")
		_ = fs.Parse(args)
		secret := *s
		if secret == "" {
			secret, err = readLine(bufio.NewReader(os.Stdin))
			if err != nil {
				fail(err)
			}
		}
		if *clinic {
			salt, hash, err := auth.ClinicCredentials(secret)
			if err != nil {
				fail(err)
			}
			printJSON(os.Stdout, clinicSecret{Salt: hexString(salt), Hash: hexString(hash)})
			return
		}
		enc, err := pkgcrypto.Encode([]byte(secret))
		if err != nil {
			fail(err)
		}
		fmt.Println(enc)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		role := fs.String("role", string(model.RoleClinic), "admin|clinic")
		u := fs.String("u", "", "admin username or clinic code")
		p := fs.String("p", "", "secret (default: first line of stdin)")
		_ = fs.Parse(args)
		if *u == "" {
			fmt.Fprintln(os.Stderr, "need -u")
			exit(2)
		}
		r, err := model.ParseRole(*role)
		if err != nil {
			fail(err)
		}
		secret := *p
		if secret == "" {
			if secret, err = readLine(bufio.NewReader(os.Stdin)); err != nil {
				fail(err)
			}
		}

		a := open(ctx, cfg, logger)
		defer a.Close()
		s, err := a.Auth.Login(ctx, r, *u, secret)
		if err != nil {
			fail(err)
		}
		printJSON(os.Stdout, viewSession(s, cfg.IdleTimeout))

	case "logout":
		a := open(ctx, cfg, logger)
		defer a.Close()
		if err := a.Sessions.Logout(); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "whoami":
		a := open(ctx, cfg, logger)
		defer a.Close()
		s, err := a.Sessions.Require()
		if err != nil {
			fail(err)
		}
		printJSON(os.Stdout, viewSession(s, cfg.IdleTimeout))

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		probe := fs.Bool("probe", true, "probe connectivity before reporting")
		_ = fs.Parse(args)

		a := open(ctx, cfg, logger)
		defer a.Close()
		online := a.Monitor.Online()
		if *probe {
			online = probeOnce(ctx, a)
			_ = a.Sync.SetOnline(ctx, online)
		}
		out := statusView{Online: online, Sync: viewSync(a.Sync.State())}
		if s, ok := a.Sessions.Current(); ok {
			v := viewSession(s, cfg.IdleTimeout)
			out.Session = &v
		}
		printJSON(os.Stdout, out)

	case "sync":
		a := open(ctx, cfg, logger)
		defer a.Close()
		if _, err := a.Sessions.Require(); err != nil {
			fail(err)
		}
		if !probeOnce(ctx, a) {
			_ = a.Sync.SetOnline(ctx, false)
		}
		err := a.Sync.ForceSync(ctx)
		printJSON(os.Stdout, viewSync(a.Sync.State()))
		if err != nil {
			fail(err)
		}

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		coll := fs.String("c", "", "collection: "+collectionNames())
		filters := filterFlag{}
		fs.Var(filters, "f", "filter col=value (repeatable)")
		_ = fs.Parse(args)
		c, err := model.ParseCollection(*coll)
		if err != nil {
			fail(err)
		}

		a := authed(ctx, cfg, logger)
		defer a.Close()
		rows, err := a.Service.List(ctx, c, filters.Filter())
		if err != nil {
			fail(err)
		}
		printJSON(os.Stdout, rows)

	case "appt-status":
		fs := flag.NewFlagSet("appt-status", flag.ExitOnError)
		id := fs.String("id", "", "appointment id")
		st := fs.String("status", "", "pending|accepted|declined|rescheduled|completed|cancelled")
		date := fs.String("date", "", "new date for rescheduled (RFC3339)")
		_ = fs.Parse(args)
		if *id == "" || *st == "" {
			fmt.Fprintln(os.Stderr, "need -id -status")
			exit(2)
		}
		status, err := parseAppointmentStatus(*st)
		if err != nil {
			fail(err)
		}

		a := authed(ctx, cfg, logger)
		defer a.Close()
		if status == model.AppointmentRescheduled {
			when, err := parseDate(*date)
			if err != nil {
				fail(err)
			}
			err = a.Service.Appointments.Reschedule(ctx, *id, when)
			if err != nil {
				fail(err)
			}
		} else if err := a.Service.Appointments.SetStatus(ctx, *id, status); err != nil {
			fail(err)
		}
		appt, err := a.Service.Appointments.Get(ctx, *id)
		if err != nil {
			fail(err)
		}
		printJSON(os.Stdout, appt)

	case "card-assign":
		fs := flag.NewFlagSet("card-assign", flag.ExitOnError)
		id := fs.String("id", "", "card id")
		clinic := fs.String("clinic", "", "clinic id (empty unassigns)")
		_ = fs.Parse(args)
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			exit(2)
		}

		a := authed(ctx, cfg, logger)
		defer a.Close()
		if err := a.Service.Cards.AssignClinic(ctx, *id, *clinic); err != nil {
			fail(err)
		}
		card, err := a.Service.Cards.Get(ctx, *id)
		if err != nil {
			fail(err)
		}
		printJSON(os.Stdout, card)

	case "watch":
		fs := flag.NewFlagSet("watch", flag.ExitOnError)
		colls := collectionFlag{}
		fs.Var(&colls, "c", "collection to watch (repeatable, default all)")
		_ = fs.Parse(args)

		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			fail(err)
		}
		defer a.Close()
		onExit(func() { _ = a.Close() })
		if err := watch(ctx, a, colls.OrAll(), os.Stdout); err != nil {
			fail(err)
		}

	default:
		usage()
	}
}

// open builds the App and restores the persisted session only. Probing and the
// change stream stay off for one-shot commands.
func open(ctx context.Context, cfg config.Config, log *zap.Logger) *app.App {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fail(err)
	}
	onExit(func() { _ = a.Close() })
	if err := a.Sessions.Start(ctx); err != nil {
		fail(err)
	}
	return a
}

// authed is open for commands that need a live session. Running one counts as activity.
func authed(ctx context.Context, cfg config.Config, log *zap.Logger) *app.App {
	a := open(ctx, cfg, log)
	if _, err := a.Sessions.Require(); err != nil {
		fail(err)
	}
	a.Activity.Emit(session.InteractionKey)
	return a
}

func probeOnce(ctx context.Context, a *app.App) bool {
	pctx, cancel := context.WithTimeout(ctx, a.Config.ProbeTimeout)
	defer cancel()
	return a.Monitor.Probe(pctx)
}

func collectionNames() string {
	names := make([]string, 0, len(model.Collections()))
	for _, c := range model.Collections() {
		names = append(names, string(c))
	}
	return strings.Join(names, "|")
}

// watch streams session, sync and change events as JSON lines until ctx ends.
func watch(ctx context.Context, a *app.App, colls []model.Collection, w io.Writer) error {
	events := make(chan watchEvent, 64)
	emit := func(ev watchEvent) {
		select {
		case events <- ev:
		default:
		}
	}

	for _, c := range colls {
		unregister, err := a.Realtime.OnInvalidate(c, func(n model.ChangeNotification) {
			emit(watchEvent{Kind: "change", Collection: string(n.Collection), At: n.OccurredAt})
		})
		if err != nil {
			return err
		}
		defer unregister()
	}
	defer a.Sync.OnChange(func(st model.SyncState) {
		v := viewSync(st)
		emit(watchEvent{Kind: "sync", Sync: &v, At: time.Now()})
	})()
	defer a.Sessions.OnChange(func(st session.State) {
		ev := watchEvent{Kind: "session", At: time.Now()}
		if st.Authenticated {
			v := viewSession(st.Session, a.Config.IdleTimeout)
			ev.Session = &v
		}
		emit(ev)
	})()

	if err := a.Start(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			printJSONLine(w, ev)
		}
	}
}
