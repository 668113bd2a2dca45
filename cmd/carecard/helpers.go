package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/carecard/internal/errs"
	"github.com/and161185/carecard/internal/model"
	"github.com/and161185/carecard/internal/repository"
)

// ------- output -------

type sessionView struct {
	Role         model.Role `json:"role"`
	Identity     string     `json:"identity"`
	LoginTime    time.Time  `json:"loginTime"`
	LastActivity time.Time  `json:"lastActivity"`
	ExpiresAt    time.Time  `json:"expiresAt"`
}

func viewSession(s model.Session, idle time.Duration) sessionView {
	return sessionView{
		Role:         s.Role,
		Identity:     s.Identity,
		LoginTime:    s.LoginTime,
		LastActivity: s.LastActivity,
		ExpiresAt:    s.LastActivity.Add(idle),
	}
}

type syncView struct {
	Status       model.SyncStatus `json:"status"`
	LastSyncedAt *time.Time       `json:"lastSyncedAt,omitempty"`
}

func viewSync(st model.SyncState) syncView {
	v := syncView{Status: st.Status}
	if !st.LastSyncedAt.IsZero() {
		t := st.LastSyncedAt
		v.LastSyncedAt = &t
	}
	return v
}

type statusView struct {
	Online  bool         `json:"online"`
	Sync    syncView     `json:"sync"`
	Session *sessionView `json:"session,omitempty"`
}

type watchEvent struct {
	Kind       string       `json:"kind"`
	Collection string       `json:"collection,omitempty"`
	Sync       *syncView    `json:"sync,omitempty"`
	Session    *sessionView `json:"session,omitempty"`
	At         time.Time    `json:"at"`
}

type clinicSecret struct {
	Salt string `json:"password_salt"`
	Hash string `json:"password_hash"`
}

// hexString renders bytes as a Postgres bytea literal.
func hexString(b []byte) string { return `\x` + hex.EncodeToString(b) }

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printJSONLine(w io.Writer, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

// ------- errors -------

// Exit codes beyond 1 (generic failure) and 2 (usage).
const (
	exitNotAuthenticated = 3
	exitUnauthorized     = 4
	exitRateLimited      = 5
	exitOffline          = 6
	exitNotFound         = 7
	exitConflict         = 8
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errs.ErrInvalidArgument),
		errors.Is(err, errs.ErrInvalidRole),
		errors.Is(err, errs.ErrUnknownCollection):
		return 2
	case errors.Is(err, errs.ErrNotAuthenticated):
		return exitNotAuthenticated
	case errors.Is(err, errs.ErrUnauthorized):
		return exitUnauthorized
	case errors.Is(err, errs.ErrRateLimited):
		return exitRateLimited
	case errors.Is(err, errs.ErrOffline):
		return exitOffline
	case errors.Is(err, errs.ErrNotFound):
		return exitNotFound
	case errors.Is(err, errs.ErrAlreadyExists):
		return exitConflict
	default:
		return 1
	}
}

var (
	exitFuncs []func()
	osExit    = os.Exit
)

// onExit registers fn to run when fail exits the process. Deferred calls are
// skipped by os.Exit, so anything that must flush or close goes here too.
func onExit(fn func()) { exitFuncs = append(exitFuncs, fn) }

// exit runs the registered functions, last first, then exits with code.
func exit(code int) {
	fns := exitFuncs
	exitFuncs = nil
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
	osExit(code)
}

func fail(err error) {
	msg := err.Error()
	if errors.Is(err, errs.ErrNotAuthenticated) {
		msg += " (login required)"
	}
	fmt.Fprintln(os.Stderr, "error:", msg)
	exit(exitCode(err))
}

// ------- input -------

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty secret: %w", errs.ErrInvalidArgument)
	}
	return line, nil
}

func parseAppointmentStatus(s string) (model.AppointmentStatus, error) {
	st := model.AppointmentStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case model.AppointmentPending, model.AppointmentAccepted, model.AppointmentDeclined,
		model.AppointmentRescheduled, model.AppointmentCompleted, model.AppointmentCancelled:
		return st, nil
	}
	return "", fmt.Errorf("appointment status %q: %w", s, errs.ErrInvalidArgument)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("need -date: %w", errs.ErrInvalidArgument)
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q: %w", s, errs.ErrInvalidArgument)
}

// filterFlag collects repeated -f col=value pairs.
type filterFlag map[string]string

func (f filterFlag) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (f filterFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("filter %q: want col=value", s)
	}
	f[strings.TrimSpace(k)] = v
	return nil
}

// Filter converts values to booleans where they spell one, so flag columns compare correctly.
func (f filterFlag) Filter() repository.Filter {
	if len(f) == 0 {
		return nil
	}
	out := make(repository.Filter, len(f))
	for k, v := range f {
		if v == "true" || v == "false" {
			b, _ := strconv.ParseBool(v)
			out[k] = b
			continue
		}
		out[k] = v
	}
	return out
}

// collectionFlag collects repeated -c names.
type collectionFlag []model.Collection

func (c *collectionFlag) String() string {
	parts := make([]string, 0, len(*c))
	for _, v := range *c {
		parts = append(parts, string(v))
	}
	return strings.Join(parts, ",")
}

func (c *collectionFlag) Set(s string) error {
	for _, name := range strings.Split(s, ",") {
		coll, err := model.ParseCollection(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		*c = append(*c, coll)
	}
	return nil
}

// OrAll returns the collected names, or every collection when none were given.
func (c collectionFlag) OrAll() []model.Collection {
	if len(c) == 0 {
		return model.Collections()
	}
	return c
}
