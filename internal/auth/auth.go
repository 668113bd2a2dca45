// Package auth verifies admin and clinic credentials before a session starts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/carecard/internal/convert"
	pkgcrypto "github.com/and161185/carecard/internal/crypto"
	"github.com/and161185/carecard/internal/errs"
	"github.com/and161185/carecard/internal/limiter"
	"github.com/and161185/carecard/internal/model"
	"github.com/and161185/carecard/internal/remote"
	"github.com/and161185/carecard/internal/repository"
)

// Sessions starts a session once credentials check out.
// It is implemented by *session.Manager.
type Sessions interface {
	Login(role model.Role, identity string) (model.Session, error)
}

// Tracker reports a remote read into the sync indicator.
// It is implemented by *syncstatus.Engine.
type Tracker interface {
	Track(ctx context.Context, op string, fn func(ctx context.Context) error) error
}

type untracked struct{}

func (untracked) Track(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Admin is the single configured administrator account.
type Admin struct {
	Username string
	// SecretHash is an Encode result from package crypto.
	SecretHash string
}

// Authenticator checks credentials, applies the attempt limiter and starts the session.
type Authenticator struct {
	clinics  repository.Table[remote.Clinic]
	admin    Admin
	lim      limiter.Limiter
	sessions Sessions
	sync     Tracker
	log      *zap.Logger
}

// New constructs an Authenticator. lim and sync may be nil.
func New(clinics repository.Table[remote.Clinic], admin Admin, lim limiter.Limiter, sessions Sessions, sync Tracker, log *zap.Logger) *Authenticator {
	if lim == nil {
		lim = limiter.Nop{}
	}
	if sync == nil {
		sync = untracked{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{clinics: clinics, admin: admin, lim: lim, sessions: sessions, sync: sync, log: log}
}

// Login verifies identity/secret for role and starts a session. Clinic
// identities are clinic codes; only subscribed clinics may sign in.
func (a *Authenticator) Login(ctx context.Context, role model.Role, identity, secret string) (model.Session, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" || secret == "" {
		return model.Session{}, fmt.Errorf("empty identity or secret: %w", errs.ErrInvalidArgument)
	}
	if _, err := model.ParseRole(string(role)); err != nil {
		return model.Session{}, err
	}
	key := limiter.Key{Role: role, Identity: identity}

	allowed, wait, err := a.lim.Allow(ctx, key)
	if err != nil {
		return model.Session{}, err
	}
	if !allowed {
		return model.Session{}, fmt.Errorf("retry in %s: %w", wait.Round(time.Second), errs.ErrRateLimited)
	}

	var verr error
	switch role {
	case model.RoleAdmin:
		verr = a.verifyAdmin(identity, secret)
	case model.RoleClinic:
		verr = a.verifyClinic(ctx, identity, secret)
	}
	if verr != nil {
		if !errors.Is(verr, errs.ErrUnauthorized) {
			return model.Session{}, verr
		}
		a.log.Info("login rejected", zap.String("role", string(role)), zap.String("identity", identity))
		if blocked, _, ferr := a.lim.Failure(ctx, key); ferr == nil && blocked {
			return model.Session{}, errs.ErrRateLimited
		}
		return model.Session{}, errs.ErrUnauthorized
	}

	_ = a.lim.Success(ctx, key)
	return a.sessions.Login(role, identity)
}

func (a *Authenticator) verifyAdmin(username, secret string) error {
	if a.admin.Username == "" || username != a.admin.Username {
		return errs.ErrUnauthorized
	}
	if !pkgcrypto.VerifyEncoded([]byte(secret), a.admin.SecretHash) {
		return errs.ErrUnauthorized
	}
	return nil
}

func (a *Authenticator) verifyClinic(ctx context.Context, code, secret string) error {
	var rows []remote.Clinic
	err := a.sync.Track(ctx, "select clinics", func(ctx context.Context) error {
		var err error
		rows, err = a.clinics.Select(ctx, repository.Filter{"clinic_code": code})
		return err
	})
	if err != nil {
		return fmt.Errorf("lookup clinic: %w", err)
	}
	if len(rows) == 0 {
		return errs.ErrUnauthorized
	}
	c := rows[0]
	if !pkgcrypto.VerifySecret([]byte(secret), c.PasswordSalt, c.PasswordHash) {
		return errs.ErrUnauthorized
	}
	if st := convert.ClinicStatusFromRemote(c.SubscriptionStatus); st != model.ClinicActive {
		a.log.Info("clinic not active", zap.String("code", code), zap.String("status", string(st)))
		return errs.ErrUnauthorized
	}
	return nil
}

// ClinicCredentials returns the salt and hash columns for a new clinic secret.
func ClinicCredentials(secret string) (salt, hash []byte, err error) {
	if secret == "" {
		return nil, nil, fmt.Errorf("empty secret: %w", errs.ErrInvalidArgument)
	}
	salt, err = pkgcrypto.NewSalt()
	if err != nil {
		return nil, nil, err
	}
	return salt, pkgcrypto.HashSecret([]byte(secret), salt), nil
}
