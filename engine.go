package authgate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authgate/directory"
	internalaudit "github.com/MrEthical07/authgate/internal/audit"
	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/password"
	"golang.org/x/sync/semaphore"
)

// Engine runs registration, login, refresh rotation, logout and token
// verification against a [directory.Directory].
//
// Engine methods are safe for concurrent use after [Builder.Build].
type Engine struct {
	config    Config
	logger    *slog.Logger
	directory directory.Directory
	tokens    *jwt.Manager
	hasher    *password.Argon2
	hashSlots *semaphore.Weighted
	metrics   *Metrics
	audit     *internalaudit.Dispatcher
	flows     flows.Deps
	closed    atomic.Bool
}

// Close flushes pending audit events. It does not close the directory, which
// the caller owns.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) ready() bool {
	return e != nil && !e.closed.Load()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Register creates an identity with a hashed credential. The returned
// identity carries the directory-assigned ID.
func (e *Engine) Register(ctx context.Context, username, email, pw string) (Identity, error) {
	if !e.ready() {
		return Identity{}, ErrEngineNotReady
	}
	if strings.TrimSpace(email) == "" || pw == "" {
		return Identity{}, ErrInvalidRequest
	}
	return flows.RunRegister(ctx, flows.RegisterInput{
		Username: username,
		Email:    email,
		Password: pw,
	}, e.flows.Register)
}

// Login verifies the credential and issues a new pair. The stored refresh
// token is overwritten, so any earlier refresh token stops working.
func (e *Engine) Login(ctx context.Context, email, pw string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	res, err := flows.RunLogin(ctx, email, pw, e.flows.Login)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}, nil
}

// IssuePair mints a pair for subject and records the refresh token as
// current, replacing any previous value.
func (e *Engine) IssuePair(ctx context.Context, subject string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	res := flows.RunIssuePair(ctx, subject, e.flows.Issue)
	switch res.Failure {
	case flows.IssueFailureNone:
		return TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}, nil
	case flows.IssueFailureSign:
		return TokenPair{}, fmt.Errorf("%w: %w", ErrTokenIssue, res.Err)
	case flows.IssueFailureUnknownSubject:
		return TokenPair{}, ErrUnknownSubject
	default:
		return TokenPair{}, fmt.Errorf("%w: %w", ErrPersistence, res.Err)
	}
}

// Refresh exchanges the identity's current refresh token for a new pair.
// Of several concurrent calls presenting the same token exactly one succeeds;
// the others get ErrRefreshMismatch.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}

	res := flows.RunRefresh(ctx, refreshToken, e.flows.Refresh)
	if res.Failure == flows.RefreshFailureNone {
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.Subject, nil, nil)
		return TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}, nil
	}

	var err error
	event := auditEventRefreshFailure
	switch res.Failure {
	case flows.RefreshFailureVerify:
		err = fmt.Errorf("%w: %w", ErrInvalidToken, res.Err)
	case flows.RefreshFailureWrongKind:
		err = ErrWrongKind
	case flows.RefreshFailureUnknownSubject:
		err = ErrUnknownSubject
	case flows.RefreshFailureMismatch:
		err = ErrRefreshMismatch
		event = auditEventRefreshMismatch
		e.metricInc(MetricRefreshMismatch)
	case flows.RefreshFailureSign:
		err = fmt.Errorf("%w: %w", ErrTokenIssue, res.Err)
	default:
		err = fmt.Errorf("%w: %w", ErrPersistence, res.Err)
	}

	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, event, false, res.Subject, err, nil)
	return TokenPair{}, err
}

// Logout clears the stored refresh token of subject. Logging out an unknown
// or already logged-out subject succeeds. Outstanding access tokens remain
// valid until they expire.
func (e *Engine) Logout(ctx context.Context, subject string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := flows.RunRevoke(ctx, subject, e.flows.Logout); err != nil {
		err = fmt.Errorf("%w: %w", ErrPersistence, err)
		e.emitAudit(ctx, auditEventLogout, false, subject, err, nil)
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, subject, nil, nil)
	return nil
}

// VerifyAccess verifies a bearer token for a protected request. Unless
// Config.Gate.RequireAccessKind is false, refresh tokens are rejected with
// ErrWrongKind. No directory lookup happens.
func (e *Engine) VerifyAccess(token string) (*Claims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}

	res := flows.RunValidate(token, e.flows.Validate)

	if !start.IsZero() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}

	switch res.Failure {
	case flows.ValidateFailureNone:
		return res.Claims, nil
	case flows.ValidateFailureWrongKind:
		e.metricInc(MetricGateRejected)
		return nil, ErrWrongKind
	default:
		e.metricInc(MetricGateRejected)
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, res.Err)
	}
}

// Verify checks signature, expiry and format of a token of either kind.
func (e *Engine) Verify(token string) (*Claims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

func (e *Engine) hashPassword(ctx context.Context, pw string) (string, error) {
	if err := e.hashSlots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.hashSlots.Release(1)
	return e.hasher.Hash(pw)
}

func (e *Engine) verifyPassword(ctx context.Context, pw, encoded string) (bool, error) {
	if err := e.hashSlots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer e.hashSlots.Release(1)
	return e.hasher.Verify(pw, encoded)
}

func (e *Engine) buildFlowDeps() flows.Deps {
	metricInc := func(id int) { e.metricInc(MetricID(id)) }
	audit := func(ctx context.Context, event string, success bool, subject string, err error, metadata func() map[string]string) {
		e.emitAudit(ctx, event, success, subject, err, metadata)
	}

	issue := flows.IssueDeps{
		IssueToken: e.tokens.Issue,
		AccessTTL:  e.config.JWT.AccessTTL,
		RefreshTTL: e.config.JWT.RefreshTTL,
		Directory:  e.directory,
	}

	var requireKind jwt.Kind
	if e.config.Gate.RequireAccessKind {
		requireKind = jwt.KindAccess
	}

	return flows.Deps{
		Register: flows.RegisterDeps{
			HashPassword: e.hashPassword,
			Directory:    e.directory,
			MetricInc:    metricInc,
			EmitAudit:    audit,
			Warn:         e.logger.Warn,
			Metrics: flows.RegisterMetrics{
				Success:   int(MetricRegisterSuccess),
				Duplicate: int(MetricRegisterDuplicate),
				Failure:   int(MetricRegisterFailure),
			},
			Events: flows.RegisterEvents{
				Success:   auditEventRegisterSuccess,
				Duplicate: auditEventRegisterDuplicate,
				Failure:   auditEventRegisterFailure,
			},
			Errors: flows.RegisterErrors{
				EngineNotReady: ErrEngineNotReady,
				EmailExists:    ErrEmailExists,
				Hashing:        ErrHashing,
				Persistence:    ErrPersistence,
			},
		},
		Login: flows.LoginDeps{
			VerifyPassword:         e.verifyPassword,
			PasswordNeedsUpgrade:   e.hasher.NeedsUpgrade,
			HashPassword:           e.hashPassword,
			PasswordUpgradeOnLogin: e.config.Password.UpgradeOnLogin,
			Directory:              e.directory,
			Issue:                  issue,
			MetricInc:              metricInc,
			EmitAudit:              audit,
			Warn:                   e.logger.Warn,
			Metrics: flows.LoginMetrics{
				Success: int(MetricLoginSuccess),
				Failure: int(MetricLoginFailure),
			},
			Events: flows.LoginEvents{
				Success: auditEventLoginSuccess,
				Failure: auditEventLoginFailure,
			},
			Errors: flows.LoginErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidCredentials: ErrInvalidCredentials,
				Persistence:        ErrPersistence,
				TokenIssue:         ErrTokenIssue,
			},
		},
		Issue: issue,
		Refresh: flows.RefreshDeps{
			VerifyToken: e.tokens.Verify,
			Issue:       issue,
			Directory:   e.directory,
		},
		Logout: flows.LogoutDeps{
			Directory: e.directory,
		},
		Validate: flows.ValidateDeps{
			VerifyToken: e.tokens.Verify,
			RequireKind: requireKind,
		},
	}
}
