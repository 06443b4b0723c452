package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authgate/directory"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/password"
)

var (
	errNotReady    = errors.New("not ready")
	errExists      = errors.New("exists")
	errHashing     = errors.New("hashing")
	errPersistence = errors.New("persistence")
	errInvalid     = errors.New("invalid credentials")
	errTokenIssue  = errors.New("token issue")
)

// memDirectory is an in-memory directory with injectable failures.
type memDirectory struct {
	mu         sync.Mutex
	identities map[string]directory.Identity

	findErr   error
	createErr error
	setErr    error
	swapErr   error
	updates   int
}

func newMemDirectory() *memDirectory {
	return &memDirectory{identities: map[string]directory.Identity{}}
}

func (m *memDirectory) FindByEmail(_ context.Context, email string) (directory.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return directory.Identity{}, m.findErr
	}
	id, ok := m.identities[email]
	if !ok {
		return directory.Identity{}, directory.ErrNotFound
	}
	return id, nil
}

func (m *memDirectory) Create(_ context.Context, identity directory.Identity) (directory.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return directory.Identity{}, m.createErr
	}
	if _, ok := m.identities[identity.Email]; ok {
		return directory.Identity{}, directory.ErrDuplicateEmail
	}
	identity.ID = fmt.Sprintf("id-%d", len(m.identities)+1)
	m.identities[identity.Email] = identity
	return identity, nil
}

func (m *memDirectory) SetRefreshToken(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	id, ok := m.identities[email]
	if !ok {
		return directory.ErrNotFound
	}
	id.RefreshToken = token
	m.identities[email] = id
	return nil
}

func (m *memDirectory) CompareAndSwapRefreshToken(_ context.Context, email, expected, next string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.swapErr != nil {
		return m.swapErr
	}
	id, ok := m.identities[email]
	if !ok {
		return directory.ErrNotFound
	}
	if id.RefreshToken == "" || id.RefreshToken != expected {
		return directory.ErrRefreshConflict
	}
	id.RefreshToken = next
	m.identities[email] = id
	return nil
}

func (m *memDirectory) ClearRefreshToken(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.identities[email]
	if !ok {
		return directory.ErrNotFound
	}
	id.RefreshToken = ""
	m.identities[email] = id
	return nil
}

func (m *memDirectory) UpdatePasswordHash(_ context.Context, email, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.identities[email]
	if !ok {
		return directory.ErrNotFound
	}
	id.PasswordHash = hash
	m.identities[email] = id
	m.updates++
	return nil
}

func (m *memDirectory) refresh(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identities[email].RefreshToken
}

func newTokens(t *testing.T) *jwt.Manager {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{Secret: []byte("flows-test-secret-32-bytes-long!")})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	return m
}

func issueDeps(tokens *jwt.Manager, dir IssueDirectory) IssueDeps {
	return IssueDeps{
		IssueToken: tokens.Issue,
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Directory:  dir,
	}
}

func plainHash(_ context.Context, pw string) (string, error) { return "hash:" + pw, nil }

func plainVerify(_ context.Context, pw, encoded string) (bool, error) {
	return encoded == "hash:"+pw, nil
}

func registerDeps(dir RegisterDirectory, counts map[int]int) RegisterDeps {
	return RegisterDeps{
		HashPassword: plainHash,
		Directory:    dir,
		MetricInc:    func(id int) { counts[id]++ },
		Metrics:      RegisterMetrics{Success: 1, Duplicate: 2, Failure: 3},
		Errors: RegisterErrors{
			EngineNotReady: errNotReady,
			EmailExists:    errExists,
			Hashing:        errHashing,
			Persistence:    errPersistence,
		},
	}
}

func loginDeps(t *testing.T, dir *memDirectory) LoginDeps {
	return LoginDeps{
		VerifyPassword: plainVerify,
		Directory:      dir,
		Issue:          issueDeps(newTokens(t), dir),
		Errors: LoginErrors{
			EngineNotReady:     errNotReady,
			InvalidCredentials: errInvalid,
			Persistence:        errPersistence,
			TokenIssue:         errTokenIssue,
		},
	}
}

func TestRunRegister(t *testing.T) {
	dir := newMemDirectory()
	counts := map[int]int{}
	deps := registerDeps(dir, counts)
	ctx := context.Background()

	created, err := RunRegister(ctx, RegisterInput{Username: "alice", Email: "alice@x", Password: "pw1"}, deps)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if created.ID == "" || created.PasswordHash != "hash:pw1" {
		t.Fatalf("unexpected identity %+v", created)
	}

	if _, err := RunRegister(ctx, RegisterInput{Email: "alice@x", Password: "pw2"}, deps); !errors.Is(err, errExists) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if counts[1] != 1 || counts[2] != 1 {
		t.Fatalf("unexpected metric counts %v", counts)
	}
}

// raceDirectory hides the existing identity from the pre-check, as when a
// concurrent registration commits between lookup and insert.
type raceDirectory struct{ *memDirectory }

func (r raceDirectory) FindByEmail(context.Context, string) (directory.Identity, error) {
	return directory.Identity{}, directory.ErrNotFound
}

func TestRunRegisterDuplicateAtCreate(t *testing.T) {
	dir := newMemDirectory()
	dir.identities["alice@x"] = directory.Identity{Email: "alice@x"}

	_, err := RunRegister(context.Background(), RegisterInput{Email: "alice@x", Password: "pw"}, registerDeps(raceDirectory{dir}, map[int]int{}))
	if !errors.Is(err, errExists) {
		t.Fatalf("expected store-level duplicate to map to EmailExists, got %v", err)
	}
}

func TestRunRegisterFailures(t *testing.T) {
	ctx := context.Background()
	in := RegisterInput{Email: "alice@x", Password: "pw"}

	dir := newMemDirectory()
	dir.findErr = directory.ErrUnavailable
	if _, err := RunRegister(ctx, in, registerDeps(dir, map[int]int{})); !errors.Is(err, errPersistence) || !errors.Is(err, directory.ErrUnavailable) {
		t.Fatalf("expected persistence failure, got %v", err)
	}

	dir = newMemDirectory()
	deps := registerDeps(dir, map[int]int{})
	deps.HashPassword = func(context.Context, string) (string, error) { return "", errors.New("entropy") }
	if _, err := RunRegister(ctx, in, deps); !errors.Is(err, errHashing) {
		t.Fatalf("expected hashing failure, got %v", err)
	}

	if _, err := RunRegister(ctx, in, RegisterDeps{Errors: RegisterErrors{EngineNotReady: errNotReady}}); !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

func TestRunLogin(t *testing.T) {
	dir := newMemDirectory()
	dir.identities["alice@x"] = directory.Identity{Email: "alice@x", PasswordHash: "hash:pw1"}
	deps := loginDeps(t, dir)
	ctx := context.Background()

	res, err := RunLogin(ctx, "alice@x", "pw1", deps)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if dir.refresh("alice@x") != res.RefreshToken {
		t.Fatal("expected refresh token to be persisted")
	}

	for _, tc := range []struct{ email, pw string }{{"alice@x", "bad"}, {"bob@x", "pw1"}} {
		if _, err := RunLogin(ctx, tc.email, tc.pw, deps); err != errInvalid {
			t.Fatalf("login(%s) = %v, want bare invalid credentials", tc.email, err)
		}
	}
}

func TestRunLoginUpgradeIsBestEffort(t *testing.T) {
	dir := newMemDirectory()
	dir.identities["alice@x"] = directory.Identity{Email: "alice@x", PasswordHash: "hash:pw1"}
	deps := loginDeps(t, dir)
	deps.PasswordUpgradeOnLogin = true
	deps.PasswordNeedsUpgrade = func(string) (bool, error) { return true, nil }
	var warned int
	deps.Warn = func(string, ...any) { warned++ }
	deps.HashPassword = func(context.Context, string) (string, error) { return "", errors.New("boom") }

	if _, err := RunLogin(context.Background(), "alice@x", "pw1", deps); err != nil {
		t.Fatalf("login must survive failed upgrade: %v", err)
	}
	if warned != 1 || dir.updates != 0 {
		t.Fatalf("warned=%d updates=%d", warned, dir.updates)
	}

	deps.HashPassword = plainHash
	if _, err := RunLogin(context.Background(), "alice@x", "pw1", deps); err != nil {
		t.Fatalf("login: %v", err)
	}
	if dir.updates != 1 {
		t.Fatalf("expected one hash update, got %d", dir.updates)
	}
}

func TestRunLoginPersistFailure(t *testing.T) {
	dir := newMemDirectory()
	dir.identities["alice@x"] = directory.Identity{Email: "alice@x", PasswordHash: "hash:pw1"}
	dir.setErr = directory.ErrUnavailable

	if _, err := RunLogin(context.Background(), "alice@x", "pw1", loginDeps(t, dir)); !errors.Is(err, errPersistence) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
}

func TestRunLoginHashWarning(t *testing.T) {
	dir := newMemDirectory()
	dir.identities["alice@x"] = directory.Identity{Email: "alice@x", PasswordHash: "hash:pw1"}
	deps := loginDeps(t, dir)
	var warnings []string
	deps.Warn = func(msg string, _ ...any) { warnings = append(warnings, msg) }

	cases := []struct {
		name     string
		verify   error
		warnings int
	}{
		{"input too long", password.ErrPasswordTooLong, 0},
		{"malformed hash", fmt.Errorf("%w: bad salt", password.ErrMalformedHash), 1},
	}
	for _, tc := range cases {
		warnings = nil
		deps.VerifyPassword = func(context.Context, string, string) (bool, error) { return false, tc.verify }
		if _, err := RunLogin(context.Background(), "alice@x", "pw1", deps); err != errInvalid {
			t.Fatalf("%s: expected invalid credentials, got %v", tc.name, err)
		}
		if len(warnings) != tc.warnings {
			t.Fatalf("%s: got warnings %v, want %d", tc.name, warnings, tc.warnings)
		}
	}
}

func TestFailureAuditCarriesKind(t *testing.T) {
	var audited []error
	record := func(_ context.Context, _ string, _ bool, _ string, err error, _ func() map[string]string) {
		audited = append(audited, err)
	}
	ctx := context.Background()

	dir := newMemDirectory()
	dir.findErr = directory.ErrUnavailable
	regDeps := registerDeps(dir, map[int]int{})
	regDeps.EmitAudit = record
	_, _ = RunRegister(ctx, RegisterInput{Email: "alice@x", Password: "pw"}, regDeps)

	dir = newMemDirectory()
	dir.identities["alice@x"] = directory.Identity{Email: "alice@x", PasswordHash: "hash:pw1"}
	dir.setErr = directory.ErrUnavailable
	logDeps := loginDeps(t, dir)
	logDeps.EmitAudit = record
	_, _ = RunLogin(ctx, "alice@x", "pw1", logDeps)

	if len(audited) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(audited))
	}
	for i, err := range audited {
		if !errors.Is(err, errPersistence) || !errors.Is(err, directory.ErrUnavailable) {
			t.Fatalf("audit %d: expected kind and cause, got %v", i, err)
		}
	}
}

func TestRunRefresh(t *testing.T) {
	tokens := newTokens(t)
	dir := newMemDirectory()
	dir.identities["alice@x"] = directory.Identity{Email: "alice@x"}
	ctx := context.Background()

	first := RunIssuePair(ctx, "alice@x", issueDeps(tokens, dir))
	if first.Failure != IssueFailureNone {
		t.Fatalf("issue: %v", first.Err)
	}

	deps := RefreshDeps{VerifyToken: tokens.Verify, Issue: issueDeps(tokens, dir), Directory: dir}

	res := RunRefresh(ctx, first.RefreshToken, deps)
	if res.Failure != RefreshFailureNone || res.Subject != "alice@x" {
		t.Fatalf("refresh: %+v", res)
	}
	if dir.refresh("alice@x") != res.RefreshToken {
		t.Fatal("expected rotated token to be stored")
	}

	cases := map[string]struct {
		token string
		want  RefreshFailureKind
	}{
		"stale":      {first.RefreshToken, RefreshFailureMismatch},
		"access":     {res.AccessToken, RefreshFailureWrongKind},
		"garbage":    {"x.y.z", RefreshFailureVerify},
		"no subject": {mustIssue(t, tokens, "ghost@x"), RefreshFailureUnknownSubject},
	}
	for name, tc := range cases {
		if got := RunRefresh(ctx, tc.token, deps); got.Failure != tc.want {
			t.Fatalf("%s: failure = %d, want %d", name, got.Failure, tc.want)
		}
	}
}

func TestRunRefreshLostSwap(t *testing.T) {
	tokens := newTokens(t)
	dir := newMemDirectory()
	dir.identities["alice@x"] = directory.Identity{Email: "alice@x"}
	ctx := context.Background()
	issued := RunIssuePair(ctx, "alice@x", issueDeps(tokens, dir))

	dir.swapErr = directory.ErrRefreshConflict
	deps := RefreshDeps{VerifyToken: tokens.Verify, Issue: issueDeps(tokens, dir), Directory: dir}
	if got := RunRefresh(ctx, issued.RefreshToken, deps); got.Failure != RefreshFailureMismatch {
		t.Fatalf("expected lost swap to be a mismatch, got %d", got.Failure)
	}

	dir.swapErr = directory.ErrUnavailable
	if got := RunRefresh(ctx, issued.RefreshToken, deps); got.Failure != RefreshFailureRotate {
		t.Fatalf("expected rotate failure, got %d", got.Failure)
	}
}

func mustIssue(t *testing.T, tokens *jwt.Manager, subject string) string {
	t.Helper()
	token, err := tokens.Issue(subject, time.Hour, jwt.KindRefresh)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return token
}

func TestRunRevoke(t *testing.T) {
	dir := newMemDirectory()
	dir.identities["alice@x"] = directory.Identity{Email: "alice@x", RefreshToken: "r"}
	deps := LogoutDeps{Directory: dir}

	if err := RunRevoke(context.Background(), "alice@x", deps); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if dir.refresh("alice@x") != "" {
		t.Fatal("expected cleared refresh token")
	}
	if err := RunRevoke(context.Background(), "ghost@x", deps); err != nil {
		t.Fatalf("revoke of unknown subject: %v", err)
	}
}

func TestRunValidate(t *testing.T) {
	tokens := newTokens(t)
	refresh := mustIssue(t, tokens, "alice@x")

	strict := ValidateDeps{VerifyToken: tokens.Verify, RequireKind: jwt.KindAccess}
	if got := RunValidate(refresh, strict); got.Failure != ValidateFailureWrongKind {
		t.Fatalf("expected wrong kind, got %d", got.Failure)
	}
	if got := RunValidate("", strict); got.Failure != ValidateFailureVerify || !errors.Is(got.Err, jwt.ErrMalformed) {
		t.Fatalf("expected verify failure, got %+v", got)
	}

	lenient := ValidateDeps{VerifyToken: tokens.Verify}
	if got := RunValidate(refresh, lenient); got.Failure != ValidateFailureNone || got.Claims.Subject != "alice@x" {
		t.Fatalf("expected any kind to pass, got %+v", got)
	}
}
