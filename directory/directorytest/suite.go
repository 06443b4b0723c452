// Package directorytest runs a behavioural suite against any directory.Directory.
package directorytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrEthical07/authgate/directory"
)

// Factory returns an empty directory. Cleanup is the caller's job via t.Cleanup.
type Factory func(t *testing.T) directory.Directory

func alice() directory.Identity {
	return directory.Identity{
		Username:     "alice",
		Email:        "alice@x",
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
	}
}

// Run executes every conformance case as a subtest.
func Run(t *testing.T, newDirectory Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, d directory.Directory)
	}{
		{"CreateAndFind", testCreateAndFind},
		{"FindUnknown", testFindUnknown},
		{"CreateDuplicate", testCreateDuplicate},
		{"CreateDuplicateConcurrent", testCreateDuplicateConcurrent},
		{"SetRefreshToken", testSetRefreshToken},
		{"SetRefreshTokenUnknown", testSetRefreshTokenUnknown},
		{"CompareAndSwap", testCompareAndSwap},
		{"CompareAndSwapConcurrent", testCompareAndSwapConcurrent},
		{"ClearRefreshToken", testClearRefreshToken},
		{"UpdatePasswordHash", testUpdatePasswordHash},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newDirectory(t))
		})
	}
}

func mustCreate(t *testing.T, d directory.Directory, identity directory.Identity) directory.Identity {
	t.Helper()
	created, err := d.Create(context.Background(), identity)
	if err != nil {
		t.Fatalf("create %s: %v", identity.Email, err)
	}
	return created
}

func mustFind(t *testing.T, d directory.Directory, email string) directory.Identity {
	t.Helper()
	found, err := d.FindByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("find %s: %v", email, err)
	}
	return found
}

func testCreateAndFind(t *testing.T, d directory.Directory) {
	created := mustCreate(t, d, alice())
	if created.ID == "" {
		t.Fatal("expected Create to assign an ID")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatal("expected Create to set timestamps")
	}

	found := mustFind(t, d, "alice@x")
	if found.ID != created.ID || found.Username != "alice" || found.PasswordHash != alice().PasswordHash {
		t.Fatalf("unexpected identity: %+v", found)
	}
	if found.RefreshToken != "" {
		t.Fatalf("expected no refresh token, got %q", found.RefreshToken)
	}
}

func testFindUnknown(t *testing.T, d directory.Directory) {
	if _, err := d.FindByEmail(context.Background(), "nobody@x"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testCreateDuplicate(t *testing.T, d directory.Directory) {
	first := mustCreate(t, d, alice())

	dup := alice()
	dup.Username = "mallory"
	if _, err := d.Create(context.Background(), dup); !errors.Is(err, directory.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	found := mustFind(t, d, "alice@x")
	if found.ID != first.ID || found.Username != "alice" {
		t.Fatalf("duplicate create modified the record: %+v", found)
	}
}

func testCreateDuplicateConcurrent(t *testing.T, d directory.Directory) {
	const workers = 8
	var (
		wg       sync.WaitGroup
		created  atomic.Int32
		rejected atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			identity := alice()
			identity.Username = fmt.Sprintf("alice-%d", i)
			_, err := d.Create(context.Background(), identity)
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, directory.ErrDuplicateEmail):
				rejected.Add(1)
			default:
				t.Errorf("unexpected create error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if created.Load() != 1 || rejected.Load() != workers-1 {
		t.Fatalf("expected exactly one create, got created=%d rejected=%d", created.Load(), rejected.Load())
	}
}

func testSetRefreshToken(t *testing.T, d directory.Directory) {
	mustCreate(t, d, alice())
	ctx := context.Background()

	if err := d.SetRefreshToken(ctx, "alice@x", "r1"); err != nil {
		t.Fatalf("set r1: %v", err)
	}
	if err := d.SetRefreshToken(ctx, "alice@x", "r2"); err != nil {
		t.Fatalf("set r2: %v", err)
	}
	if got := mustFind(t, d, "alice@x").RefreshToken; got != "r2" {
		t.Fatalf("expected last write to win, got %q", got)
	}
}

func testSetRefreshTokenUnknown(t *testing.T, d directory.Directory) {
	ctx := context.Background()
	if err := d.SetRefreshToken(ctx, "nobody@x", "r1"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := d.FindByEmail(ctx, "nobody@x"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("SetRefreshToken must not create identities, got %v", err)
	}
}

func testCompareAndSwap(t *testing.T, d directory.Directory) {
	mustCreate(t, d, alice())
	ctx := context.Background()

	if err := d.SetRefreshToken(ctx, "alice@x", "r1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := d.CompareAndSwapRefreshToken(ctx, "alice@x", "stale", "r2"); !errors.Is(err, directory.ErrRefreshConflict) {
		t.Fatalf("expected ErrRefreshConflict, got %v", err)
	}
	if got := mustFind(t, d, "alice@x").RefreshToken; got != "r1" {
		t.Fatalf("conflicting CAS modified the token: %q", got)
	}
	if err := d.CompareAndSwapRefreshToken(ctx, "alice@x", "r1", "r2"); err != nil {
		t.Fatalf("cas: %v", err)
	}
	if got := mustFind(t, d, "alice@x").RefreshToken; got != "r2" {
		t.Fatalf("expected r2, got %q", got)
	}
	if err := d.CompareAndSwapRefreshToken(ctx, "nobody@x", "r1", "r2"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testCompareAndSwapConcurrent(t *testing.T, d directory.Directory) {
	mustCreate(t, d, alice())
	ctx := context.Background()
	if err := d.SetRefreshToken(ctx, "alice@x", "r0"); err != nil {
		t.Fatalf("set: %v", err)
	}

	const workers = 16
	var (
		wg     sync.WaitGroup
		won    atomic.Int32
		winner atomic.Value
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			next := fmt.Sprintf("r1-%d", i)
			err := d.CompareAndSwapRefreshToken(ctx, "alice@x", "r0", next)
			switch {
			case err == nil:
				won.Add(1)
				winner.Store(next)
			case errors.Is(err, directory.ErrRefreshConflict):
			default:
				t.Errorf("unexpected cas error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if won.Load() != 1 {
		t.Fatalf("expected exactly one CAS winner, got %d", won.Load())
	}
	if got := mustFind(t, d, "alice@x").RefreshToken; got != winner.Load().(string) {
		t.Fatalf("stored token %q does not match winner %q", got, winner.Load())
	}
}

func testClearRefreshToken(t *testing.T, d directory.Directory) {
	mustCreate(t, d, alice())
	ctx := context.Background()

	if err := d.SetRefreshToken(ctx, "alice@x", "r1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := d.ClearRefreshToken(ctx, "alice@x"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := mustFind(t, d, "alice@x").RefreshToken; got != "" {
		t.Fatalf("expected cleared token, got %q", got)
	}
	if err := d.ClearRefreshToken(ctx, "alice@x"); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if err := d.CompareAndSwapRefreshToken(ctx, "alice@x", "r1", "r2"); !errors.Is(err, directory.ErrRefreshConflict) {
		t.Fatalf("expected ErrRefreshConflict after clear, got %v", err)
	}
	if err := d.ClearRefreshToken(ctx, "nobody@x"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testUpdatePasswordHash(t *testing.T, d directory.Directory) {
	mustCreate(t, d, alice())
	ctx := context.Background()

	if err := d.UpdatePasswordHash(ctx, "alice@x", "new-hash"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := mustFind(t, d, "alice@x").PasswordHash; got != "new-hash" {
		t.Fatalf("expected new-hash, got %q", got)
	}
	if err := d.UpdatePasswordHash(ctx, "nobody@x", "x"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
