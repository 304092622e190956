package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"golang.org/x/crypto/bcrypt"

	"kttrack/api/internal/domain"
	"kttrack/api/internal/session"
)

type fakeUsers struct {
	getByIDFn       func(ctx context.Context, userID string) (domain.User, error)
	getByUsernameFn func(ctx context.Context, username string) (domain.User, error)
	countFn         func(ctx context.Context) (int, error)
	insertFn        func(ctx context.Context, user domain.User) (domain.User, error)
}

func (f *fakeUsers) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	if f.getByIDFn == nil {
		return domain.User{}, errors.New("not found")
	}
	return f.getByIDFn(ctx, userID)
}

func (f *fakeUsers) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	if f.getByUsernameFn == nil {
		return domain.User{}, errors.New("not found")
	}
	return f.getByUsernameFn(ctx, username)
}

func (f *fakeUsers) CountUsers(ctx context.Context) (int, error) {
	if f.countFn == nil {
		return 0, nil
	}
	return f.countFn(ctx)
}

func (f *fakeUsers) InsertUser(ctx context.Context, user domain.User) (domain.User, error) {
	if f.insertFn == nil {
		return user, nil
	}
	return f.insertFn(ctx, user)
}

func testUser(t *testing.T, password string) domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return domain.User{ID: "usr_1", Username: "dana", DisplayName: "Dana", PasswordHash: string(hash), Role: domain.AppRoleManager}
}

func newTestService(t *testing.T, users UserStore, timeout time.Duration) *Service {
	t.Helper()
	server := miniredis.RunT(t)
	sessions, err := session.NewRedisStore("redis://" + server.Addr())
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })
	return NewService(users, sessions, Config{
		Secret:         []byte("test-secret"),
		AccessTTL:      time.Minute,
		RefreshTTL:     time.Hour,
		ProfileTimeout: timeout,
	}, nil)
}

func byUsername(user domain.User) *fakeUsers {
	return &fakeUsers{
		getByUsernameFn: func(_ context.Context, username string) (domain.User, error) {
			if username != user.Username {
				return domain.User{}, errors.New("not found")
			}
			return user, nil
		},
		getByIDFn: func(_ context.Context, userID string) (domain.User, error) {
			if userID != user.ID {
				return domain.User{}, errors.New("not found")
			}
			return user, nil
		},
	}
}

func TestSignInAndPrincipal(t *testing.T) {
	user := testUser(t, "correct-horse")
	svc := newTestService(t, byUsername(user), time.Second)
	ctx := context.Background()

	sess, err := svc.SignIn(ctx, "dana", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatalf("expected tokens, got %+v", sess)
	}
	if sess.User.PasswordHash != "" {
		t.Fatal("session must not carry the password hash")
	}

	principal, err := svc.Principal(ctx, sess.AccessToken)
	if err != nil {
		t.Fatalf("Principal() error = %v", err)
	}
	if principal.UserID != "usr_1" || principal.Role != domain.AppRoleManager {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestSignInRejectsBadPasswordAndDeactivated(t *testing.T) {
	user := testUser(t, "correct-horse")
	svc := newTestService(t, byUsername(user), time.Second)
	ctx := context.Background()

	if _, err := svc.SignIn(ctx, "dana", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn() wrong password error = %v", err)
	}
	if _, err := svc.SignIn(ctx, "nobody", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn() unknown user error = %v", err)
	}

	now := time.Now()
	user.DeactivatedAt = &now
	svc = newTestService(t, byUsername(user), time.Second)
	if _, err := svc.SignIn(ctx, "dana", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn() deactivated error = %v", err)
	}
}

func TestSignOutRevokesTokens(t *testing.T) {
	user := testUser(t, "correct-horse")
	svc := newTestService(t, byUsername(user), time.Second)
	ctx := context.Background()

	events, cancel := svc.Subscribe()
	defer cancel()

	sess, err := svc.SignIn(ctx, "dana", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	principal, err := svc.Principal(ctx, sess.AccessToken)
	if err != nil {
		t.Fatalf("Principal() error = %v", err)
	}
	if err := svc.SignOut(ctx, principal, sess.RefreshToken); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}

	if _, err := svc.Principal(ctx, sess.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("Principal() after sign-out error = %v, want ErrSessionRevoked", err)
	}
	if _, err := svc.Refresh(ctx, sess.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("Refresh() after sign-out error = %v, want ErrSessionRevoked", err)
	}

	want := []SessionEventType{SessionSignedIn, SessionSignedOut}
	for _, typ := range want {
		select {
		case event := <-events:
			if event.Type != typ || event.UserID != "usr_1" {
				t.Fatalf("event = %+v, want %s", event, typ)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", typ)
		}
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	user := testUser(t, "correct-horse")
	svc := newTestService(t, byUsername(user), time.Second)
	ctx := context.Background()

	sess, err := svc.SignIn(ctx, "dana", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	next, err := svc.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if next.RefreshToken == sess.RefreshToken {
		t.Fatal("refresh token should rotate")
	}
	if _, err := svc.Refresh(ctx, sess.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("reusing rotated token error = %v, want ErrSessionRevoked", err)
	}
}

func TestResolveProfileFallsBackToUsername(t *testing.T) {
	user := testUser(t, "correct-horse")
	users := &fakeUsers{
		getByIDFn: func(context.Context, string) (domain.User, error) {
			return domain.User{}, errors.New("not found")
		},
		getByUsernameFn: func(_ context.Context, username string) (domain.User, error) {
			if username == "dana" {
				return user, nil
			}
			return domain.User{}, errors.New("not found")
		},
	}
	svc := newTestService(t, users, time.Second)

	got, err := svc.ResolveProfile(context.Background(), Principal{UserID: "external-id", Username: "dana"})
	if err != nil {
		t.Fatalf("ResolveProfile() error = %v", err)
	}
	if got.ID != "usr_1" {
		t.Fatalf("ResolveProfile() = %+v", got)
	}

	if _, err := svc.ResolveProfile(context.Background(), Principal{UserID: "x", Username: "y"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("ResolveProfile() unknown error = %v, want ErrUserNotFound", err)
	}
}

func TestResolveProfileTimesOut(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	users := &fakeUsers{
		getByIDFn: func(context.Context, string) (domain.User, error) {
			<-block
			return domain.User{}, errors.New("too late")
		},
		getByUsernameFn: func(ctx context.Context, _ string) (domain.User, error) {
			<-ctx.Done()
			return domain.User{}, ctx.Err()
		},
	}
	svc := newTestService(t, users, 20*time.Millisecond)

	start := time.Now()
	_, err := svc.ResolveProfile(context.Background(), Principal{UserID: "usr_1", Username: "dana"})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("ResolveProfile() error = %v, want ErrTimedOut", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("ResolveProfile() took %v, should be bounded by the per-attempt timeout", elapsed)
	}
}

func TestEnsureAdmin(t *testing.T) {
	var inserted []domain.User
	users := &fakeUsers{
		countFn: func(context.Context) (int, error) { return len(inserted), nil },
		insertFn: func(_ context.Context, user domain.User) (domain.User, error) {
			inserted = append(inserted, user)
			return user, nil
		},
	}
	svc := newTestService(t, users, time.Second)
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "bootstrap-pass")
	if err != nil || !created {
		t.Fatalf("EnsureAdmin() = %v, %v; want true, nil", created, err)
	}
	if inserted[0].Role != domain.AppRoleAdmin || inserted[0].Username != "admin" {
		t.Fatalf("unexpected admin: %+v", inserted[0])
	}
	if bcrypt.CompareHashAndPassword([]byte(inserted[0].PasswordHash), []byte("bootstrap-pass")) != nil {
		t.Fatal("admin password hash does not match")
	}

	created, err = svc.EnsureAdmin(ctx, "bootstrap-pass")
	if err != nil || created {
		t.Fatalf("second EnsureAdmin() = %v, %v; want false, nil", created, err)
	}
	if created, _ := svc.EnsureAdmin(ctx, ""); created {
		t.Fatal("EnsureAdmin without password must not create an account")
	}
}

func TestHashPasswordRejectsShort(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Fatal("expected error for short password")
	}
}
