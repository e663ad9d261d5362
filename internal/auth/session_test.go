package auth

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	apperrors "github.com/frahmantamala/expense-claims/internal"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

// tokenBackend issues real JWTs so the session can read their expiry.
type tokenBackend struct {
	gen        *JWTTokenGenerator
	user       *User
	refreshErr error
	refreshes  atomic.Int32
}

func (b *tokenBackend) Login(_ context.Context, email, password string) (AuthTokens, error) {
	if password != "correct_password" {
		return AuthTokens{}, apperrors.ErrInvalidCredentials
	}
	return b.pair()
}

func (b *tokenBackend) Refresh(_ context.Context, _ string) (AuthTokens, error) {
	b.refreshes.Add(1)
	if b.refreshErr != nil {
		return AuthTokens{}, b.refreshErr
	}
	return b.pair()
}

func (b *tokenBackend) CurrentUser(_ context.Context, _ string) (*User, error) {
	return b.user, nil
}

func (b *tokenBackend) pair() (AuthTokens, error) {
	access, err := b.gen.GenerateAccessToken("1", b.user.Email)
	if err != nil {
		return AuthTokens{}, err
	}
	refresh, err := b.gen.GenerateRefreshToken("1", b.user.Email)
	if err != nil {
		return AuthTokens{}, err
	}
	return AuthTokens{AccessToken: access, RefreshToken: refresh}, nil
}

var _ = ginkgo.Describe("Session", func() {
	var (
		backend *tokenBackend
		session *Session
		now     time.Time
		ctx     context.Context
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		now = time.Now()
		gen := NewJWTTokenGenerator("a", "r", 10*time.Minute, time.Hour)
		gen.now = func() time.Time { return now }
		backend = &tokenBackend{gen: gen, user: &User{ID: 1, Email: "employee@example.com", Role: RoleEmployee, IsActive: true}}
		session = NewSession(backend, backend, nil)
		session.now = func() time.Time { return now }
	})

	ginkgo.It("signs in and exposes the user", func() {
		user, err := session.Login(ctx, "employee@example.com", "correct_password")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(user.Role).To(gomega.Equal(RoleEmployee))

		current, ok := session.CurrentUser()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(current.ID).To(gomega.Equal(int64(1)))
	})

	ginkgo.It("keeps a fresh access token", func() {
		_, err := session.Login(ctx, "employee@example.com", "correct_password")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		token, err := session.AccessToken(ctx)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(token).NotTo(gomega.BeEmpty())
		gomega.Expect(backend.refreshes.Load()).To(gomega.Equal(int32(0)))
	})

	ginkgo.It("refreshes shortly before expiry", func() {
		_, err := session.Login(ctx, "employee@example.com", "correct_password")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		now = now.Add(10*time.Minute - 10*time.Second)
		_, err = session.AccessToken(ctx)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(backend.refreshes.Load()).To(gomega.Equal(int32(1)))
	})

	ginkgo.It("expires when the refresh token is refused", func() {
		_, err := session.Login(ctx, "employee@example.com", "correct_password")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		var expired atomic.Int32
		session.OnExpired(func() {
			expired.Add(1)
			_, still := session.CurrentUser()
			gomega.Expect(still).To(gomega.BeFalse())
		})

		backend.refreshErr = apperrors.ErrTokenExpired
		now = now.Add(time.Hour)
		_, err = session.AccessToken(ctx)
		gomega.Expect(err).To(gomega.MatchError(apperrors.ErrSessionExpired))
		gomega.Expect(expired.Load()).To(gomega.Equal(int32(1)))
	})

	ginkgo.It("keeps the session on transport failures", func() {
		_, err := session.Login(ctx, "employee@example.com", "correct_password")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		backend.refreshErr = apperrors.ErrTransportError
		now = now.Add(time.Hour)
		_, err = session.AccessToken(ctx)
		gomega.Expect(err).To(gomega.MatchError(apperrors.ErrTransportError))

		_, ok := session.CurrentUser()
		gomega.Expect(ok).To(gomega.BeTrue())
	})

	ginkgo.It("runs expiry hooks only for a signed-in session", func() {
		var expired atomic.Int32
		session.OnExpired(func() { expired.Add(1) })

		session.Expire()
		gomega.Expect(expired.Load()).To(gomega.Equal(int32(0)))

		_, err := session.Login(ctx, "employee@example.com", "correct_password")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		session.Expire()
		gomega.Expect(expired.Load()).To(gomega.Equal(int32(1)))

		_, err = session.AccessToken(ctx)
		gomega.Expect(err).To(gomega.MatchError(apperrors.ErrSessionExpired))
	})

	ginkgo.Describe("FileStore", func() {
		ginkgo.It("persists the session with owner-only permissions", func() {
			path := filepath.Join(ginkgo.GinkgoT().TempDir(), "session.json")
			store := FileStore{Path: path}
			session = NewSession(backend, backend, store)
			session.now = func() time.Time { return now }

			_, err := session.Login(ctx, "employee@example.com", "correct_password")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			info, err := os.Stat(path)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(info.Mode().Perm()).To(gomega.Equal(os.FileMode(0o600)))

			restored := NewSession(backend, backend, store)
			gomega.Expect(restored.Restore()).To(gomega.Succeed())
			user, ok := restored.CurrentUser()
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(user.Email).To(gomega.Equal("employee@example.com"))

			gomega.Expect(restored.Logout()).To(gomega.Succeed())
			_, err = os.Stat(path)
			gomega.Expect(os.IsNotExist(err)).To(gomega.BeTrue())
		})
	})
})
