// Package backend talks to the claims API over HTTP. It satisfies the
// repository, authenticator and identity contracts the client workflow
// depends on.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	errors "github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/auth"
	"github.com/frahmantamala/expense-claims/internal/category"
	"github.com/frahmantamala/expense-claims/internal/expense"
)

// TokenSource hands out the access token for the next request and is told
// when the backend rejects it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Expire()
}

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	tokens  TokenSource
	logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		http:    &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
}

// WithTokens attaches the session used to authorize claim requests.
func (c *Client) WithTokens(ts TokenSource) *Client {
	c.tokens = ts
	return c
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.AuthTokens, error) {
	var tokens auth.AuthTokens
	err := c.do(ctx, http.MethodPost, "/auth/login", nil, auth.LoginDTO{Email: email, Password: password}, &tokens, false)
	return tokens, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.AuthTokens, error) {
	var tokens auth.AuthTokens
	err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, auth.RefreshTokenDTO{RefreshToken: refreshToken}, &tokens, false)
	return tokens, err
}

// CurrentUser resolves the user behind accessToken. It does not consult the
// attached session, so it can run during login.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*auth.User, error) {
	var u auth.User
	if err := c.send(ctx, http.MethodGet, "/auth/me", nil, nil, &u, accessToken); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) List(ctx context.Context, filters expense.Filters, page expense.Pagination) (expense.Page, error) {
	var resp expense.ListClaimsResponse
	if err := c.do(ctx, http.MethodGet, "/expenses", filters.Query(page), nil, &resp, true); err != nil {
		return expense.Page{}, err
	}

	out := expense.Page{Items: make([]*expense.Claim, 0, len(resp.Data)), PageInfo: resp.Pagination}
	for _, v := range resp.Data {
		claim, err := v.ToClaim()
		if err != nil {
			return expense.Page{}, errors.ErrTransportError.WithCause(fmt.Errorf("decode claim %d: %w", v.ID, err))
		}
		out.Items = append(out.Items, claim)
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id int64) (*expense.Claim, error) {
	return c.claim(ctx, http.MethodGet, claimPath(id, ""), nil)
}

func (c *Client) Create(ctx context.Context, dto expense.CreateClaimDTO) (*expense.Claim, error) {
	return c.claim(ctx, http.MethodPost, "/expenses", expense.NewCreateClaimRequest(dto))
}

func (c *Client) Update(ctx context.Context, id int64, dto expense.UpdateClaimDTO) (*expense.Claim, error) {
	return c.claim(ctx, http.MethodPatch, claimPath(id, ""), dto.Input())
}

func (c *Client) Approve(ctx context.Context, id int64, notes string) (*expense.Claim, error) {
	return c.claim(ctx, http.MethodPost, claimPath(id, "/approve"), expense.ApproveClaimRequest{Notes: notes})
}

func (c *Client) Reject(ctx context.Context, id int64, reason string) (*expense.Claim, error) {
	return c.claim(ctx, http.MethodPost, claimPath(id, "/reject"), expense.RejectClaimRequest{Reason: reason})
}

func (c *Client) RetryPayment(ctx context.Context, id int64) (*expense.Claim, error) {
	return c.claim(ctx, http.MethodPost, claimPath(id, "/retry-payment"), nil)
}

func (c *Client) ListCategories(ctx context.Context) ([]category.Category, error) {
	var resp category.CategoriesResponse
	if err := c.do(ctx, http.MethodGet, "/categories", nil, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.ToCategories(), nil
}

func claimPath(id int64, suffix string) string {
	return "/expenses/" + strconv.FormatInt(id, 10) + suffix
}

func (c *Client) claim(ctx context.Context, method, path string, body interface{}) (*expense.Claim, error) {
	var view expense.ClaimView
	if err := c.do(ctx, method, path, nil, body, &view, true); err != nil {
		return nil, err
	}
	claim, err := view.ToClaim()
	if err != nil {
		return nil, errors.ErrTransportError.WithCause(fmt.Errorf("decode claim: %w", err))
	}
	return claim, nil
}

// do sends a request, authorizing it with the session when authed is set.
// A 401 on an authorized request expires the session.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}, authed bool) error {
	var token string
	if authed {
		if c.tokens == nil {
			return errors.ErrSessionExpired
		}
		var err error
		if token, err = c.tokens.AccessToken(ctx); err != nil {
			return err
		}
	}

	err := c.send(ctx, method, path, query, body, out, token)
	if authed && stderrors.Is(err, errors.ErrSessionExpired) {
		c.tokens.Expire()
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out interface{}, token string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.NewInternalError("failed to encode request", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return errors.NewInternalError("failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "backend request failed", "method", method, "path", path, "error", err)
		return errors.ErrTransportError.WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.ErrTransportError.WithCause(err)
	}
	c.logger.DebugContext(ctx, "backend request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.ErrorFromStatus(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.ErrTransportError.WithCause(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
