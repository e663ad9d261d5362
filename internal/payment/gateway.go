package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Request struct {
	ExternalID  string          `json:"external_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

// Result is the gateway's final answer. Status is StatusPaid or
// StatusFailed.
type Result struct {
	GatewayID     string
	Status        Status
	FailureReason string
	Raw           string
}

// Gateway moves money for a claim. An error means the outcome is unknown;
// the processor records it as a failure that can be retried.
type Gateway interface {
	Pay(ctx context.Context, req Request) (Result, error)
}

type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type gatewayResponse struct {
	Data struct {
		ID            string `json:"id"`
		ExternalID    string `json:"external_id"`
		Status        string `json:"status"`
		FailureReason string `json:"failure_reason"`
	} `json:"data"`
}

func (g *HTTPGateway) Pay(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ExternalID)
	if g.apiKey != "" {
		httpReq.Header.Set("X-API-Key", g.apiKey)
	}

	g.logger.InfoContext(ctx, "sending payment request", "external_id", req.ExternalID, "amount", req.Amount.String())

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Result{}, fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, string(raw))
	}

	var decoded gatewayResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}

	res := Result{GatewayID: decoded.Data.ID, Raw: string(raw)}
	switch decoded.Data.Status {
	case "success", "paid", "completed":
		res.Status = StatusPaid
	case "failed":
		res.Status = StatusFailed
		res.FailureReason = decoded.Data.FailureReason
	default:
		return Result{}, fmt.Errorf("payment gateway returned unexpected status %q", decoded.Data.Status)
	}
	return res, nil
}

// SimulatedGateway stands in for a real gateway in development. It
// answers after a short random delay and fails a share of payments.
type SimulatedGateway struct {
	FailureRate float64
	MaxDelay    time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulatedGateway(failureRate float64, maxDelay time.Duration) *SimulatedGateway {
	return &SimulatedGateway{
		FailureRate: failureRate,
		MaxDelay:    maxDelay,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *SimulatedGateway) Pay(ctx context.Context, req Request) (Result, error) {
	g.mu.Lock()
	var delay time.Duration
	if g.MaxDelay > 0 {
		delay = time.Duration(g.rnd.Int63n(int64(g.MaxDelay)))
	}
	fail := g.rnd.Float64() < g.FailureRate
	g.mu.Unlock()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	res := Result{GatewayID: "sim_" + uuid.NewString(), Status: StatusPaid}
	if fail {
		res.Status = StatusFailed
		res.FailureReason = "insufficient funds"
	}
	return res, nil
}
