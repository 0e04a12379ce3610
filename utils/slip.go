package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SlipParty is the sender or receiver printed on a bank slip.
type SlipParty struct {
	Name    string `json:"name"`
	Account string `json:"account"`
}

// Slip is a bank transfer slip as parsed by the verification API.
type Slip struct {
	TransRef string    `json:"transRef"`
	Amount   float64   `json:"amount"`
	Date     time.Time `json:"date"`
	Sender   SlipParty `json:"sender"`
	Receiver SlipParty `json:"receiver"`
}

type slipResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    *Slip  `json:"data"`
}

type slipRequest struct {
	URL string `json:"url"`
}

// SlipAPIKeyHeader carries the API key on every verification request.
const SlipAPIKeyHeader = "x-authorization"

// SlipClient handles slip verification API interactions
type SlipClient struct {
	apiURL string
	apiKey  string
	client  *http.Client
	limiter *RateLimiter
}

// NewSlipClient creates a new slip client. It returns nil when the API is
// not configured.
func NewSlipClient(apiURL, apiKey string) *SlipClient {
	if apiURL == "" || apiKey == "" {
		return nil
	}

	return &SlipClient{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: NewRateLimiter(SlipRequestsPerSecond),
	}
}

// SlipRequestsPerSecond caps calls to the verification API.
const SlipRequestsPerSecond = 5

// Verify asks the API to read the slip image at imageURL.
func (c *SlipClient) Verify(ctx context.Context, imageURL string) (*Slip, error) {
	if c == nil || c.apiKey == "" {
		return nil, fmt.Errorf("slip verification is not configured")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("slip API busy: %w", err)
		}
	}

	body, err := json.Marshal(slipRequest{URL: imageURL})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(SlipAPIKeyHeader, c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	var decoded slipResponse
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && decoded.Message != "" {
			return nil, fmt.Errorf("slip API returned status %d: %s", resp.StatusCode, decoded.Message)
		}
		return nil, fmt.Errorf("slip API returned status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if !decoded.Success || decoded.Data == nil {
		msg := decoded.Message
		if msg == "" {
			msg = "slip could not be read"
		}
		return nil, fmt.Errorf("slip rejected by API: %s", msg)
	}
	if decoded.Data.TransRef == "" {
		return nil, fmt.Errorf("slip API returned no transaction reference")
	}

	return decoded.Data, nil
}

// SlipExpectation is what a slip must show to pay for an item.
type SlipExpectation struct {
	Price           float64
	ReceiverName    string
	ReceiverAccount string
	MaxAge          time.Duration
	Now             time.Time
}

// MinNameSimilarity is the lowest accepted receiver name similarity.
const MinNameSimilarity = 0.6

// SlipClockSkew is how far in the future a transfer date may be.
const SlipClockSkew = 5 * time.Minute

// SlipRejection explains why a readable slip does not pay for an item.
type SlipRejection struct {
	Reason string
}

func (r *SlipRejection) Error() string {
	return r.Reason
}

// CheckSlip applies the payment rules to a verified slip. A zero MaxAge means
// 24 hours. Empty receiver settings skip their check.
func CheckSlip(slip *Slip, want SlipExpectation) error {
	if slip == nil {
		return &SlipRejection{Reason: "no slip data"}
	}
	if slip.Amount+0.005 < want.Price {
		return &SlipRejection{Reason: fmt.Sprintf("transferred %.2f but the item costs %.2f", slip.Amount, want.Price)}
	}

	if want.ReceiverAccount != "" && !AccountMatches(slip.Receiver.Account, want.ReceiverAccount) {
		return &SlipRejection{Reason: fmt.Sprintf("receiver account %s does not match", slip.Receiver.Account)}
	}
	if want.ReceiverName != "" {
		if score := NameSimilarity(slip.Receiver.Name, want.ReceiverName); score < MinNameSimilarity {
			return &SlipRejection{Reason: fmt.Sprintf("receiver name %q does not match (similarity %.2f)", slip.Receiver.Name, score)}
		}
	}

	maxAge := want.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	now := want.Now
	if now.IsZero() {
		now = time.Now()
	}
	if slip.Date.IsZero() {
		return &SlipRejection{Reason: "slip has no transfer date"}
	}
	if slip.Date.After(now.Add(SlipClockSkew)) {
		return &SlipRejection{Reason: fmt.Sprintf("slip is dated %s, which is in the future",
			slip.Date.Format(time.RFC3339))}
	}
	if age := now.Sub(slip.Date); age > maxAge {
		return &SlipRejection{Reason: fmt.Sprintf("slip is %s old, only slips from the last %s are accepted",
			age.Round(time.Minute), maxAge)}
	}
	return nil
}
