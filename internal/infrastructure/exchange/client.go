package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/credit_line/internal/domain"
	"golang.org/x/time/rate"
)

const recvWindow = 5000

// Client is a signed REST client shared by the swap and signer relay adapters.
type Client struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	now       func() time.Time
}

// NewClient builds a client. requestsPerSecond <= 0 disables client-side throttling.
func NewClient(apiKey, apiSecret, baseURL string, requestsPerSecond float64) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1)
	}
	return &Client{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   limiter,
		now:       time.Now,
	}
}

// APIError is a non-2xx answer from the remote API.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d code %d: %s", e.Status, e.Code, e.Msg)
}

// Unwrap maps rejections of the request itself onto the domain taxonomy.
// Everything else, including auth, timeout and nonce conflicts, stays transient.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.ErrInvalidParameter
	}
	return nil
}

func (c *Client) sign(params string, timestamp int64) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, c.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// sendRequest signs and sends a request and decodes the result field into out.
func (c *Client) sendRequest(ctx context.Context, method, path string, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	timestamp := c.now().UnixMilli()

	var body []byte
	var paramsStr string
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", domain.ErrInvalidParameter, err)
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if idx := strings.Index(path, "?"); idx != -1 {
		paramsStr = path[idx+1:]
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("X-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-SIGN", c.sign(paramsStr, timestamp))
	req.Header.Set("X-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)
	if resp.StatusCode >= 400 {
		msg := env.RetMsg
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return &APIError{Status: resp.StatusCode, Code: env.RetCode, Msg: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("decode %s response: %w", path, decodeErr)
	}
	if env.RetCode != 0 {
		return &APIError{Status: resp.StatusCode, Code: env.RetCode, Msg: env.RetMsg}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", path, err)
	}
	return nil
}
