package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/types"
	"github.com/google/uuid"
)

const maxRawErrorBytes = 2048

// httpProvider carries what every HTTP vendor adapter shares.
type httpProvider struct {
	name    string
	cfg     config.ProviderConfig
	client  *http.Client
	caps    types.CapabilityDescriptor
	healthy atomic.Bool
}

func newHTTPProvider(cfg config.ProviderConfig, client *http.Client, defaultBase string, caps types.CapabilityDescriptor) *httpProvider {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.DefaultModel != "" && !caps.SupportsModel(cfg.DefaultModel) {
		caps.Models = append([]string{cfg.DefaultModel}, caps.Models...)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &httpProvider{name: cfg.Name, cfg: cfg, client: client, caps: caps.Clone()}
}

func (p *httpProvider) Name() string { return p.name }

func (p *httpProvider) Capabilities() types.CapabilityDescriptor { return p.caps.Clone() }

func (p *httpProvider) IsHealthy() bool { return p.healthy.Load() }

// model picks the request's model, then the configured default, then the
// first advertised model.
func (p *httpProvider) model(req *types.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	if p.cfg.DefaultModel != "" {
		return p.cfg.DefaultModel
	}
	return p.caps.DefaultModel()
}

func (p *httpProvider) newRequest(ctx context.Context, method, path string, body any, setAuth func(http.Header)) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, types.NewValidationError(p.name, "marshal request: "+err.Error())
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.cfg.APIBase+path, reader)
	if err != nil {
		return nil, types.NewValidationError(p.name, "create http request: "+err.Error())
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	setAuth(httpReq.Header)
	for k, v := range p.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}
	return httpReq, nil
}

// send performs the round trip. Non-2xx responses are classified and their
// body closed; on success the caller owns resp.Body.
func (p *httpProvider) send(req *http.Request) (*http.Response, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.transportError(req.Context(), "request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		aiErr := classifyStatus(p.name, resp)
		p.observe(aiErr)
		return nil, aiErr
	}
	return resp, nil
}

// probe issues a lightweight authenticated GET and flips health accordingly.
func (p *httpProvider) probe(ctx context.Context, path string, setAuth func(http.Header)) error {
	if p.cfg.APIKey == "" && p.cfg.Type != "openai-compatible" {
		p.healthy.Store(false)
		return types.NewAuthError(p.name, 0, "api key is not configured", "")
	}
	req, err := p.newRequest(ctx, http.MethodGet, path, nil, setAuth)
	if err != nil {
		p.healthy.Store(false)
		return err
	}
	resp, err := p.send(req)
	if err != nil {
		p.healthy.Store(false)
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
	p.healthy.Store(true)
	return nil
}

// observe keeps IsHealthy in line with call outcomes: a rejected credential
// marks the adapter unhealthy, any success marks it healthy.
func (p *httpProvider) observe(err error) {
	if err == nil {
		p.healthy.Store(true)
		return
	}
	if errors.Is(err, types.ErrAuth) {
		p.healthy.Store(false)
	}
}

func (p *httpProvider) transportError(ctx context.Context, msg string, err error) *types.AIError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			aiErr := types.NewTransportError(p.name, "timeout", ctxErr)
			aiErr.HTTPStatus = http.StatusGatewayTimeout
			return aiErr
		}
		return types.NewTransportError(p.name, "canceled", ctxErr)
	}
	return types.NewTransportError(p.name, msg, err)
}

// readBody reads a successful response body and closes it.
func (p *httpProvider) readBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.transportError(ctx, "read response", err)
	}
	return body, nil
}

// classifyStatus maps a non-2xx vendor response onto the error taxonomy.
func classifyStatus(provider string, resp *http.Response) *types.AIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxRawErrorBytes))
	raw := string(body)
	code, message := vendorErrorDetail(body)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewAuthError(provider, resp.StatusCode, message, raw)
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewRateLimitError(provider, parseRetryAfter(resp.Header.Get("Retry-After")), raw)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		aiErr := types.NewTransportError(provider, message, nil)
		aiErr.HTTPStatus = resp.StatusCode
		aiErr.Raw = raw
		aiErr.VendorCode = code
		return aiErr
	default:
		return types.NewVendorError(provider, resp.StatusCode, code, message, raw)
	}
}

// vendorErrorDetail understands the OpenAI and Anthropic error envelopes.
func vendorErrorDetail(body []byte) (code, message string) {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Code    any    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", ""
	}
	code = envelope.Error.Type
	switch c := envelope.Error.Code.(type) {
	case string:
		if c != "" {
			code = c
		}
	case float64:
		code = strconv.Itoa(int(c))
	}
	return code, envelope.Error.Message
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func responseID(vendorID string) string {
	if vendorID != "" {
		return vendorID
	}
	return newID()
}

// rawOrNil drops absent and null JSON values.
func rawOrNil(r json.RawMessage) json.RawMessage {
	if len(r) == 0 || string(r) == "null" {
		return nil
	}
	return r
}

func newID() string { return uuid.NewString() }

func errorf(provider, format string, args ...any) *types.AIError {
	return types.NewVendorError(provider, 0, "", fmt.Sprintf(format, args...), "")
}
