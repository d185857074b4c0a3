// Package dashscope calls hosted DashScope applications over HTTP.
package dashscope

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public DashScope endpoint.
const DefaultBaseURL = "https://dashscope.aliyuncs.com"

// maxBodySize caps how much of a response body is read.
const maxBodySize = 4 << 20

// ErrMalformedResponse is returned when an accepted call carries a body that
// cannot be interpreted.
var ErrMalformedResponse = errors.New("malformed application response")

// Client issues application completion calls.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a client authenticating with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPClient creates an HTTP client with an optional overall timeout and
// optional TLS verification skip.
func NewHTTPClient(timeout time.Duration, skipVerify bool) *http.Client {
	hc := &http.Client{Timeout: timeout}
	if skipVerify {
		hc.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		}
	}
	return hc
}

// Call sends prompt to the application identified by appID.
//
// The returned error is non-nil only when the call could not be made or its
// response could not be read. A rejection by the service comes back as a
// Response whose OK method reports false.
func (c *Client) Call(ctx context.Context, appID, prompt string) (*Response, error) {
	if c.apiKey == "" {
		return nil, errors.New("api key is empty")
	}
	if appID == "" {
		return nil, errors.New("application id is empty")
	}

	body, err := sonic.Marshal(completionRequest{
		Input:      completionInput{Prompt: prompt},
		Parameters: map[string]any{},
		Debug:      map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/apps/%s/completion", c.baseURL, url.PathEscape(appID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call application: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return parseResponse(resp.StatusCode, raw)
}

func parseResponse(status int, raw []byte) (*Response, error) {
	out := &Response{StatusCode: status}

	if !gjson.ValidBytes(raw) {
		if status == http.StatusOK {
			return nil, fmt.Errorf("%w: body is not JSON", ErrMalformedResponse)
		}
		out.Message = http.StatusText(status)
		return out, nil
	}

	doc := gjson.ParseBytes(raw)
	out.RequestID = doc.Get("request_id").String()

	if status != http.StatusOK {
		out.Code = doc.Get("code").String()
		out.Message = doc.Get("message").String()
		if out.Message == "" {
			out.Message = http.StatusText(status)
		}
		return out, nil
	}

	text := doc.Get("output.text")
	if !text.Exists() {
		return nil, fmt.Errorf("%w: missing output.text", ErrMalformedResponse)
	}
	out.Output = Output{
		Text:         text.String(),
		FinishReason: doc.Get("output.finish_reason").String(),
		SessionID:    doc.Get("output.session_id").String(),
	}

	doc.Get("usage.models").ForEach(func(_, m gjson.Result) bool {
		out.Usage.Models = append(out.Usage.Models, ModelUsage{
			ModelID:      m.Get("model_id").String(),
			InputTokens:  m.Get("input_tokens").Int(),
			OutputTokens: m.Get("output_tokens").Int(),
		})
		return true
	})

	return out, nil
}
