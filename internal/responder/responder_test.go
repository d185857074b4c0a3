package responder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/officehub/officechat/internal/config"
	"github.com/officehub/officechat/internal/dashscope"
	"github.com/officehub/officechat/internal/logging"
)

type fakeCaller struct {
	resp *dashscope.Response
	err  error

	calls  int
	appID  string
	prompt string
}

func (f *fakeCaller) Call(_ context.Context, appID, prompt string) (*dashscope.Response, error) {
	f.calls++
	f.appID = appID
	f.prompt = prompt
	return f.resp, f.err
}

func newTestResponder(t *testing.T, cfg *config.Config, caller *fakeCaller) (*Responder, *bytes.Buffer, *string) {
	t.Helper()
	var logs bytes.Buffer
	var usedKey string
	r := New(cfg, logging.New(&logs, logging.Options{Debug: true}), WithCallerFactory(func(apiKey string, _ *config.Config) Caller {
		usedKey = apiKey
		return caller
	}))
	return r, &logs, &usedKey
}

func TestRespond(t *testing.T) {
	tests := []struct {
		name     string
		caller   *fakeCaller
		expected string
		wantLog  string
	}{
		{
			name:     "success returns payload",
			caller:   &fakeCaller{resp: &dashscope.Response{StatusCode: http.StatusOK, Output: dashscope.Output{Text: "Hello!"}}},
			expected: "Hello!",
			wantLog:  "Response received",
		},
		{
			name:     "empty payload is still a success",
			caller:   &fakeCaller{resp: &dashscope.Response{StatusCode: http.StatusOK}},
			expected: "",
			wantLog:  "Response received",
		},
		{
			name:     "non-200 returns rejection fallback",
			caller:   &fakeCaller{resp: &dashscope.Response{StatusCode: http.StatusTooManyRequests, Code: "Throttling", Message: "Requests rate limit exceeded"}},
			expected: FallbackRejected,
			wantLog:  "Requests rate limit exceeded",
		},
		{
			name:     "transport error returns fault fallback",
			caller:   &fakeCaller{err: errors.New("dial tcp: connection refused")},
			expected: FallbackFault,
			wantLog:  "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(config.APIKeyEnv, "sk-test")
			r, logs, _ := newTestResponder(t, &config.Config{}, tt.caller)

			got := r.Respond(context.Background(), "Do you have offices downtown?")
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
			if tt.caller.calls != 1 {
				t.Errorf("expected exactly one call, got %d", tt.caller.calls)
			}
			if tt.caller.appID != config.AppID {
				t.Errorf("expected app id %s, got %s", config.AppID, tt.caller.appID)
			}
			if tt.caller.prompt != "Do you have offices downtown?" {
				t.Errorf("expected message to be sent verbatim, got %q", tt.caller.prompt)
			}
			if !strings.Contains(logs.String(), "Sending message") {
				t.Errorf("expected send diagnostic, got %q", logs.String())
			}
			if !strings.Contains(logs.String(), tt.wantLog) {
				t.Errorf("expected %q in diagnostics, got %q", tt.wantLog, logs.String())
			}
			if strings.Contains(got, "Sending message") {
				t.Error("diagnostics leaked into the reply")
			}
		})
	}
}

func TestRespond_CredentialResolution(t *testing.T) {
	ok := func() *fakeCaller {
		return &fakeCaller{resp: &dashscope.Response{StatusCode: http.StatusOK, Output: dashscope.Output{Text: "ok"}}}
	}

	t.Run("environment variable is used", func(t *testing.T) {
		t.Setenv(config.APIKeyEnv, "X")
		r, _, usedKey := newTestResponder(t, &config.Config{APIKey: "from-config"}, ok())
		r.Respond(context.Background(), "hi")
		if *usedKey != "X" {
			t.Errorf("expected key X, got %q", *usedKey)
		}
	})

	t.Run("configured key used when env unset", func(t *testing.T) {
		t.Setenv(config.APIKeyEnv, "")
		r, _, usedKey := newTestResponder(t, &config.Config{APIKey: "from-config"}, ok())
		r.Respond(context.Background(), "hi")
		if *usedKey != "from-config" {
			t.Errorf("expected configured key, got %q", *usedKey)
		}
	})

	t.Run("no key is a fault without a call", func(t *testing.T) {
		t.Setenv(config.APIKeyEnv, "")
		caller := ok()
		r, logs, _ := newTestResponder(t, &config.Config{}, caller)

		got := r.Respond(context.Background(), "hi")
		if got != FallbackFault {
			t.Errorf("expected fault fallback, got %q", got)
		}
		if caller.calls != 0 {
			t.Errorf("expected no call, got %d", caller.calls)
		}
		if !strings.Contains(logs.String(), "Exception") {
			t.Errorf("expected exception diagnostic, got %q", logs.String())
		}
	})
}

func TestCall_Outcome(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "sk-test")

	caller := &fakeCaller{resp: &dashscope.Response{StatusCode: http.StatusUnauthorized, Code: "InvalidApiKey", Message: "bad key", RequestID: "r-9"}}
	r, _, _ := newTestResponder(t, nil, caller)

	o := r.Call(context.Background(), "hi")
	if o.Kind != Rejected {
		t.Fatalf("expected rejected, got %s", o.Kind)
	}
	if o.StatusCode != http.StatusUnauthorized || o.Code != "InvalidApiKey" || o.RequestID != "r-9" {
		t.Errorf("unexpected outcome: %+v", o)
	}
	if o.Reply() != FallbackRejected {
		t.Errorf("unexpected reply %q", o.Reply())
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{Success: "success", Rejected: "rejected", Fault: "fault", Kind(42): "unknown"} {
		if k.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), k.String(), want)
		}
	}
}

func TestRespond_AgainstHTTPServer(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected string
	}{
		{name: "ok", status: http.StatusOK, body: `{"output":{"text":"Hello!"},"request_id":"r"}`, expected: "Hello!"},
		{name: "rejected", status: http.StatusBadRequest, body: `{"code":"InvalidParameter","message":"bad"}`, expected: FallbackRejected},
		{name: "malformed", status: http.StatusOK, body: `not json`, expected: FallbackFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			t.Setenv(config.APIKeyEnv, "X")
			r := New(&config.Config{ProviderURL: srv.URL}, logging.New(io.Discard, logging.Options{}))

			if got := r.Respond(context.Background(), "hello"); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
			if gotAuth != "Bearer X" {
				t.Errorf("expected Bearer X, got %q", gotAuth)
			}
		})
	}

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		t.Setenv(config.APIKeyEnv, "X")
		r := New(&config.Config{ProviderURL: url}, logging.New(io.Discard, logging.Options{}))
		if got := r.Respond(context.Background(), "hello"); got != FallbackFault {
			t.Errorf("expected fault fallback, got %q", got)
		}
	})
}
