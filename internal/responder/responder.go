// Package responder turns a single user message into reply text. It never
// fails: rejected calls and local faults are mapped to fixed fallback replies.
package responder

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/officehub/officechat/internal/config"
	"github.com/officehub/officechat/internal/dashscope"
)

const (
	// FallbackRejected is returned when the service answers with a non-200 status.
	FallbackRejected = "I'm sorry, I'm having trouble connecting right now. How else can I help you?"

	// FallbackFault is returned when the call could not be made at all.
	FallbackFault = "I'm here to help with your office space needs. What would you like to know?"
)

// Kind classifies the outcome of a call.
type Kind int

const (
	// Success means the service returned a reply.
	Success Kind = iota
	// Rejected means the service answered with a non-200 status.
	Rejected
	// Fault means the call could not be made or its response not read.
	Fault
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Rejected:
		return "rejected"
	case Fault:
		return "fault"
	default:
		return "unknown"
	}
}

// Outcome is the categorized result of one application call.
type Outcome struct {
	Kind       Kind
	Text       string
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Err        error
}

// Reply returns the text to show the user for this outcome.
func (o Outcome) Reply() string {
	switch o.Kind {
	case Success:
		return o.Text
	case Rejected:
		return FallbackRejected
	default:
		return FallbackFault
	}
}

// Caller performs one application call.
type Caller interface {
	Call(ctx context.Context, appID, prompt string) (*dashscope.Response, error)
}

// CallerFactory builds a Caller for a resolved credential.
type CallerFactory func(apiKey string, cfg *config.Config) Caller

// Responder answers messages through the hosted application.
type Responder struct {
	cfg       *config.Config
	logger    *log.Logger
	newCaller CallerFactory
}

// Option configures a Responder.
type Option func(*Responder)

// WithCallerFactory overrides how the Caller is built.
func WithCallerFactory(f CallerFactory) Option {
	return func(r *Responder) {
		r.newCaller = f
	}
}

// New creates a Responder. A nil cfg is treated as an empty configuration.
func New(cfg *config.Config, logger *log.Logger, opts ...Option) *Responder {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &Responder{
		cfg:       cfg,
		logger:    logger,
		newCaller: newDashScopeCaller,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newDashScopeCaller(apiKey string, cfg *config.Config) Caller {
	return dashscope.NewClient(apiKey,
		dashscope.WithBaseURL(cfg.ProviderURL),
		dashscope.WithHTTPClient(dashscope.NewHTTPClient(cfg.Timeout, cfg.TLSSkipVerify)),
	)
}

// Respond returns the reply for message. It always returns some text.
func (r *Responder) Respond(ctx context.Context, message string) string {
	r.logger.Info("Sending message", "message", message)

	o := r.Call(ctx, message)
	switch o.Kind {
	case Success:
		r.logger.Info("Response received", "request_id", o.RequestID)
	case Rejected:
		r.logger.Error("Error", "status", o.StatusCode, "code", o.Code, "message", o.Message, "request_id", o.RequestID)
	case Fault:
		r.logger.Error("Exception", "err", o.Err)
	}
	return o.Reply()
}

// Call performs the application call and classifies its result.
func (r *Responder) Call(ctx context.Context, message string) Outcome {
	key, source, err := config.ResolveAPIKey(r.cfg.APIKey)
	if err != nil {
		return Outcome{Kind: Fault, Err: err}
	}
	r.logger.Debug("Using DashScope API key", "source", source)

	resp, err := r.newCaller(key, r.cfg).Call(ctx, config.AppID, message)
	if err != nil {
		return Outcome{Kind: Fault, Err: err}
	}

	if !resp.OK() {
		return Outcome{
			Kind:       Rejected,
			StatusCode: resp.StatusCode,
			Code:       resp.Code,
			Message:    resp.Message,
			RequestID:  resp.RequestID,
		}
	}

	for _, m := range resp.Usage.Models {
		r.logger.Debug("Token usage", "model", m.ModelID, "input", m.InputTokens, "output", m.OutputTokens)
	}

	return Outcome{
		Kind:       Success,
		Text:       resp.Output.Text,
		StatusCode: resp.StatusCode,
		RequestID:  resp.RequestID,
	}
}
