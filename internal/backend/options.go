package backend

import (
	"log/slog"
	"net/http"
	"time"
)

type options struct {
	client    *http.Client
	baseURL   string
	counter   TokenCounter
	logger    *slog.Logger
	maxTokens int
	timeout   time.Duration
}

type Option func(*options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

func WithTokenCounter(c TokenCounter) Option {
	return func(o *options) { o.counter = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxTokens sets the completion cap used when a Request leaves it zero.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(opts []Option) options {
	o := options{maxTokens: 2048}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = newHTTPClient(o.timeout)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.counter == nil {
		o.counter = HeuristicCounter{}
	}
	return o
}
