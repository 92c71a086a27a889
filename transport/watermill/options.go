package watermill

import (
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shortlink-org/correlation/config"
)

// Option configures Client behavior.
type Option func(*Options)

// Options describe the router middleware and the reply topics.
type Options struct {
	Topics         []string
	Retry          RetryOptions
	Timeout        TimeoutOptions
	CircuitBreaker CircuitBreakerOptions
	DLQ            DLQOptions
}

// RetryOptions configure retry middleware behavior.
type RetryOptions struct {
	Enabled             bool
	MaxRetries          int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	Jitter              float64
	MaxElapsedTime      time.Duration
	ResetContextOnRetry bool
}

// TimeoutOptions configure handler timeout middleware.
type TimeoutOptions struct {
	Enabled  bool
	Duration time.Duration
}

// CircuitBreakerOptions configure the circuit breaker middleware.
type CircuitBreakerOptions struct {
	Enabled  bool
	Settings gobreaker.Settings
}

// DLQOptions route undecodable replies to a dead letter topic.
// An empty Topic derives "<received topic>.DLQ".
type DLQOptions struct {
	Enabled bool
	Topic   string
}

const defaultReplyTopic = "correlation.replies"

func defaultOptions(cfg *config.Config) Options {
	cfg.SetDefault("WATERMILL_REPLY_TOPICS", []string{defaultReplyTopic})

	cfg.SetDefault("WATERMILL_RETRY_MAX_RETRIES", 3)
	cfg.SetDefault("WATERMILL_RETRY_INITIAL_INTERVAL", "150ms")
	cfg.SetDefault("WATERMILL_RETRY_MAX_INTERVAL", "2s")
	cfg.SetDefault("WATERMILL_RETRY_MULTIPLIER", 2.0)
	cfg.SetDefault("WATERMILL_RETRY_JITTER", 0.15)
	cfg.SetDefault("WATERMILL_RETRY_MAX_ELAPSED", "0s")
	cfg.SetDefault("WATERMILL_RETRY_RESET_CONTEXT", false)

	cfg.SetDefault("WATERMILL_HANDLER_TIMEOUT_ENABLED", true)
	cfg.SetDefault("WATERMILL_HANDLER_TIMEOUT", "5s")

	cfg.SetDefault("WATERMILL_CB_ENABLED", true)
	cfg.SetDefault("WATERMILL_CB_TIMEOUT", "30s")
	cfg.SetDefault("WATERMILL_CB_INTERVAL", "0s")
	cfg.SetDefault("WATERMILL_CB_FAILURE_THRESHOLD", 5)
	cfg.SetDefault("WATERMILL_CB_HALFOPEN_MAX_REQUESTS", 1)

	cfg.SetDefault("WATERMILL_DLQ_ENABLED", false)
	cfg.SetDefault("WATERMILL_DLQ_TOPIC", "")

	retry := RetryOptions{
		Enabled:             true,
		MaxRetries:          max(cfg.GetInt("WATERMILL_RETRY_MAX_RETRIES"), 0),
		InitialInterval:     cfg.GetDuration("WATERMILL_RETRY_INITIAL_INTERVAL"),
		MaxInterval:         cfg.GetDuration("WATERMILL_RETRY_MAX_INTERVAL"),
		Multiplier:          cfg.GetFloat64("WATERMILL_RETRY_MULTIPLIER"),
		Jitter:              cfg.GetFloat64("WATERMILL_RETRY_JITTER"),
		MaxElapsedTime:      cfg.GetDuration("WATERMILL_RETRY_MAX_ELAPSED"),
		ResetContextOnRetry: cfg.GetBool("WATERMILL_RETRY_RESET_CONTEXT"),
	}

	timeout := TimeoutOptions{
		Enabled:  cfg.GetBool("WATERMILL_HANDLER_TIMEOUT_ENABLED"),
		Duration: cfg.GetDuration("WATERMILL_HANDLER_TIMEOUT"),
	}
	if timeout.Duration <= 0 {
		timeout.Duration = 5 * time.Second
	}

	return Options{
		Topics:         replyTopics(cfg),
		Retry:          retry,
		Timeout:        timeout,
		CircuitBreaker: circuitBreaker(cfg),
		DLQ: DLQOptions{
			Enabled: cfg.GetBool("WATERMILL_DLQ_ENABLED"),
			Topic:   strings.TrimSpace(cfg.GetString("WATERMILL_DLQ_TOPIC")),
		},
	}
}

func replyTopics(cfg *config.Config) []string {
	var topics []string

	for _, value := range cfg.GetStringSlice("WATERMILL_REPLY_TOPICS") {
		for _, topic := range strings.Split(value, ",") {
			if topic = strings.TrimSpace(topic); topic != "" {
				topics = append(topics, topic)
			}
		}
	}

	if len(topics) == 0 {
		return []string{defaultReplyTopic}
	}

	return topics
}

func circuitBreaker(cfg *config.Config) CircuitBreakerOptions {
	failureThreshold := cfg.GetInt("WATERMILL_CB_FAILURE_THRESHOLD")
	if failureThreshold <= 0 {
		failureThreshold = 5
	}

	name := "correlation_replies"
	if service := strings.TrimSpace(cfg.GetString("SERVICE_NAME")); service != "" {
		name = service + "_correlation_replies"
	}

	settings := gobreaker.Settings{
		Name:        name,
		Timeout:     cfg.GetDuration("WATERMILL_CB_TIMEOUT"),
		Interval:    cfg.GetDuration("WATERMILL_CB_INTERVAL"),
		MaxRequests: uint32(max(cfg.GetInt("WATERMILL_CB_HALFOPEN_MAX_REQUESTS"), 1)), //nolint:gosec // bounded below
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}

	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= uint32(failureThreshold) //nolint:gosec // positive
	}

	return CircuitBreakerOptions{
		Enabled:  cfg.GetBool("WATERMILL_CB_ENABLED"),
		Settings: settings,
	}
}

// WithTopics overrides WATERMILL_REPLY_TOPICS.
func WithTopics(topics ...string) Option {
	return func(o *Options) {
		o.Topics = topics
	}
}

// WithRetryOptions overrides retry middleware configuration.
func WithRetryOptions(opts RetryOptions) Option {
	return func(o *Options) {
		o.Retry = opts
	}
}

// WithTimeout enables timeout middleware with the provided duration.
func WithTimeout(duration time.Duration) Option {
	return func(o *Options) {
		o.Timeout.Enabled = duration > 0
		o.Timeout.Duration = duration
	}
}

// WithCircuitBreakerOptions overrides circuit breaker settings.
func WithCircuitBreakerOptions(opts CircuitBreakerOptions) Option {
	return func(o *Options) {
		o.CircuitBreaker = opts
	}
}

// WithDLQ enables the dead letter topic for undecodable replies.
func WithDLQ(topic string) Option {
	return func(o *Options) {
		o.DLQ = DLQOptions{Enabled: true, Topic: topic}
	}
}

// DisableRetry disables retry middleware entirely.
func DisableRetry() Option {
	return func(o *Options) {
		o.Retry.Enabled = false
	}
}

// DisableTimeout disables the timeout middleware.
func DisableTimeout() Option {
	return func(o *Options) {
		o.Timeout.Enabled = false
	}
}

// DisableCircuitBreaker disables the circuit breaker middleware.
func DisableCircuitBreaker() Option {
	return func(o *Options) {
		o.CircuitBreaker.Enabled = false
	}
}
