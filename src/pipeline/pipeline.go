// Package pipeline assembles the relay from its configuration. It is shared
// by every entry point: the CLI commands, the MCP server and the HTTP API.
package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"pipeline-relay/src/admission"
	"pipeline-relay/src/agent"
	"pipeline-relay/src/broker"
	"pipeline-relay/src/cache"
	"pipeline-relay/src/config"
	"pipeline-relay/src/jenkins"
	"pipeline-relay/src/logger"
	"pipeline-relay/src/monitor"
	"pipeline-relay/src/orchestrator"
	"pipeline-relay/src/retry"
	"pipeline-relay/src/session"
)

// Mode selects where snapshot events go.
type Mode int

const (
	// LocalMode keeps events in process.
	LocalMode Mode = iota
	// DistributedMode publishes events to Redpanda.
	DistributedMode
)

func (m Mode) String() string {
	if m == DistributedMode {
		return "distributed"
	}
	return "local"
}

// DetectMode picks DistributedMode when Redpanda brokers are configured.
func DetectMode(cfg *config.Config) Mode {
	if len(cfg.Broker.Brokers) > 0 {
		return DistributedMode
	}
	return LocalMode
}

// Runtime holds the process-wide collaborators. The limiter, semaphore and
// cache inside Orchestrator are shared by every handler built from it.
type Runtime struct {
	Config       *config.Config
	Mode         Mode
	Log          logger.Logger
	Broker       broker.Broker
	Jenkins      *jenkins.Client
	Monitor      *monitor.Monitor
	Orchestrator *orchestrator.Orchestrator
}

type options struct {
	log       logger.Logger
	transport session.Transport
	invoker   agent.Invoker
	jenkins   monitor.JenkinsAPI
	broker    broker.Broker
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithTransport(t session.Transport) Option {
	return func(o *options) { o.transport = t }
}

func WithInvoker(inv agent.Invoker) Option {
	return func(o *options) { o.invoker = inv }
}

func WithJenkinsAPI(api monitor.JenkinsAPI) Option {
	return func(o *options) { o.jenkins = api }
}

func WithBroker(b broker.Broker) Option {
	return func(o *options) { o.broker = b }
}

// NewLogger builds the logger selected by the log section. Output goes to
// stderr; stdout belongs to the MCP stdio transport.
func NewLogger(cfg config.LogConfig) logger.Logger {
	level := logger.ParseLevel(cfg.Level)
	if strings.EqualFold(cfg.Format, "json") {
		return logger.NewSlogLogger(os.Stderr, level)
	}
	return logger.NewConsoleLogger(level)
}

// New builds a Runtime. version identifies the relay to the tool sessions
// it opens.
func New(cfg *config.Config, version string, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log
	if log == nil {
		log = NewLogger(cfg.Log)
	}

	rt := &Runtime{
		Config:  cfg,
		Mode:    DetectMode(cfg),
		Log:     log,
		Jenkins: jenkins.NewClient(cfg.Jenkins.URL, cfg.Jenkins.User, cfg.Jenkins.Token),
	}

	switch {
	case o.broker != nil:
		rt.Broker = o.broker
	case rt.Mode == DistributedMode:
		b, err := broker.NewRedpandaBroker(cfg.Broker.Brokers, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redpanda broker: %w", err)
		}
		rt.Broker = b
	default:
		rt.Broker = broker.NewInMemoryBroker()
	}
	log.Debug("[Pipeline] running in %s mode", rt.Mode)

	// One budget for queries and builds alike.
	limiter := admission.NewRateLimiter(cfg.Rate.Requests, cfg.Rate.Window)
	slots := admission.NewSemaphore(cfg.Concurrency.Max)

	var api monitor.JenkinsAPI = rt.Jenkins
	if o.jenkins != nil {
		api = o.jenkins
	}
	rt.Monitor = monitor.New(api,
		monitor.WithQueueInterval(cfg.Jenkins.QueueInterval),
		monitor.WithPollInterval(cfg.Jenkins.PollInterval),
		monitor.WithBroker(rt.Broker),
		monitor.WithLogger(log),
		monitor.WithAdmission(limiter, slots),
	)

	transport := o.transport
	if transport == nil {
		transport = session.NewStdioTransport("pipeline-relay", version)
	}
	invoker := o.invoker
	if invoker == nil {
		invoker = agent.NewHTTPInvoker(cfg.Agent.Endpoint,
			agent.WithAPIKey(cfg.Agent.APIKey),
			agent.WithModel(cfg.Agent.Model),
			agent.WithMaxTurns(cfg.Agent.MaxTurns),
			agent.WithHTTPClient(&http.Client{Timeout: cfg.Agent.Timeout}),
			agent.WithLogger(log),
		)
	}

	rt.Orchestrator = orchestrator.New(orchestrator.Deps{
		Cache:       cache.New(cfg.Cache.Bucket, cfg.Cache.MaxEntries),
		Limiter:     limiter,
		Semaphore:   slots,
		Retry:       retry.New(cfg.RetryPolicy(), retry.WithLogger(log)),
		Pool:        session.NewPool(transport, log, session.WithCleanupTimeout(cfg.SessionCleanupTimeout)),
		Invoker:     invoker,
		Sessions:    cfg.Sessions,
		Instruction: cfg.Agent.Instruction,
		Logger:      log,
	})

	return rt, nil
}

// Close releases the broker.
func (r *Runtime) Close() error {
	if r.Broker == nil {
		return nil
	}
	return r.Broker.Close()
}
