package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	adminapi "github.com/Sentinel-Gate/Sentinelgate/internal/adapter/inbound/admin"
	sentinelhttp "github.com/Sentinel-Gate/Sentinelgate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/otelobs"
	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/redis"
	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/Sentinelgate/internal/config"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/approval"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/credential"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/evidence"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/gateway"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/killswitch"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/pii"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/quarantine"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/rollout"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/taint"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the containment gateway server",
	Long: `Serve boots the gateway: it opens the trace database, wires the
kill switch, quarantine coordinator, policy evaluator, rate limiter,
credential broker, approval engine, and DLP taint tracker into the
ten-step pipeline, then listens for tool calls over HTTP.

Examples:
  # Start with defaults (reads AGENTGATE_* environment variables)
  sentinel-gate serve

  # Start on a specific address
  sentinel-gate serve --addr :9090`,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides AGENTGATE config default)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}

	ctxSig, stop := contextWithGracefulSignals()
	defer stop()

	logLevel := parseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := runGateway(ctxSig, cfg, logger); err != nil {
		return err
	}
	logger.Info("sentinel-gate stopped")
	return nil
}

// runGateway wires every domain component into an Orchestrator and serves
// it over HTTP until ctx is cancelled.
func runGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := sqlite.Open(cfg.TraceDB)
	if err != nil {
		return fmt.Errorf("open trace database: %w", err)
	}
	defer func() { _ = store.Close() }()
	logger.Info("trace database opened", "path", cfg.TraceDB)

	// Kill switch KV: Redis when configured, otherwise in-process memory
	// (single-replica deployments only — the spec's fail-closed contract
	// holds either way since both implement killswitch.KV identically).
	var kv killswitch.KV
	if cfg.RedisURL != "" {
		redisKV, err := redis.NewFromURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis kill switch backend: %w", err)
		}
		kv = redisKV
		logger.Info("kill switch backed by redis")
	} else {
		kv = memory.NewKVStore()
		logger.Info("kill switch backed by in-process memory")
	}
	killSwitch := killswitch.New(kv)

	credentialBroker := credential.New(credential.StubProvider{})

	quarantineCoordinator := quarantine.New(store, credentialBroker, killSwitch)
	if err := quarantineCoordinator.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap quarantine coordinator: %w", err)
	}

	taintTracker := taint.New(store)

	tools, ruleDefs, err := loadPolicyBundle(cfg)
	if err != nil {
		return fmt.Errorf("load policy bundle: %w", err)
	}
	policyEvaluator, localEvaluator, err := buildPolicyEvaluator(cfg, logger, tools, ruleDefs)
	if err != nil {
		return fmt.Errorf("build policy evaluator: %w", err)
	}

	approvalEngine := approval.New()
	exceptionManager := policy.NewExceptionManager()

	var endpoints []webhook.Endpoint
	if cfg.TransparencyAnchorURL != "" {
		endpoints = append(endpoints, webhook.Endpoint{URL: cfg.TransparencyAnchorURL})
	}
	notifier := webhook.New(endpoints, logger)

	rateLimiter := memory.NewRateLimiter()
	rateLimiter.StartCleanup(ctx)
	defer rateLimiter.Stop()
	rateWindow := cfg.RateWindow()
	rateConfig := func(toolName string) ratelimit.RateLimitConfig {
		// A tool absent from rate_caps has no configured limit: Rate<=0
		// tells MemoryRateLimiter to admit every call untracked.
		return ratelimit.RateLimitConfig{Rate: tools.RateCaps[toolName], Period: rateWindow}
	}

	obs, err := otelobs.Setup(cfg.OTelEnabled, os.Stderr)
	if err != nil {
		return fmt.Errorf("set up observability: %w", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	orchestrator := gateway.New()
	if err := orchestrator.WithObservability(obs.Tracer, obs.Meter); err != nil {
		return fmt.Errorf("wire observability into orchestrator: %w", err)
	}
	orchestrator.KillSwitch = killSwitch
	orchestrator.Quarantine = quarantineCoordinator
	orchestrator.RateLimiter = rateLimiter
	orchestrator.RateConfig = rateConfig
	orchestrator.Policy = policyEvaluator
	orchestrator.Exceptions = exceptionManager
	orchestrator.Taint = taintTracker
	orchestrator.Approvals = approvalEngine
	orchestrator.Credentials = credentialBroker
	orchestrator.Executor = noopExecutor{}
	orchestrator.Traces = store
	orchestrator.Webhooks = notifier
	orchestrator.Logger = logger

	exporter := evidence.New(store, Version)
	exporter.Archives = store
	exporter.PIIMode = pii.Mode(cfg.PIIMode)
	exporter.PIITokenSalt = cfg.PIITokenSalt

	handler := &sentinelhttp.GatewayHandler{
		Gateway:    orchestrator,
		Traces:     store,
		KillSwitch: killSwitch,
		Quarantine: quarantineCoordinator,
		Evidence:   exporter,
	}

	revisionManager := policy.NewRevisionManager(store)
	rolloutCtl := rollout.NewController(store, nil)
	reloader := &policyReloader{cfg: cfg, local: localEvaluator, logger: logger}
	adminHandler := adminapi.New(revisionManager, store, exceptionManager, approvalEngine,
		quarantineCoordinator, store, store, rolloutCtl, reloader, store, cfg.AdminAPIKey, logger)

	healthChecker := sentinelhttp.NewHealthChecker(policyEvaluator, killSwitch, Version)

	transport := sentinelhttp.NewHTTPTransport(handler,
		sentinelhttp.WithAddr(cfg.ListenAddr),
		sentinelhttp.WithLogger(logger),
		sentinelhttp.WithExtraHandler(adminHandler.Handler()),
		sentinelhttp.WithHealthChecker(healthChecker),
	)

	logger.Info("gateway starting", "addr", cfg.ListenAddr, "pii_mode", cfg.PIIMode)
	return transport.Start(ctx)
}

// buildPolicyEvaluator assembles the policy decision surface: a local
// evaluator seeded from the signed policy package at AGENTGATE_POLICY_PATH
// (plus any custom CEL rules the bundle carries), wrapped in a remote
// evaluator when AGENTGATE_OPA_URL is set. The local evaluator is never
// used as a live fallback for Evaluate — only for AllowedTools and
// replay/shadow analysis, per the fail-closed contract.
func buildPolicyEvaluator(cfg *config.Config, logger *slog.Logger, tools policy.ToolSet, ruleDefs []policy.RuleDefinition) (policy.Evaluator, *policy.LocalEvaluator, error) {
	local := policy.NewLocalEvaluator(tools, cfg.ApprovalToken)
	if len(ruleDefs) > 0 {
		celEvaluator, err := cel.NewEvaluator()
		if err != nil {
			return nil, nil, fmt.Errorf("build CEL rule evaluator: %w", err)
		}
		ruleSet, err := policy.NewRuleSet(celEvaluator, ruleDefs, 1024)
		if err != nil {
			return nil, nil, fmt.Errorf("compile policy rules: %w", err)
		}
		local.SetRules(ruleSet)
		logger.Info("custom policy rules loaded", "count", len(ruleDefs))
	}

	if cfg.OPAURL == "" {
		return local, local, nil
	}
	logger.Info("policy evaluation delegated to remote engine", "url", cfg.OPAURL)
	return policy.NewRemoteEvaluator(cfg.OPAURL, local), local, nil
}

// policyReloader re-reads and re-verifies the signed policy package at
// cfg.PolicyPath and swaps it into the live local evaluator. Used by the
// admin /admin/policies/reload route to pick up a newly published bundle
// without a process restart.
type policyReloader struct {
	cfg    *config.Config
	local  *policy.LocalEvaluator
	logger *slog.Logger
}

func (p *policyReloader) Reload(_ context.Context) error {
	tools, ruleDefs, err := loadPolicyBundle(p.cfg)
	if err != nil {
		return fmt.Errorf("load policy bundle: %w", err)
	}

	var ruleSet *policy.RuleSet
	if len(ruleDefs) > 0 {
		celEvaluator, err := cel.NewEvaluator()
		if err != nil {
			return fmt.Errorf("build CEL rule evaluator: %w", err)
		}
		ruleSet, err = policy.NewRuleSet(celEvaluator, ruleDefs, 1024)
		if err != nil {
			return fmt.Errorf("compile policy rules: %w", err)
		}
	}

	p.local.Reload(tools, ruleSet)
	p.logger.Info("policy bundle reloaded", "rule_count", len(ruleDefs))
	return nil
}

// bundleWithRules is the on-disk bundle shape: the ToolSet fields plus an
// optional "rules" array of custom CEL rule definitions.
type bundleWithRules struct {
	policy.ToolSet
	Rules []policy.RuleDefinition `json:"rules"`
}

// loadPolicyBundle reads, verifies, and decodes the signed policy package
// at cfg.PolicyPath. An empty path or a verification failure yields the
// empty ToolSet (deny-by-default), matching the documented fail-closed
// behavior for AGENTGATE_REQUIRE_SIGNED_POLICY.
func loadPolicyBundle(cfg *config.Config) (policy.ToolSet, []policy.RuleDefinition, error) {
	if cfg.PolicyPath == "" {
		return policy.ToolSet{}, nil, nil
	}

	raw, err := os.ReadFile(cfg.PolicyPath)
	if err != nil {
		return policy.ToolSet{}, nil, fmt.Errorf("read policy package %s: %w", cfg.PolicyPath, err)
	}

	var pkg policy.Package
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return policy.ToolSet{}, nil, fmt.Errorf("parse policy package %s: %w", cfg.PolicyPath, err)
	}

	verifier := &policy.PackageVerifier{
		Secret:        []byte(cfg.PolicyPackageSecret),
		RequireSigned: cfg.RequireSignedPolicy,
	}
	bundle, ok := verifier.Verify(pkg)
	if !ok {
		return policy.ToolSet{}, nil, nil
	}

	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		return policy.ToolSet{}, nil, err
	}
	var decoded bundleWithRules
	if err := json.Unmarshal(bundleJSON, &decoded); err != nil {
		return policy.ToolSet{}, nil, err
	}
	return decoded.ToolSet, decoded.Rules, nil
}

// noopExecutor backs the execution stage until a concrete tool registry
// is wired in; every call fails closed rather than fabricating a result.
type noopExecutor struct{}

func (noopExecutor) Execute(_ context.Context, toolName string, _ map[string]any, _ credential.Grant) (any, error) {
	return nil, fmt.Errorf("no executor registered for tool %q", toolName)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func contextWithGracefulSignals() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), gracefulSignals()...)
}
