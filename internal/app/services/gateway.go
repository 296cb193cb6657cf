package services

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/thushan/olla-gateway/internal/adapter/gateway/breaker"
	"github.com/thushan/olla-gateway/internal/adapter/gateway/capability"
	"github.com/thushan/olla-gateway/internal/adapter/gateway/dedupe"
	"github.com/thushan/olla-gateway/internal/adapter/gateway/failover"
	"github.com/thushan/olla-gateway/internal/adapter/gateway/logging"
	"github.com/thushan/olla-gateway/internal/adapter/gateway/logwriter"
	"github.com/thushan/olla-gateway/internal/adapter/gateway/providerstore"
	"github.com/thushan/olla-gateway/internal/adapter/gateway/selector"
	"github.com/thushan/olla-gateway/internal/adapter/gateway/session"
	"github.com/thushan/olla-gateway/internal/config"
	"github.com/thushan/olla-gateway/internal/core/domain"
	"github.com/thushan/olla-gateway/internal/core/ports"
	"github.com/thushan/olla-gateway/internal/logger"
)

// GatewayService assembles the CLI-proxy gateway (C1-C12) into one
// ports.GatewayProxyService and owns its background goroutines (session
// sweep, async log draining) for the service lifecycle.
type GatewayService struct {
	cfg    *config.GatewayConfig
	logger logger.StyledLogger

	writer   *logwriter.Writer
	sessions *session.Store
	logSink  *logging.Sink
	loop     *failover.Loop
}

func NewGatewayService(cfg *config.GatewayConfig, logger logger.StyledLogger) *GatewayService {
	return &GatewayService{cfg: cfg, logger: logger}
}

func (s *GatewayService) Name() string { return "gateway" }

func (s *GatewayService) Dependencies() []string { return nil }

func (s *GatewayService) Start(ctx context.Context) error {
	writer, err := logwriter.New(logwriter.Config{
		Dir:        filepath.Join("./logs", "gateway"),
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: s.cfg.RetentionDays,
	})
	if err != nil {
		return err
	}
	s.writer = writer

	circuitStore := breaker.NewFileStore(filepath.Join("./logs", "gateway", "circuit_state.json"))
	brk := breaker.New(domain.CircuitBreakerParams{
		FailureThreshold: s.cfg.CircuitBreaker.FailureThreshold,
		OpenDuration:     s.cfg.CircuitBreaker.OpenDuration,
		CooldownSeconds:  s.cfg.CircuitBreaker.CooldownSeconds,
	}, circuitStore)

	store := providerstore.New()
	store.Replace(buildProviders(s.cfg.Providers))

	httpClient := &http.Client{
		Timeout: s.cfg.Upstream.ResponseTimeout,
	}
	sel := selector.New(store, httpClient, s.cfg.PingCacheTTL)

	sessions := session.New()
	s.sessions = sessions

	dedup := dedupe.New(domain.RecentTraceDedupTTL)

	families := capability.NewRegistry()
	capability.RegisterDefaults(families)

	logSink := logging.New(s.logger.GetUnderlying(), writer, writer)
	s.logSink = logSink

	s.loop = failover.New(failover.Loop{
		Dedupe:          dedup,
		Breaker:         brk,
		Sessions:        sessions,
		Selector:        sel,
		Families:        families,
		LogSink:         logSink,
		Client:          httpClient,
		DisabledCLIKeys: toDisabledSet(s.cfg.CLIProxy.DisabledCLIKeys),
		Limits: failover.Limits{
			MaxAttemptsPerProvider: s.cfg.Failover.MaxAttemptsPerProvider,
			MaxProvidersToTry:      s.cfg.Failover.MaxProvidersToTry,
			UpstreamTimeout:        s.cfg.Upstream.ResponseTimeout,
			StreamIdleTimeout:      s.cfg.Upstream.StreamIdleTimeout,
			CooldownSeconds:        s.cfg.CircuitBreaker.CooldownSeconds,
		},
	})

	s.logger.Info("Gateway initialised", "schema_version", s.cfg.SchemaVersion, "listen_mode", s.cfg.ListenMode)
	return nil
}

func (s *GatewayService) Stop(ctx context.Context) error {
	if s.sessions != nil {
		s.sessions.Close()
	}
	if s.logSink != nil {
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.logSink.Close(closeCtx); err != nil {
			s.logger.Error("Gateway log sink close error", "error", err)
		}
	}
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}

// GetProxyService returns the assembled gateway for HTTPService to mount.
func (s *GatewayService) GetProxyService() ports.GatewayProxyService {
	return s.loop
}

// buildProviders converts the config-file provider list into the domain
// shape providerstore.Store expects, along with the per-CLI enablement
// map each provider's cli_keys entry grants it.
func buildProviders(cfgProviders []config.GatewayProviderConfig) ([]*domain.GatewayProvider, map[string][]int64) {
	providers := make([]*domain.GatewayProvider, 0, len(cfgProviders))
	perCLI := make(map[string][]int64)

	for _, cp := range cfgProviders {
		slots := make(domain.ModelSlotMapping, len(cp.ModelSlots))
		for slot, model := range cp.ModelSlots {
			slots[domain.ModelSlot(slot)] = model
		}

		providers = append(providers, &domain.GatewayProvider{
			ID:             cp.ID,
			Name:           cp.Name,
			DisplayName:    cp.DisplayName,
			BaseURLs:       cp.BaseURLs,
			BaseURLMode:    domain.BaseURLSelectionMode(cp.BaseURLMode),
			Credential:     cp.Credential,
			ModelSlots:     slots,
			CostMultiplier: cp.CostMultiplier,
			Enabled:        cp.Enabled,
		})

		for _, cliKey := range cp.CLIKeys {
			perCLI[cliKey] = append(perCLI[cliKey], cp.ID)
		}
	}

	return providers, perCLI
}

func toDisabledSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
