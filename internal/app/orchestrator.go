// Package app is the application's composition root: it loads
// configuration, registers every lifecycle-managed service with the
// services.ServiceManager in dependency order, and exposes the plain
// Start/Stop pair main.go drives.
package app

import (
	"context"
	"time"

	"github.com/thushan/olla-gateway/internal/app/services"
	"github.com/thushan/olla-gateway/internal/config"
	"github.com/thushan/olla-gateway/internal/logger"
)

// Application owns the service manager and the loaded configuration for
// the process lifetime.
type Application struct {
	config    *config.Config
	logger    *logger.StyledLogger
	manager   *services.ServiceManager
	startTime time.Time
}

// New loads configuration and wires every service (stats, discovery,
// proxy, security, gateway, http) into a ServiceManager, resolving
// startup order from their declared Dependencies().
func New(startTime time.Time, styledLogger *logger.StyledLogger) (*Application, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, err
	}

	manager := services.NewServiceManager(*styledLogger)

	statsSvc := services.NewStatsService(*styledLogger)
	discoverySvc := services.NewDiscoveryService(&cfg.Discovery, nil, *styledLogger)
	discoverySvc.SetStatsService(statsSvc)

	proxySvc := services.NewProxyServiceWrapper(&cfg.Proxy, *styledLogger)
	proxySvc.SetStatsService(statsSvc)
	proxySvc.SetDiscoveryService(discoverySvc)

	securitySvc := services.NewSecurityService(&cfg.Server, nil, *styledLogger)
	securitySvc.SetStatsService(statsSvc)
	proxySvc.SetSecurityService(securitySvc)

	gatewaySvc := services.NewGatewayService(&cfg.Gateway, *styledLogger)

	httpSvc := services.NewHTTPService(&cfg.Server, cfg, *styledLogger)
	httpSvc.SetDependencies(statsSvc, proxySvc, discoverySvc, securitySvc)
	httpSvc.SetGatewayService(gatewaySvc)

	for _, svc := range []services.ManagedService{statsSvc, discoverySvc, proxySvc, securitySvc, gatewaySvc, httpSvc} {
		if err := manager.Register(svc); err != nil {
			return nil, err
		}
	}

	return &Application{
		config:    cfg,
		logger:    styledLogger,
		manager:   manager,
		startTime: startTime,
	}, nil
}

func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
