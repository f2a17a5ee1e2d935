package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pingcap/log"
	commonconfig "github.com/prometheus/common/config"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/joyent/pgstatsmon/bootstrap"
	"github.com/joyent/pgstatsmon/catalog"
	"github.com/joyent/pgstatsmon/config"
	"github.com/joyent/pgstatsmon/discovery"
	"github.com/joyent/pgstatsmon/engine"
	"github.com/joyent/pgstatsmon/metrics"
	"github.com/joyent/pgstatsmon/utils/printer"
)

func main() {
	configPath := pflag.String("config", "", "path to the pgstatsmon JSON config file")
	pflag.Parse()

	cfg, err := config.InitConfig(*configPath, nil)
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	if err := cfg.Log.InitDefaultLogger(); err != nil {
		log.Fatal("failed to init logger", zap.Error(err))
	}

	printer.PrintBuildInfo()

	registry := metrics.New(cfg.Target.Metadata)
	defer registry.Stop()

	source := buildDiscoverySource(cfg)

	e := engine.New(engineConfig(cfg), catalog.Catalog, registry, source)
	e.Start()
	defer e.Stop()

	srv := startServer(cfg, registry)

	sig := waitForSignal()
	log.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("error shutting down http server", zap.Error(err))
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		IntervalMs:         cfg.Interval,
		QueryTimeout:       cfg.Connections.QueryTimeout(),
		ConnectTimeout:     cfg.Connections.ConnectTimeout(),
		ConnectRetries:     cfg.Connections.ConnectRetries,
		MonitoringUser:     cfg.User,
		MonitoringPassword: cfg.Password,
		Superuser: bootstrap.SuperuserConfig{
			User:           cfg.Superuser.User,
			Password:       cfg.Superuser.Password,
			ConnectTimeout: cfg.Connections.ConnectTimeout(),
			QueryTimeout:   cfg.Connections.QueryTimeout(),
		},
	}
}

// buildDiscoverySource picks the inventory provider over the static one
// whenever vmapi is configured, per §4.D's "vmapi wins when both are
// configured".
func buildDiscoverySource(cfg *config.Config) discovery.Source {
	if cfg.UsesInventory() {
		httpCfg := cfg.VMAPI.Security.GetHTTPClientConfig()
		httpClient, err := commonconfig.NewClientFromConfig(httpCfg, "pgstatsmon-inventory")
		if err != nil {
			log.Fatal("failed to build inventory http client", zap.Error(err))
		}

		return discovery.NewInventory(discovery.InventoryConfig{
			URL:          cfg.VMAPI.URL,
			PollInterval: cfg.VMAPI.PollIntervalDuration(),
			Tags: discovery.InventoryTags{
				VMTagName:  cfg.VMAPI.Tags.VMTagName,
				VMTagValue: cfg.VMAPI.Tags.VMTagValue,
				NicTag:     cfg.VMAPI.Tags.NicTagRegex,
			},
			BackendPort: cfg.BackendPort,
			Database:    cfg.Database,
		}, httpClient)
	}

	dbs := make([]discovery.StaticEntry, len(cfg.Static.Dbs))
	for i, db := range cfg.Static.Dbs {
		dbs[i] = discovery.StaticEntry{Name: db.Name, IP: db.IP}
	}
	return discovery.NewStatic(discovery.StaticConfig{
		Dbs:         dbs,
		BackendPort: cfg.BackendPort,
		Database:    cfg.Database,
	})
}

func startServer(cfg *config.Config, registry *metrics.Registry) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	registry.RegisterRoute(router, cfg.Target.Route)

	srv := &http.Server{
		Addr:    cfg.Target.IP + ":" + strconv.Itoa(cfg.Target.Port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	log.Info("serving metrics", zap.String("addr", srv.Addr), zap.String("route", cfg.Target.Route))
	return srv
}

func waitForSignal() os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return <-ch
}
