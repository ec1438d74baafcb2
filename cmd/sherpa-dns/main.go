/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/stedrow/sherpa-dns/config"
	"github.com/stedrow/sherpa-dns/controller"
	"github.com/stedrow/sherpa-dns/endpoint"
	"github.com/stedrow/sherpa-dns/internal/pkg/health"
	"github.com/stedrow/sherpa-dns/internal/pkg/httpmetrics"
	"github.com/stedrow/sherpa-dns/provider/cloudflare"
	"github.com/stedrow/sherpa-dns/registry"
	"github.com/stedrow/sherpa-dns/source"
)

// Exit codes, per the configuration contract: 0 success, 2 bad config,
// 3 provider authentication failure, 4 Docker daemon unreachable.
const (
	exitOK             = 0
	exitConfigError    = 2
	exitProviderAuth   = 3
	exitDockerConnFail = 4
)

func main() {
	var configPath string
	var logFormat string
	flag.StringVar(&configPath, "config", "/etc/sherpa-dns/config.yaml", "path to the YAML configuration file")
	flag.StringVar(&logFormat, "log-format", "text", "log output format: text or json")
	flag.Parse()

	if logFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Errorf("loading configuration: %v", err)
		os.Exit(exitConfigError)
	}

	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Errorf("parsing logging.level: %v", err)
		os.Exit(exitConfigError)
	}
	log.SetLevel(level)

	if cfg.Controller.DryRun {
		log.Info("running in dry-run mode, no DNS records will be changed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSigterm(cancel)

	dockerSrc, err := source.NewDockerSource(log.WithField("component", "source"), source.Config{
		LabelPrefix:      cfg.Source.LabelPrefix,
		LabelFilter:      cfg.Source.LabelFilter,
		ProxiedByDefault: cfg.Provider.Cloudflare.ProxiedByDefault,
	})
	if err != nil {
		log.Errorf("connecting to the Docker daemon: %v", err)
		os.Exit(exitDockerConnFail)
	}
	// Constructing the client does not dial; list containers once so an
	// unreachable daemon fails fast with its own exit code.
	if _, err := dockerSrc.Snapshot(ctx); err != nil {
		log.Errorf("Docker daemon connection probe failed: %v", err)
		os.Exit(exitDockerConnFail)
	}

	domainFilter := endpoint.NewDomainFilter(cfg.Domains.Include, cfg.Domains.Exclude)

	httpClient := httpmetrics.NewInstrumentedClient(&http.Client{Timeout: 30 * time.Second})
	cfProvider, err := cloudflare.NewProvider(cfg.Provider.Cloudflare.APIToken, domainFilter, cfg.Provider.Cloudflare.ProxiedByDefault, httpClient)
	if err != nil {
		log.Errorf("constructing the cloudflare provider: %v", err)
		os.Exit(exitConfigError)
	}

	// Probe credentials eagerly so a bad token fails fast with a distinct
	// exit code instead of surfacing as a generic reconciliation error.
	if _, err := cfProvider.Zones(ctx); err != nil {
		log.Errorf("cloudflare authentication probe failed: %v", err)
		os.Exit(exitProviderAuth)
	}

	var encryptKey []byte
	if cfg.Registry.EncryptTXT {
		encryptKey = endpoint.DeriveKey(cfg.Registry.EncryptionKey)
	}
	reg, err := registry.NewTXTRegistry(cfProvider, cfg.Registry.TXTPrefix, cfg.Registry.TXTOwnerID, cfg.Registry.TXTWildcardReplacement, encryptKey)
	if err != nil {
		log.Errorf("constructing the TXT registry: %v", err)
		os.Exit(exitConfigError)
	}

	ctrl := controller.New(dockerSrc, reg, log.WithField("component", "controller"))
	ctrl.Interval = cfg.Controller.Interval
	ctrl.Once = cfg.Controller.Once
	ctrl.DryRun = cfg.Controller.DryRun
	ctrl.CleanupOnStop = cfg.Controller.CleanupOnStop
	ctrl.CleanupDelay = cfg.Controller.CleanupDelay

	healthSrv := health.New(ctx, cfg.Controller.HealthAddr, ctrl.Healthy)
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil {
			log.Errorf("health server stopped: %v", err)
		}
	}()

	if err := ctrl.Run(ctx); err != nil {
		log.Errorf("controller stopped: %v", err)
		shutdownHealthServer(healthSrv)
		os.Exit(1)
	}

	shutdownHealthServer(healthSrv)
	os.Exit(exitOK)
}

func shutdownHealthServer(srv *health.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("health server shutdown: %v", err)
	}
}

func handleSigterm(cancel func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	<-signals
	log.Info("received termination signal, shutting down")
	cancel()
}
