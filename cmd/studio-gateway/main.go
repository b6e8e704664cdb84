// Package main starts the studio gateway: a local HTTP service that fronts
// the Web2Labs video-editing API with retries, realtime completion tracking,
// spend-policy enforcement and channel watch mode.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/web2labs/studio-gateway/internal/api"
	"github.com/web2labs/studio-gateway/internal/authflow"
	"github.com/web2labs/studio-gateway/internal/buildinfo"
	"github.com/web2labs/studio-gateway/internal/config"
	"github.com/web2labs/studio-gateway/internal/downloader"
	log "github.com/web2labs/studio-gateway/internal/logging"
	"github.com/web2labs/studio-gateway/internal/poller"
	"github.com/web2labs/studio-gateway/internal/realtime"
	"github.com/web2labs/studio-gateway/internal/spend"
	"github.com/web2labs/studio-gateway/internal/studio"
	"github.com/web2labs/studio-gateway/internal/tools"
	"github.com/web2labs/studio-gateway/internal/watchstore"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var (
		configPath  string
		port        int
		debug       bool
		showVersion bool
	)
	flag.StringVar(&configPath, "config", defaultConfigPath(), "Path to the gateway config file")
	flag.IntVar(&port, "port", 0, "Listen port (overrides config)")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("studio-gateway %s (commit %s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	// .env values feed the WEB2LABS_* overrides; a missing file is normal.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if port > 0 {
		cfg.Port = port
	}
	if debug {
		cfg.Debug = true
	}
	if cfg.Debug {
		log.SetLevel(slog.LevelDebug)
	}
	if cfg.LoggingToFile {
		if err := log.EnableFileOutput(filepath.Join(filepath.Dir(configPath), "logs")); err != nil {
			log.Warnf("file logging disabled: %v", err)
		}
	}

	client := studio.NewClient(studio.Options{
		Endpoint:    cfg.APIEndpoint,
		APIKey:      cfg.APIKey,
		BearerToken: cfg.BearerToken,
		BasicAuth:   cfg.BasicAuth,
		MaxRetries:  cfg.MaxRetries,
	})

	completionPoller := poller.New(client, poller.Options{
		Realtime: realtime.Options{
			SocketURL:       cfg.SocketURL,
			BaseURL:         cfg.APIEndpoint,
			BasicAuthHeader: studio.NewAuthContext("", "", cfg.BasicAuth).BasicAuthHeader(),
		},
	})

	// The guard re-reads the policy per authorization so config reloads take
	// effect without rebuilding anything.
	policy := spend.NewPolicyHolder(cfg.Spend)
	guard := spend.NewGuard(client, policy.Get)

	watchers, err := watchstore.Open(watchstore.DefaultPath())
	if err != nil {
		log.Fatalf("open watch store: %v", err)
	}
	defer watchers.Close()

	tc := &tools.Context{
		Client:        client,
		Poller:        completionPoller,
		Guard:         guard,
		Watchers:      watchers,
		Downloader:    downloader.New(),
		Auth:          authflow.New(cfg.APIEndpoint, cfg.BasicAuth),
		APIEndpoint:   cfg.APIEndpoint,
		DefaultPreset: cfg.DefaultPreset,
		DownloadDir:   cfg.DownloadDir,
		SkillVersion:  buildinfo.Version,
	}

	server := api.NewServer(api.Options{
		Port:        cfg.Port,
		GatewayKeys: cfg.GatewayKeys,
		Debug:       cfg.Debug,
	}, tc)

	reloader := config.NewReloader(configPath, func(next *config.Config) {
		client.SetAPIKey(next.APIKey)
		client.SetBearerToken(next.BearerToken)
		policy.Set(next.Spend)
		server.SetGatewayKeys(next.GatewayKeys)
		tc.DefaultPreset = next.DefaultPreset
		tc.DownloadDir = next.DownloadDir
	})
	if err := reloader.Start(); err != nil {
		log.Warnf("config hot reload disabled: %v", err)
	}
	defer reloader.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-stop:
		log.Infof("received %s, shutting down", sig)
		if err := server.Shutdown(context.Background()); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}
}

func defaultConfigPath() string {
	if v := os.Getenv("WEB2LABS_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".openclaw", "studio-gateway.yaml")
}
