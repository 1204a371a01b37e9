package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cross-checker/internal/bisect"
	"cross-checker/internal/blockchoice"
	"cross-checker/internal/config"
	"cross-checker/internal/fanout"
	"cross-checker/internal/indexerclient"
	"cross-checker/internal/models"
	"cross-checker/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_FILE")

	log.Println("Initializing Cross-Checker...")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Printf("Indexers: %d configured", len(cfg.Indexers))
	log.Printf("Poll interval: %s, block choice policy: %s", cfg.PollInterval, cfg.BlockChoicePolicy)

	s, err := store.Open(context.Background(), cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("[store] failed to connect: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(context.Background()); err != nil {
		log.Fatalf("[store] migration failed: %v", err)
	}
	log.Println("[store] migrations applied")

	clients, err := buildClients(cfg)
	if err != nil {
		log.Fatalf("Failed to build indexer clients: %v", err)
	}

	engine := &fanout.Engine{
		Clients: clients,
		Policy:  buildPolicy(cfg),
	}

	clientsByKey := make(map[string]indexerclient.Client, len(clients))
	for _, c := range clients {
		clientsByKey[c.Identity().Key()] = c
	}

	coordinator := &bisect.Coordinator{
		Store:   s,
		Clients: clientsByKey,
	}
	pool := &bisect.WorkerPool{
		Coordinator: coordinator,
		Workers:     cfg.BisectionWorkers,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx, s, cfg.PollInterval)
	}()

	pool.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	go func() {
		log.Printf("[metrics] listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	metricsServer.Shutdown(context.Background())
	cancel()
	wg.Wait()
}

// buildClients constructs one real IndexerClient per configured
// endpoint, honoring the module-wide PoI batch size and per-request
// timeout.
func buildClients(cfg config.Config) ([]indexerclient.Client, error) {
	clients := make([]indexerclient.Client, 0, len(cfg.Indexers))
	for _, ep := range cfg.Indexers {
		idx := models.Indexer{Name: ep.Name}
		if ep.Address != "" {
			addr, err := models.ParseAddress(ep.Address)
			if err != nil {
				return nil, err
			}
			idx.Address = addr
		}
		hc := indexerclient.NewHTTPClient(idx, ep.URL, cfg.RequestTimeout, 0)
		hc.BatchSize = cfg.PoIBatchSize
		clients = append(clients, hc)
	}
	return clients, nil
}

func buildPolicy(cfg config.Config) blockchoice.Policy {
	if cfg.BlockChoicePolicy == "max_synced" {
		return blockchoice.MaxSynced{}
	}
	threshold := cfg.CommonTipThreshold
	if threshold <= 0 {
		threshold = 1.0
	}
	return blockchoice.CommonTip{Threshold: threshold}
}

func redactDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		u.RawQuery = ""
		return u.String()
	}

	re := regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/?#]+):([^@]+)@`)
	if re.MatchString(raw) {
		return re.ReplaceAllString(raw, `$1:****@`)
	}
	return raw
}
