package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"tradegate/client"
	"tradegate/internal/config"
	"tradegate/internal/metrics"
	v1 "tradegate/pkg/api/v1"
	"tradegate/pkg/constraints"
	"tradegate/pkg/logger"
)

var (
	configPath  = flag.String("config", "", "Path to config file")
	baseURL     = flag.String("url", "", "Backend API base URL (default from config)")
	email       = flag.String("email", "demo@tradegate.local", "Login email")
	password    = flag.String("password", "demo-password", "Login password")
	total       = flag.Int("c", 50, "Concurrent requests per round")
	rounds      = flag.Int("rounds", 3, "Rounds, each starting from an invalidated access token")
	metricsAddr = flag.String("metrics-addr", "", "Serve /metrics on this address while running")
)

// countingObserver tallies what the client did across all rounds.
type countingObserver struct {
	refreshOK     atomic.Int64
	refreshFailed atomic.Int64
	retries       atomic.Int64
}

func (o *countingObserver) ObserveRefresh(ok bool) {
	if ok {
		o.refreshOK.Add(1)
		return
	}
	o.refreshFailed.Add(1)
}

func (o *countingObserver) ObserveRetry(int) { o.retries.Add(1) }

type observers []client.Observer

func (m observers) ObserveRefresh(ok bool) {
	for _, o := range m {
		o.ObserveRefresh(ok)
	}
}

func (m observers) ObserveRetry(status int) {
	for _, o := range m {
		o.ObserveRetry(status)
	}
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if *baseURL == "" {
		*baseURL = cfg.APIBaseURL()
	}
	if *metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(*metricsAddr, metrics.Handler()); err != nil {
				fmt.Fprintf(os.Stderr, "metrics: %v\n", err)
			}
		}()
	}

	obs := &countingObserver{}
	c, err := client.New(client.Config{
		BaseURL:        *baseURL,
		Timeout:        cfg.Backend.Timeout,
		RefreshTimeout: cfg.Backend.RefreshTimeout,
	}, client.WithObserver(observers{obs, metrics.NewSessionObserver()}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if _, err := c.Login(ctx, v1.LoginRequest{Email: *email, Password: *password}); err != nil {
		fmt.Fprintf(os.Stderr, "login: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Refresh probe against %s\n", *baseURL)
	fmt.Printf("   Concurrency: %d, rounds: %d\n", *total, *rounds)

	failed := false
	for round := 1; round <= *rounds; round++ {
		before := obs.refreshOK.Load() + obs.refreshFailed.Load()
		if err := invalidateAccess(c); err != nil {
			fmt.Fprintf(os.Stderr, "invalidate access token: %v\n", err)
			os.Exit(1)
		}

		statuses := fire(ctx, c, *total)
		refreshes := obs.refreshOK.Load() + obs.refreshFailed.Load() - before

		fmt.Printf("[round %d] refreshes: %d | statuses: %s\n", round, refreshes, formatStatuses(statuses))
		if refreshes != 1 {
			failed = true
		}
	}

	fmt.Printf("Totals: refresh ok %d, refresh failed %d, retries %d\n",
		obs.refreshOK.Load(), obs.refreshFailed.Load(), obs.retries.Load())
	if failed {
		fmt.Println("FAIL: expected exactly one refresh per round")
		os.Exit(2)
	}
}

// invalidateAccess swaps the access cookie for garbage so the next calls 401.
func invalidateAccess(c *client.Client) error {
	u, err := url.Parse(c.BaseURL())
	if err != nil {
		return err
	}
	u.Path = "/"
	c.Jar().SetCookies(u, []*http.Cookie{{Name: constraints.AccessTokenCookie, Value: "invalidated", Path: "/"}})
	return nil
}

func fire(ctx context.Context, c *client.Client, n int) map[string]int {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		statuses = map[string]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := "200"
			if _, err := c.Profile(ctx); err != nil {
				key = "error"
				var apiErr *client.APIError
				if errors.As(err, &apiErr) {
					key = fmt.Sprintf("%d", apiErr.Status)
				}
			}
			mu.Lock()
			statuses[key]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return statuses
}

func formatStatuses(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%d", k, m[k])
	}
	return out
}
