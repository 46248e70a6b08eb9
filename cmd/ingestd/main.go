// Command ingestd runs the streaming brokerage-timeline ingester: it logs
// in (or resumes a persisted session), opens the stream, drains the
// transaction timeline, classifies every item, and either exits after one
// full drain or keeps watching for new items on an interval.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/vaultline/ingestcore/internal/classify"
	"github.com/vaultline/ingestcore/internal/config"
	"github.com/vaultline/ingestcore/internal/httpclient"
	"github.com/vaultline/ingestcore/internal/logger"
	"github.com/vaultline/ingestcore/internal/metrics"
	"github.com/vaultline/ingestcore/internal/orchestrator"
	"github.com/vaultline/ingestcore/internal/proxy"
	"github.com/vaultline/ingestcore/internal/supervisor"
)

// serviceFunc adapts a plain function to suture.Service, for the two
// long-running goroutines (admin HTTP server, watch-mode ingestion loop)
// the supervisor tree manages.
type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Serve(ctx context.Context) error { return f(ctx) }

func main() {
	var (
		configPath  = flag.String("config", "", "path to a JSON config file (optional)")
		phoneNumber = flag.String("phone", "", "account phone number, required unless a session is already persisted")
		pin         = flag.String("pin", "", "account PIN, required unless a session is already persisted")
		watch       = flag.Duration("watch-interval", 0, "if set, re-drain the timeline on this interval instead of exiting after one pass")
		verbose     = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := logger.New(level, os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.ErrorErr("ingestd: load config failed", err)
		os.Exit(1)
	}

	reg := metrics.New()
	reg.MustRegister(prometheus.DefaultRegisterer)

	proxyManager := proxy.NewManager(nil)
	if cfg.ProxyListPath != "" {
		if err := proxyManager.LoadFile(cfg.ProxyListPath); err != nil {
			log.ErrorErr("ingestd: load proxy list failed", err)
			os.Exit(1)
		}
	} else if cfg.ProxyURL != "" {
		proxyManager = proxy.NewManager([]string{cfg.ProxyURL})
	}
	if n := proxyManager.Count(); n > 0 {
		log.Infof("ingestd: %d outbound proxies loaded", n)
	}

	httpClient, err := httpclient.New(httpclient.Options{
		Timeout:           cfg.RequestTimeout,
		ProxyURL:          proxyManager.Next(),
		RequestsPerSecond: cfg.AuthRequestsPerSecond,
		Burst:             cfg.AuthRequestBurst,
	})
	if err != nil {
		log.ErrorErr("ingestd: build http client failed", err)
		os.Exit(1)
	}

	orch := orchestrator.New(cfg, log, reg, httpClient)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds := orchestrator.Credentials{
		PhoneNumber: *phoneNumber,
		PIN:         *pin,
		ReadOTP:     readOTPFromStdin,
	}

	watchInterval := *watch
	if watchInterval == 0 {
		watchInterval = cfg.WatchInterval
	}

	print := func(txn classify.NormalizedTxn) {
		fmt.Printf("%s\t%s\t%s %s\t%s\n", txn.Timestamp, txn.Category, txn.AmountSigned, txn.Currency, txn.Merchant)
	}

	if watchInterval > 0 {
		// Long-running mode: both the ingestion loop and the admin HTTP
		// server are supervised, so a panic or a crashed goroutine in
		// either restarts in isolation instead of taking the process down.
		tree := supervisor.New(log.Slog(), supervisor.DefaultTreeConfig())

		if cfg.AdminAddr != "" {
			adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: orch.AdminHandler()}
			tree.AddAdminService(serviceFunc(func(ctx context.Context) error {
				return serveAdmin(ctx, adminSrv, log)
			}))
		}
		tree.AddTransportService(serviceFunc(func(ctx context.Context) error {
			return orch.RunWatch(ctx, creds, watchInterval, print)
		}))

		if err := tree.Serve(ctx); err != nil {
			log.ErrorErr("ingestd: supervisor tree failed", err)
			os.Exit(1)
		}
		return
	}

	if cfg.AdminAddr != "" {
		adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: orch.AdminHandler()}
		go func() {
			log.Infof("ingestd: admin surface listening on %s", cfg.AdminAddr)
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.ErrorErr("ingestd: admin server failed", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			adminSrv.Shutdown(shutdownCtx)
		}()
	}

	txns, err := orch.RunOnce(ctx, creds)
	for _, txn := range txns {
		print(txn)
	}
	if err != nil {
		log.ErrorErr("ingestd: run failed", err)
		os.Exit(1)
	}
}

// serveAdmin runs the admin HTTP server until ctx is cancelled, then shuts
// it down gracefully. Matches suture.Service's Serve(ctx) error signature.
func serveAdmin(ctx context.Context, srv *http.Server, log *logger.Logger) error {
	log.Infof("ingestd: admin surface listening on %s", srv.Addr)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// readOTPFromStdin prompts the operator for the one-time passcode sent to
// complete the login process identified by processID.
func readOTPFromStdin(ctx context.Context, processID string) (string, error) {
	fmt.Fprintf(os.Stderr, "enter the one-time passcode for login process %s: ", processID)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read otp: %w", err)
	}
	otp := line
	for len(otp) > 0 && (otp[len(otp)-1] == '\n' || otp[len(otp)-1] == '\r') {
		otp = otp[:len(otp)-1]
	}
	return otp, nil
}
