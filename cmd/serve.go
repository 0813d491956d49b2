package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-compliance/internal/api"
	runapp "github.com/khanhnv2901/seca-compliance/internal/application/run"
	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run seca-compliance as a REST API service",
	Long: `Serve the run history and the check catalog over HTTP, start runs as
background jobs and expose Prometheus metrics at /metrics.

Runs against ssh targets authenticate with the server's SSH agent or the
identity_file named in the request; passwords are never accepted over the API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		addr, _ := cmd.Flags().GetString("addr")
		authToken, _ := cmd.Flags().GetString("auth-token")
		historyLimit, _ := cmd.Flags().GetInt("history-limit")
		shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
		corsOrigins, _ := cmd.Flags().GetStringSlice("cors-origins")
		rateLimit, _ := cmd.Flags().GetInt("rate-limit")
		rateBurst, _ := cmd.Flags().GetInt("rate-burst")

		if authToken == "" {
			authToken = os.Getenv("SECA_API_TOKEN")
		}

		// Initialize structured logger
		logger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer func() {
			_ = logger.Sync()
		}()

		jobs := api.NewJobs(api.NewJobManager(), &jobExecutor{
			runs:     appCtx.Services.RunService,
			operator: appCtx.Operator,
			defaults: appCtx.Config.Run,
		}, logger)

		server := api.NewServer(api.Config{
			Catalog:      appCtx.Services.Registry,
			Runs:         appCtx.Services.RunService,
			Health:       &healthAPIService{appCtx: appCtx},
			Jobs:         jobs,
			Metrics:      appCtx.Metrics.Handler(),
			AuthToken:    authToken,
			HistoryLimit: historyLimit,
			Logger:       logger,
			CORSOrigins:  corsOrigins,
			RateLimit:    rateLimit,
			RateBurst:    rateBurst,
		})
		defer server.Close()

		httpServer := &http.Server{
			Addr:              addr,
			Handler:           server,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// SSE streams stay open; the stream handler flushes per event.
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		}

		// Channel to listen for errors from the server
		serverErrors := make(chan error, 1)

		go func() {
			fmt.Printf("%s API server listening on %s (results dir: %s)\n", colorInfo("→"), addr, appCtx.ResultsDir)
			if authToken == "" {
				fmt.Printf("%s No --auth-token set; the API is unauthenticated\n", colorWarn("!"))
			}
			fmt.Printf("%s Press Ctrl+C to gracefully shutdown\n", colorInfo("→"))
			serverErrors <- httpServer.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
		case sig := <-shutdown:
			fmt.Printf("\n%s Received signal %v, initiating graceful shutdown...\n", colorInfo("→"), sig)

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			// Stop accepting requests first, then let running jobs save their partial runs.
			if err := httpServer.Shutdown(ctx); err != nil {
				if closeErr := httpServer.Close(); closeErr != nil {
					return fmt.Errorf("failed to gracefully shutdown server: %w (close error: %v)", err, closeErr)
				}
				return fmt.Errorf("failed to gracefully shutdown server: %w", err)
			}
			if err := jobs.Shutdown(ctx); err != nil {
				return fmt.Errorf("running jobs did not finish: %w", err)
			}

			fmt.Printf("%s Server shutdown complete\n", colorInfo("✓"))
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Address for the API server")
	serveCmd.Flags().String("auth-token", "", "Shared secret for API requests (default $SECA_API_TOKEN)")
	serveCmd.Flags().Int("history-limit", 20, "Default number of runs returned by GET /runs")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	serveCmd.Flags().StringSlice("cors-origins", []string{}, "Allowed CORS origins (empty = allow all)")
	serveCmd.Flags().Int("rate-limit", 10, "Rate limit per IP (requests/second, 0 = disabled)")
	serveCmd.Flags().Int("rate-burst", 20, "Rate limit burst size")
	rootCmd.AddCommand(serveCmd)
}

type healthAPIService struct {
	appCtx *AppContext
}

func (s *healthAPIService) Check(ctx context.Context) error {
	if s.appCtx.ResultsDir == "" {
		return fmt.Errorf("results directory not configured")
	}
	if _, err := os.Stat(s.appCtx.ResultsDir); err != nil {
		return fmt.Errorf("results directory unavailable: %w", err)
	}
	return nil
}

func (s *healthAPIService) Ready(ctx context.Context) error {
	if err := s.Check(ctx); err != nil {
		return err
	}
	if s.appCtx.Services.Registry.Len() == 0 {
		return errors.New("no checks registered")
	}
	return nil
}

// jobExecutor runs API jobs through the run service with the CLI's defaults.
type jobExecutor struct {
	runs     *runapp.Service
	operator string
	defaults RunConfig
}

func (e *jobExecutor) request(req api.JobRequest) (runapp.Request, error) {
	timeout := e.defaults.TimeoutSecs
	if req.TimeoutSecs > 0 {
		timeout = req.TimeoutSecs
	}
	concurrency := e.defaults.Concurrency
	if req.Concurrency > 0 {
		concurrency = req.Concurrency
	}
	operator := e.operator
	if req.Operator != "" {
		operator = req.Operator
	}

	spec, err := buildTargetSpec(TargetConfig{
		Kind:         req.Target,
		Host:         req.Host,
		Port:         req.Port,
		User:         req.User,
		IdentityFile: req.IdentityFile,
		KnownHosts:   req.KnownHosts,
		Insecure:     req.Insecure,
		UseAgent:     true,
	}, time.Duration(timeout)*time.Second)
	if err != nil {
		return runapp.Request{}, err
	}

	return runapp.Request{
		Target:      spec,
		Selection:   req.Selection(),
		Operator:    operator,
		Concurrency: concurrency,
		RateLimit:   e.defaults.RateLimit,
		CheckBudget: time.Duration(e.defaults.CheckBudgetSecs) * time.Second,
	}, nil
}

func (e *jobExecutor) ExecuteJob(ctx context.Context, req api.JobRequest, progress func(check.Result)) (*run.Run, error) {
	r, err := e.request(req)
	if err != nil {
		return nil, err
	}
	r.OnResult = progress
	return e.runs.Execute(ctx, r)
}
