package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bracketbot/config"
	"bracketbot/internal/adapters/binanceclient"
	"bracketbot/internal/adapters/logger"
	"bracketbot/internal/adapters/sqlite"
	"bracketbot/internal/app"
	"bracketbot/internal/risk"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:         cfg.APIKey,
		SecretKey:      cfg.SecretKey,
		UseTestnet:     cfg.IsTestnet,
		Logger:         appLogger,
		PricePrecision: cfg.PricePrecision,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Risk Manager
	riskMgr, err := risk.NewManager(risk.Config{
		StopLossMinCoeff: cfg.StopLossMinCoeff,
		StopLossMaxCoeff: cfg.StopLossMaxCoeff,
		ProfitMinCoeff:   cfg.ProfitMinCoeff,
		ProfitMaxCoeff:   cfg.ProfitMaxCoeff,
		WaitAfterLoss:    cfg.WaitAfterLoss,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize risk manager")
		log.Fatalf("FATAL: Failed to initialize risk manager: %v", err)
	}
	appLogger.Info(context.Background(), "Risk manager initialized")

	// 6. Initialize Trade Manager
	tradeManager, err := app.NewTradeManager(
		cfg,
		appLogger,
		binanceClient, // Pass the concrete implementation, manager expects the interface
		repo,          // Pass the concrete implementation, manager expects the interface
		riskMgr,
	)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trade manager")
		log.Fatalf("FATAL: Failed to initialize trade manager: %v", err)
	}
	appLogger.Info(context.Background(), "Trade manager initialized")

	// 7. Expose metrics when configured
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			appLogger.Info(context.Background(), "Metrics endpoint listening", map[string]interface{}{"addr": cfg.MetricsAddr})
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				appLogger.Error(context.Background(), err, "Metrics endpoint stopped")
			}
		}()
	}

	// 8. Start the Manager
	// Use context.Background() as the base context for the application run
	if err := tradeManager.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Trade manager exited with error")
		log.Fatalf("FATAL: Trade manager exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
