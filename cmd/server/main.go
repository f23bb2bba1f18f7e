package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/user/marketing-insights-api/internal/config"
	"github.com/user/marketing-insights-api/internal/handlers"
	"github.com/user/marketing-insights-api/internal/metrics"
	"github.com/user/marketing-insights-api/internal/middleware"
	"github.com/user/marketing-insights-api/internal/repository"
	"github.com/user/marketing-insights-api/internal/services/ai"
	"github.com/user/marketing-insights-api/internal/services/analysis"
	"github.com/user/marketing-insights-api/internal/services/auth"
	"github.com/user/marketing-insights-api/internal/services/email"
	"github.com/user/marketing-insights-api/internal/services/export"
	"github.com/user/marketing-insights-api/internal/services/snapshot"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("%v", err)
	}
}

// run поднимает сервисы и HTTP-сервер; отложенные Close выполняются до выхода
func run() error {
	// Загрузка конфигурации
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	metrics.Register()

	// Подключение к хранилищу
	db, err := repository.NewPostgresDB(cfg.Warehouse, cfg.AI.LogUsageToDatabase)
	if err != nil {
		return fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	repo := repository.NewRepository(db, cfg.Warehouse.Table)

	// Инициализация сервисов
	snapshotService := snapshot.NewService(repo, cfg.Cache.TTL, cfg.Cache.FetchTimeout)

	aiService, err := ai.NewServiceFromConfig(context.Background(), cfg.AI, cfg.Analysis, repo)
	if err != nil {
		return fmt.Errorf("ошибка инициализации AI: %w", err)
	}
	defer func() {
		if err := aiService.Close(); err != nil {
			log.Printf("[AI] %v", err)
		}
	}()

	exporters := export.NewRegistry(
		export.NewDocxExporter(),
		export.NewPDFExporter(cfg.Export.FontDir),
	)
	controller := analysis.NewController(snapshotService, aiService, exporters, analysis.Options{
		Months:        cfg.Analysis.Months,
		DisplayName:   cfg.Analysis.DisplayName,
		PreviewRows:   cfg.Analysis.PreviewRows,
		DefaultFormat: cfg.Export.DefaultFormat,
	})

	store := analysis.NewStore()
	signer := auth.NewSigner(cfg.Session.Secret, cfg.Session.TokenTTL)
	mailer := email.NewService(cfg.SMTP)
	if !mailer.IsEnabled() {
		log.Println("[Email] SMTP не настроен, отправка выгрузок отключена")
	}

	// Инициализация cron-задач
	c := cron.New(cron.WithLocation(time.UTC))

	// Устаревшие снимки выгрузок
	_, err = c.AddFunc(cfg.Cache.PurgeSchedule, func() {
		if n := snapshotService.Purge(); n > 0 {
			log.Printf("[Cron] Удалено устаревших снимков: %d", n)
		}
	})
	if err != nil {
		return fmt.Errorf("ошибка добавления cron-задачи снимков: %w", err)
	}

	// Неактивные сессии
	_, err = c.AddFunc(cfg.Session.SweepSchedule, func() {
		store.SweepIdle(cfg.Session.IdleTimeout)
	})
	if err != nil {
		return fmt.Errorf("ошибка добавления cron-задачи сессий: %w", err)
	}

	c.Start()
	defer c.Stop()

	// Инициализация HTTP-сервера
	router := gin.Default()
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessionMW := middleware.Session(store, signer, middleware.SessionOptions{
		CookieName: cfg.Session.CookieName,
		Secure:     cfg.Session.SecureCookie,
	})
	handlers.RegisterRoutes(router,
		handlers.NewHandler(controller, mailer),
		handlers.NewAIHandler(aiService),
		sessionMW,
	)

	// Запуск сервера
	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Сервер запущен на порту %s (режим AI: %s)", port, aiService.Mode())
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка запуска сервера: %w", err)
		}
	case <-ctx.Done():
		log.Println("Остановка сервера...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ошибка остановки сервера: %w", err)
		}
	}
	return nil
}
