package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/BruksfildServices01/realty-crm/internal/audit"
	"github.com/BruksfildServices01/realty-crm/internal/config"
	dbpkg "github.com/BruksfildServices01/realty-crm/internal/db"
	"github.com/BruksfildServices01/realty-crm/internal/infra/repository"
	"github.com/BruksfildServices01/realty-crm/internal/models"
	"github.com/BruksfildServices01/realty-crm/internal/realtime"
	"github.com/BruksfildServices01/realty-crm/internal/routes"
	"github.com/BruksfildServices01/realty-crm/internal/runtime"
	"github.com/BruksfildServices01/realty-crm/internal/storage"
	"github.com/BruksfildServices01/realty-crm/internal/telemetry"
	"github.com/BruksfildServices01/realty-crm/internal/timezone"
	"github.com/BruksfildServices01/realty-crm/internal/usecase/reminder"
)

const service = "realty-crm-api"

func main() {
	cfg := config.Load()
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := telemetry.Setup(ctx, cfg, service)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	db := dbpkg.NewDB(cfg)

	sqlxDB, err := dbpkg.NewSQLX(db, dbpkg.Driver(cfg.DBUrl))
	if err != nil {
		logger.Error("sqlx setup failed", "err", err)
		panic(err)
	}

	broker, err := realtime.NewBroker(cfg, logger)
	if err != nil {
		logger.Error("realtime broker failed", "driver", cfg.RealtimeDriver, "err", err)
		panic(err)
	}
	defer broker.Close()

	var objects storage.ObjectStore
	if cfg.StorageEnabled() {
		s3Store, err := storage.NewS3Store(cfg)
		if err != nil {
			logger.Error("object storage failed", "err", err)
		} else {
			objects = s3Store
		}
	}

	auditDispatcher := audit.NewDispatcher(audit.New(db), logger)
	defer auditDispatcher.Close()

	reminders := repository.NewReminderGormRepository(db, broker, logger)
	notifications := repository.NewNotificationGormRepository(db, broker, logger)

	deps := routes.Deps{
		DB:     db,
		SQLX:   sqlxDB,
		Config: cfg,
		Log:    logger,
		Loc:    timezone.Location(cfg.Timezone),

		Broker: broker,
		Audit:  auditDispatcher,
		Store:  objects,

		Appointments:  repository.NewAppointmentGormRepository(db, broker, logger),
		Reminders:     reminders,
		Notifications: notifications,

		Leads:    repository.NewRecordGormRepository[models.Lead](db, models.TableLeads, broker, logger),
		Clients:  repository.NewRecordGormRepository[models.Client](db, models.TableClients, broker, logger),
		Lots:     repository.NewRecordGormRepository[models.Lot](db, models.TableLots, broker, logger),
		Payments: repository.NewRecordGormRepository[models.Payment](db, models.TablePayments, broker, logger),
		Tasks:    repository.NewRecordGormRepository[models.Task](db, models.TableTasks, broker, logger),
	}

	worker := reminder.NewWorker(reminders, notifications, logger, reminder.WorkerConfig{
		Interval:  cfg.ReminderSweepInterval,
		BatchSize: 100,
	})
	go worker.Run(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	routes.RegisterRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           otelhttp.NewHandler(r, "api"),
		ReadHeaderTimeout: 5 * time.Second,
		// streaming requests end with the process context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
