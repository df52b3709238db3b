package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fieldtrack/internal/analytics"
	"fieldtrack/internal/attendance"
	"fieldtrack/internal/cachelayer"
	"fieldtrack/internal/eventbus"
	"fieldtrack/internal/geofencestore"
	"fieldtrack/internal/httpapi"
	"fieldtrack/internal/ingest"
	"fieldtrack/internal/live"
	"fieldtrack/internal/locationstore"
	"fieldtrack/internal/notify"
	"fieldtrack/internal/retryqueue"
	"fieldtrack/internal/scheduler"
	"fieldtrack/internal/shiftengine"
	"fieldtrack/internal/userstore"
	"fieldtrack/pkg/config"
	"fieldtrack/pkg/database"
	"fieldtrack/pkg/kafka"
	"fieldtrack/pkg/logging"
	"fieldtrack/pkg/monitoring"
	"fieldtrack/pkg/redisx"
	"fieldtrack/pkg/server"
)

const serviceVersion = "1.0.0"

func main() {
	logger := logging.NewLoggerWithService("tracker")
	config.LoadEnv(logger)

	logger.Info("Starting tracker")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))

	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	cache := connectCache(logger)

	users := userstore.New(db)
	locations := locationstore.New(db)
	geofences := geofencestore.New(db)
	notifyStore := notify.NewSQLStore(db)
	agg := analytics.New(db, cache, geofences)

	push := notify.NewHTTPPushProvider(
		config.GetEnv("PUSH_GATEWAY_URL", ""),
		config.GetEnv("PUSH_GATEWAY_TOKEN", ""),
		logger,
	)
	dispatcher := notify.New(notifyStore, notifyStore, push, notifyStore, logger)

	var attendanceClient shiftengine.AttendanceClient
	if endpoint := config.GetEnv("SPARROW_ENDPOINT", ""); endpoint != "" {
		enabledTenants := splitCSV(config.GetEnv("ATTENDANCE_ENABLED_TENANTS", ""))
		attendanceClient = attendance.NewTenantGate(attendance.NewClient(endpoint, logger), users, enabledTenants, logger)
	}

	engine := shiftengine.New(db, users, geofences, agg, dispatcher, attendanceClient, logger)

	brokers := splitCSV(config.GetEnv("KAFKA_BROKERS", "localhost:9092"))
	clusterID := config.GetEnv("CLUSTER_ID", "tracker")

	producer, err := kafka.NewProducer(brokers, clusterID, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create kafka producer")
	}
	defer producer.Close()

	consumer, err := kafka.NewConsumer(brokers, "tracker-events", clusterID, "tracker", logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create kafka consumer")
	}
	defer consumer.Close()
	consumer.SetDLQPublisher(producer)

	publisher := eventbus.New(producer, logger)
	eventbus.Register(consumer, users, dispatcher, logger)

	retryQueue := retryqueue.New(cache, producer, logger)

	hub := live.NewHub(logger)
	broadcaster := live.NewBroadcaster(hub, users)

	in := ingest.New(cache, locations, geofences, geofences, agg, broadcaster, retryQueue, logger)
	in.SetEventPublisher(publisher)
	engine.SetEventPublisher(publisher)
	hub.SetSocketServices(in, retryQueue, cache)

	sched := scheduler.New(scheduler.Config{}, engine, retryQueue,
		scheduler.NewIngestReingester(in, users), scheduler.NewSQLErrorLogPurger(db), logger)

	healthChecker := monitoring.NewHealthChecker("tracker", serviceVersion)
	metricsCollector := monitoring.NewMetricsCollector("tracker", serviceVersion, "")

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("kafka_producer", func() monitoring.CheckResult {
		if err := producer.HealthCheck(); err != nil {
			return monitoring.CheckResult{Status: monitoring.StatusUnhealthy, Message: err.Error()}
		}
		return monitoring.CheckResult{Status: monitoring.StatusHealthy}
	})
	healthChecker.AddCheck("kafka_consumer", func() monitoring.CheckResult {
		if err := consumer.HealthCheck(); err != nil {
			return monitoring.CheckResult{Status: monitoring.StatusUnhealthy, Message: err.Error()}
		}
		return monitoring.CheckResult{Status: monitoring.StatusHealthy}
	})
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"JWT_SECRET":   string(jwtSecret),
	}))

	router := server.SetupServiceRouter(logger, "tracker", healthChecker, metricsCollector)

	handler := httpapi.New(in, engine, agg, locations, users, notifyStore, jwtSecret, logger)
	handler.RegisterRoutes(router)
	router.GET("/ws", gin.WrapF(func(w http.ResponseWriter, r *http.Request) {
		live.ServeWS(hub, users, jwtSecret, logger, w, r)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)
	sched.Start()
	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("kafka consumer loop stopped")
		}
	}()

	serverConfig := server.DefaultConfig("tracker", "8090")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("server startup failed")
	}
}

func connectCache(logger logging.Logger) *cachelayer.Layer {
	redisURL := config.GetEnv("REDIS_URL", "redis://localhost:6379")
	ctx, cancelConnect := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelConnect()

	client, err := redisx.NewClientFromURL(ctx, redisURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to create redis client")
	}

	return cachelayer.New(client, cachelayer.Events{}, logger)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
