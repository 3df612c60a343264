package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"thread-sync/internal/auth"
	"thread-sync/internal/blob"
	"thread-sync/internal/db"
	"thread-sync/internal/gate"
	"thread-sync/internal/handlers"
	"thread-sync/internal/middleware"
	"thread-sync/internal/observability"
	"thread-sync/internal/optimistic"
	"thread-sync/internal/rabbitmq"
	"thread-sync/internal/remote"
	"thread-sync/internal/repositories"
	"thread-sync/internal/session"
	"thread-sync/internal/telemetry"
	"thread-sync/internal/ws"
)

func main() {
	ctx := context.Background()
	environment := getEnv("ENVIRONMENT", "dev")

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		auth.InitKey([]byte(secret))
	}

	shutdownTracing := telemetry.InitTracing(ctx, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "thread-sync", environment)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	amqpURL := os.Getenv("AMQP_URL")
	publisher := rabbitmq.NewPublisher(amqpURL, getEnv("SYNC_EXCHANGE", "sync.events"))
	defer publisher.Close()
	log.Printf("sync publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))

	subscriber := rabbitmq.NewSubscriber(amqpURL, getEnv("SYNC_EXCHANGE", "sync.events"))
	defer subscriber.Close()

	if eventsPub, err := observability.NewAMQPPublisher(amqpURL, getEnv("EVENTS_EXCHANGE", "ops.events")); err != nil {
		log.Printf("ops events disabled: %v", err)
	} else {
		observability.SetPublisher(eventsPub)
		defer eventsPub.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(amqpURL, getEnv("AUDIT_EXCHANGE", "audit.events"))
	defer auditPublisher.Close()
	emitter := telemetry.NewAuditEmitter(auditPublisher, getEnv("AUDIT_ROUTING_KEY", "audit.sync"), "thread-sync", environment)

	var (
		channel   remote.Channel
		gateStore repositories.GateRepository
	)
	if os.Getenv("DB_DSN") != "" {
		database, err := db.Connect()
		if err != nil {
			log.Fatalf("failed to connect to db: %v", err)
		}
		channel = remote.NewPostgresChannel(database, publisher, subscriber)
		gateStore = repositories.NewGateRepo(database)
	} else {
		log.Printf("DB_DSN empty, using in-memory channel")
		channel = remote.NewMemoryChannel()
		gateStore = repositories.NewMemoryGateRepo()
	}

	coord := optimistic.NewCoordinator()
	uploader := blob.NewDiskStore(getEnv("BLOB_ROOT", "./blobs"), getEnv("BLOB_BASE_URL", "/blobs"))
	sessions := session.NewManager(channel, coord, uploader)
	defer sessions.StopAll()

	gates := gate.New(gateStore)

	hub := ws.NewHub()
	sessions.SetOnEvent(hub.BroadcastSyncEvent)

	authHandler := handlers.NewAuthHandler()
	threadHandler := handlers.NewThreadHandler(sessions, gates, emitter)
	messageHandler := handlers.NewMessageHandler(sessions, emitter)
	gateHandler := handlers.NewGateHandler(gates)
	feedWS := ws.NewFeedWebSocketHandler(hub, sessions)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("thread-sync"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.Static("/blobs", getEnv("BLOB_ROOT", "./blobs"))

	if environment == "dev" {
		router.POST("/auth/token", authHandler.Token)
	}
	handlers.RegisterDebugRoutes(router, emitter, environment == "dev")

	authMiddleware := middleware.AuthMiddleware()

	router.POST("/session/start", authMiddleware, threadHandler.StartSession)
	router.DELETE("/session", authMiddleware, threadHandler.StopSession)

	router.GET("/threads", authMiddleware, threadHandler.ListThreads)
	router.GET("/threads/sync-status", authMiddleware, threadHandler.SyncStatus)
	router.POST("/threads/direct", authMiddleware, threadHandler.StartDirect)
	router.POST("/threads", authMiddleware, threadHandler.CreateThread)
	router.POST("/threads/:thread_id/visibility", authMiddleware, threadHandler.ApplyVisibility)
	router.POST("/threads/visibility/batch", authMiddleware, threadHandler.BatchVisibility)

	router.POST("/threads/:thread_id/open", authMiddleware, messageHandler.OpenThread)
	router.POST("/threads/close", authMiddleware, messageHandler.CloseThread)
	router.POST("/threads/:thread_id/messages", authMiddleware, messageHandler.SendMessage)
	router.POST("/threads/:thread_id/attachments", authMiddleware, messageHandler.SendAttachment)
	router.POST("/threads/:thread_id/read", authMiddleware, messageHandler.MarkRead)
	router.POST("/threads/:thread_id/unread", authMiddleware, messageHandler.MarkUnread)
	router.GET("/unread/total", authMiddleware, messageHandler.TotalUnread)

	router.GET("/gate", authMiddleware, gateHandler.Status)
	router.POST("/gate", authMiddleware, gateHandler.Create)
	router.POST("/gate/verify", authMiddleware, gateHandler.Verify)
	router.POST("/gate/lock", authMiddleware, gateHandler.Lock)

	router.GET("/ws/feed", feedWS.Handle)

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
