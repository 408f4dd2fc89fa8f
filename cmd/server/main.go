package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"whatsapp-compliance-gateway/internal/api"
	"whatsapp-compliance-gateway/internal/compliance"
	"whatsapp-compliance-gateway/internal/config"
	"whatsapp-compliance-gateway/internal/consent"
	"whatsapp-compliance-gateway/internal/database"
	"whatsapp-compliance-gateway/internal/outbound"
	"whatsapp-compliance-gateway/internal/queue"
	"whatsapp-compliance-gateway/internal/routing"
	"whatsapp-compliance-gateway/internal/store"
	"whatsapp-compliance-gateway/internal/webhook"
	"whatsapp-compliance-gateway/internal/whatsapp"
	"whatsapp-compliance-gateway/internal/ws"
)

func main() {
	cfg := config.LoadConfig()
	db := database.Init(cfg)
	stores := store.New(db)

	settingsCache := compliance.NewSettingsCache(stores.Settings)
	engine := compliance.NewEngine(settingsCache, stores.Profiles, stores.Messages, stores.Keywords)

	whatsappClient := whatsapp.NewClient()
	consentService := consent.NewService(stores.Profiles, stores.ConsentLogs, stores.Messages,
		settingsCache, stores.Templates, whatsappClient)
	router := routing.NewRouter(stores.Routes, stores.ClientApps)
	sender := outbound.NewSender(engine, settingsCache, stores.Accounts, stores.Templates,
		stores.Messages, router, whatsappClient)

	hub := ws.NewHub()
	go hub.Run()

	registry := queue.NewRegistry()
	dispatcher := newDispatcher(cfg, registry)

	processor := webhook.NewProcessor(stores, engine, consentService, router,
		whatsappClient, dispatcher, hub)
	processor.RegisterTasks(registry)

	webhookHandler := webhook.NewHandler(stores.Accounts, stores.WebhookLogs, dispatcher)
	sendHandler := api.NewSendHandler(sender)
	consentHandler := api.NewConsentHandler(consentService, stores.Profiles, stores.Accounts, stores.ConsentLogs)
	dashboardHandler := api.NewDashboardHandler(stores.Messages, settingsCache)

	r := gin.Default()

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Webhook Routes
	r.GET("/webhook", webhookHandler.VerifyWebhook)
	r.POST("/webhook", webhookHandler.HandleMessage)

	// Realtime dashboard feed
	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/send", sendHandler.SendMessage)
		apiGroup.GET("/messages", dashboardHandler.GetMessages)

		apiGroup.POST("/consent/opt-in", consentHandler.OptIn)
		apiGroup.POST("/consent/opt-out", consentHandler.OptOut)
		apiGroup.GET("/consent/:number", consentHandler.GetProfile)

		apiGroup.POST("/settings/invalidate", dashboardHandler.InvalidateSettings)
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// newDispatcher picks the queue backend. Local pools cover single-node
// installs; AMQP moves task execution onto worker consumers sharing the same
// registry.
func newDispatcher(cfg *config.Config, registry *queue.Registry) queue.Dispatcher {
	if cfg.QueueDriver == "amqp" {
		dispatcher, err := queue.NewAMQPDispatcher(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("Failed to connect queue backend: %v", err)
		}
		if err := dispatcher.StartWorkers(registry); err != nil {
			log.Fatalf("Failed to start queue workers: %v", err)
		}
		log.Println("Queue backend: amqp")
		return dispatcher
	}

	dispatcher, err := queue.NewLocalDispatcher(registry, cfg.WorkerPoolSize)
	if err != nil {
		log.Fatalf("Failed to start worker pools: %v", err)
	}
	log.Println("Queue backend: local")
	return dispatcher
}
