// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/mergekit/mailmerge-backend/internal/config"
	"github.com/mergekit/mailmerge-backend/internal/controller"
	"github.com/mergekit/mailmerge-backend/internal/db"
	"github.com/mergekit/mailmerge-backend/internal/engine"
	"github.com/mergekit/mailmerge-backend/internal/queue"
	"github.com/mergekit/mailmerge-backend/internal/repository"
	"github.com/mergekit/mailmerge-backend/internal/service"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Warn("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", "error", err)
	}

	// Init DB
	db.Init()

	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	recordRepo := &repository.RecordRepository{DB: db.DB}

	var q queue.Queue
	if cfg.AMQPURL != "" {
		aq, err := queue.NewAMQPQueue(cfg.AMQPURL)
		if err != nil {
			log.Fatal("failed to connect to AMQP broker", "error", err)
		}
		defer aq.Close()
		q = aq
	} else {
		q = queue.NewInMemoryQueue()
	}

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		RecordRepo:   recordRepo,
		Queue:        q,
		Defaults: engine.Config{
			Workers:        cfg.Workers,
			Retries:        cfg.Retries,
			BackoffBase:    cfg.BackoffBase,
			ConnectTimeout: cfg.ConnectTimeout,
		},
	}

	// With the in-memory queue the subscriber runs in this process.
	if cfg.AMQPURL == "" {
		if err := campaignService.StartQueueSubscriber(context.Background()); err != nil {
			log.Fatal("failed to start queue subscriber", "error", err)
		}
	}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
	}

	r := chi.NewRouter()

	// Campaign routes
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaign)
	r.Put("/campaigns/{id}/template", campaignController.UpdateTemplate)
	r.Post("/campaigns/{id}/recipients", campaignController.LoadRecipients)
	r.Put("/campaigns/{id}/mapping", campaignController.SetMapping)
	r.Post("/campaigns/{id}/personalized-preview", campaignController.PersonalizedPreview)
	r.Put("/campaigns/{id}/transport", campaignController.SetTransport)
	r.Post("/campaigns/{id}/transport/test", campaignController.TestTransport)
	r.Post("/campaigns/{id}/send", campaignController.SendCampaign)
	r.Get("/campaigns/{id}/status", campaignController.Status)

	log.Info("server running", "addr", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
