// cmd/worker/main.go

// The worker consumes delivery jobs published by the API server and takes
// each record to its terminal status. Runs as a separate process against
// the same database and AMQP broker.
package main

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/streadway/amqp"

	"github.com/mergekit/mailmerge-backend/internal/config"
	"github.com/mergekit/mailmerge-backend/internal/db"
	"github.com/mergekit/mailmerge-backend/internal/engine"
	"github.com/mergekit/mailmerge-backend/internal/queue"
	"github.com/mergekit/mailmerge-backend/internal/repository"
	"github.com/mergekit/mailmerge-backend/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", "error", err)
	}
	if cfg.AMQPURL == "" {
		log.Fatal("MAILMERGE_AMQP_URL is required for the standalone worker")
	}

	db.Init()

	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	recordRepo := &repository.RecordRepository{DB: db.DB}

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		RecordRepo:   recordRepo,
		Defaults: engine.Config{
			Workers:        cfg.Workers,
			Retries:        cfg.Retries,
			BackoffBase:    cfg.BackoffBase,
			ConnectTimeout: cfg.ConnectTimeout,
		},
	}

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatal("failed to connect to AMQP broker", "error", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("failed to open a channel", "error", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		queue.TopicCampaignSends,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		log.Fatal("failed to declare queue", "error", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // manual acks so failed jobs can be redelivered
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		log.Fatal("failed to register consumer", "error", err)
	}

	ctx := context.Background()

	log.Info("worker running, waiting for delivery jobs")
	for d := range msgs {
		var job queue.DeliveryJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			log.Warn("dropping malformed job", "error", err)
			d.Ack(false)
			continue
		}

		if err := campaignService.ProcessJob(ctx, job); err != nil {
			log.Error("job failed", "campaign_id", job.CampaignID, "record_id", job.RecordID, "error", err)
			// One redelivery; after that the job is dropped so a poisoned
			// payload cannot loop forever.
			if !d.Redelivered {
				d.Nack(false, true)
				continue
			}
		}

		d.Ack(false)
	}
}
