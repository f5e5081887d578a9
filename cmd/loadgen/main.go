// Command loadgen posts fake CloudEvents to the ingest endpoint at a fixed
// rate and reports how many were accepted and how many were pushed back.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/google/uuid"
	"github.com/jaswdr/faker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const eventType = "io.kafsource.loadgen.order"

type orderData struct {
	OrderID  string  `json:"order_id"`
	Customer string  `json:"customer"`
	Email    string  `json:"email"`
	Item     string  `json:"item"`
	Amount   float64 `json:"amount"`
	City     string  `json:"city"`
}

type counters struct {
	accepted atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
}

func main() {
	target := flag.String("target", "http://localhost:8081/v1/events", "ingest events URL")
	topic := flag.String("topic", "", "destination topic extension, empty uses the server default")
	eventsPerSecond := flag.Float64("rate", 100, "events per second")
	duration := flag.Duration("duration", 30*time.Second, "how long to generate load")
	workers := flag.Int("workers", 4, "concurrent senders")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *eventsPerSecond <= 0 || *workers <= 0 {
		logger.Fatal("Rate and workers must be positive",
			zap.Float64("rate", *eventsPerSecond),
			zap.Int("workers", *workers),
		)
	}

	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		logger.Fatal("Failed to create CloudEvents client", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()
	sendCtx := cloudevents.ContextWithTarget(ctx, *target)

	logger.Info("Starting load generation",
		zap.String("target", *target),
		zap.Float64("rate", *eventsPerSecond),
		zap.Duration("duration", *duration),
		zap.Int("workers", *workers),
	)

	limiter := rate.NewLimiter(rate.Limit(*eventsPerSecond), *workers)
	var stats counters
	start := time.Now()

	g := new(errgroup.Group)
	for i := 0; i < *workers; i++ {
		fake := faker.New()
		g.Go(func() error {
			for {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
				send(sendCtx, client, newEvent(fake, *topic), &stats, logger)
			}
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	accepted := stats.accepted.Load()
	logger.Info("Load generation finished",
		zap.Int64("accepted", accepted),
		zap.Int64("rejected", stats.rejected.Load()),
		zap.Int64("failed", stats.failed.Load()),
		zap.Duration("elapsed", elapsed),
		zap.Float64("accepted_per_second", float64(accepted)/elapsed.Seconds()),
	)
}

func newEvent(fake faker.Faker, topic string) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource("loadgen")
	event.SetType(eventType)
	event.SetTime(time.Now())
	if topic != "" {
		event.SetExtension("topic", topic)
	}

	orderID := uuid.NewString()
	event.SetSubject(orderID)
	_ = event.SetData(cloudevents.ApplicationJSON, orderData{
		OrderID:  orderID,
		Customer: fake.Person().Name(),
		Email:    fake.Internet().Email(),
		Item:     fake.Lorem().Sentence(3),
		Amount:   float64(fake.IntBetween(100, 50000)) / 100,
		City:     fake.Address().City(),
	})
	return event
}

func send(ctx context.Context, client cloudevents.Client, event cloudevents.Event, stats *counters, logger *zap.Logger) {
	result := client.Send(ctx, event)
	if cloudevents.IsACK(result) {
		stats.accepted.Add(1)
		return
	}

	var httpResult *cehttp.Result
	if cloudevents.ResultAs(result, &httpResult) && httpResult.StatusCode == http.StatusServiceUnavailable {
		stats.rejected.Add(1)
		return
	}

	if ctx.Err() != nil {
		return
	}
	stats.failed.Add(1)
	logger.Debug("Send failed", zap.String("event_id", event.ID()), zap.Error(result))
}
