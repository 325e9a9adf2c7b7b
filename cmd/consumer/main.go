// The consumer turns ride lifecycle events from kafka into persisted
// notifications, so users who were offline during the event still see it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/carpool-matching/internal/logging"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/storage"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_events_consumed_total",
		Help: "Total ride events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_events_invalid_total",
		Help: "Total undecodable events received",
	})
	notificationsSaved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_notifications_saved_total",
		Help: "Total notifications persisted",
	})
	saveErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_save_errors_total",
		Help: "Total notification store failures after retries",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, notificationsSaved, saveErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"))

	brokers := splitBrokers(os.Getenv("KAFKA_BROKERS"))
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	topic := getenv("KAFKA_TOPIC", "ride-events")
	group := getenv("KAFKA_GROUP", "carpool-notifications")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.NotificationStore
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		ms, err := storage.NewMongoStore(ctx, uri, getenv("MONGO_DATABASE", "carpool"))
		if err != nil {
			logger.Error("mongo unavailable", "error", err)
			os.Exit(1)
		}
		store = ms
	} else {
		logger.Warn("no MONGO_URI, notifications are held in memory")
		store = storage.NewMemoryStore()
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() { _ = r.Close() }()

	logger.Info("consumer listening", "topic", topic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		eventsConsumed.Inc()

		var e models.RideEvent
		if err := json.Unmarshal(m.Value, &e); err != nil {
			eventsInvalid.Inc()
			logger.Warn("invalid event", "error", err)
			continue
		}
		if e.UserID == "" {
			eventsInvalid.Inc()
			continue
		}

		n := &models.Notification{
			UserID:    e.UserID,
			RideID:    e.RideID,
			Message:   e.Message,
			CreatedAt: e.At,
		}
		if err := saveWithRetry(ctx, store, n, 3, 200*time.Millisecond); err != nil {
			saveErrors.Inc()
			logger.Error("notification save failed", "ride_id", e.RideID, "user_id", e.UserID, "error", err)
			continue
		}
		notificationsSaved.Inc()
	}
}

// saveWithRetry persists a notification with exponential backoff. A transient
// store hiccup should not lose the event we already committed in kafka.
func saveWithRetry(ctx context.Context, store storage.NotificationStore, n *models.Notification, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.SaveNotification(ctx, n); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func splitBrokers(v string) []string {
	var out []string
	for _, b := range strings.Split(v, ",") {
		if s := strings.TrimSpace(b); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
