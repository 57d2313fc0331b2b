package event_server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/config"
	"github.com/google/uuid"
)

const subscriberBuffer = 64

type SubscriberId string

func NewSubscriberId() SubscriberId {
	return SubscriberId(uuid.New().String())
}

type Subscriber struct {
	ID           SubscriberId
	Channel      chan any
	Subscription map[string]string
}

func NewSubscriber(id SubscriberId, subscription map[string]string) *Subscriber {
	return &Subscriber{
		ID:           id,
		Channel:      make(chan any, subscriberBuffer),
		Subscription: subscription,
	}
}

// Matches compares every subscribed attribute with the event's value in its
// text form, so ?journey_number=2 matches the integer 2.
func (s *Subscriber) Matches(eventMap map[string]any) bool {
	for k, v := range s.Subscription {
		value, ok := eventMap[k]
		if !ok || fmt.Sprint(value) != v {
			return false
		}
	}
	return true
}

type EventServer struct {
	clients    map[SubscriberId]*Subscriber
	clientsMux sync.RWMutex
	feed       *VehicleFeed
	ctx        context.Context
	cancel     context.CancelFunc
}

func newEventServer(ctx context.Context) *EventServer {
	server := &EventServer{
		clients: make(map[SubscriberId]*Subscriber),
		feed:    NewVehicleFeed(),
	}
	server.ctx, server.cancel = context.WithCancel(ctx)
	return server
}

func NewEventServer(ctx context.Context, cfg config.EventServerConfig) *EventServer {
	server := newEventServer(ctx)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: server.Handler(cfg),
	}

	go func() {
		slog.Info("event server listening", "addr", httpServer.Addr, "path", cfg.Path, "gtfs_rt_path", cfg.GTFSRTPath)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Handle graceful shutdown when context is cancelled
	go func() {
		<-server.ctx.Done()
		if err := httpServer.Shutdown(context.Background()); err != nil {
			slog.Error("Error shutting down server", "error", err)
		}
	}()

	return server
}

func (es *EventServer) Handler(cfg config.EventServerConfig) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, es.handleSSE)
	if cfg.GTFSRTPath != "" {
		mux.HandleFunc(cfg.GTFSRTPath, es.handleGTFSRT)
	}
	return mux
}

func (es *EventServer) Feed() *VehicleFeed {
	return es.feed
}

func (es *EventServer) Close() {
	es.cancel()
}

func (es *EventServer) Subscribe(subscription map[string]string) *Subscriber {
	es.clientsMux.Lock()
	defer es.clientsMux.Unlock()
	client := NewSubscriber(NewSubscriberId(), subscription)
	es.clients[client.ID] = client
	return client
}

func (es *EventServer) Unsubscribe(client *Subscriber) {
	es.clientsMux.Lock()
	defer es.clientsMux.Unlock()
	if _, ok := es.clients[client.ID]; !ok {
		return
	}
	delete(es.clients, client.ID)
	close(client.Channel)
}

// Broadcast hands the event to every matching subscriber. Subscribers that
// are not keeping up miss the event.
func (es *EventServer) Broadcast(event events.Event) {
	if record, ok := event.(*events.Record); ok {
		es.feed.Update(*record)
	}

	es.clientsMux.RLock()
	defer es.clientsMux.RUnlock()
	eventMap := events.GetEventMap(event)

	for _, client := range es.clients {
		if !client.Matches(eventMap) {
			continue
		}
		select {
		case client.Channel <- eventMap:
		default:
			slog.Warn("event server: subscriber too slow, dropping event", "subscriber", client.ID)
		}
	}
}

func (es *EventServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	// Set headers for SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	subscription := map[string]string{}
	for k, v := range r.URL.Query() {
		subscription[k] = v[0]
	}

	client := es.Subscribe(subscription)
	defer es.Unsubscribe(client)

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case <-es.ctx.Done():
			return
		case event, ok := <-client.Channel:
			if !ok {
				return
			}
			v, ok := event.(map[string]any)
			if !ok {
				continue
			}
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}

			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
