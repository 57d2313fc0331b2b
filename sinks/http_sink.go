package sinks

import (
	"context"

	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/event_server"
)

// HttpSink is the stream end of the outlet: committed records are handed to
// the event server for SSE subscribers and the GTFS-realtime feed.
type HttpSink struct {
	server *event_server.EventServer
	in     chan any
	done   chan struct{}
}

func NewHttpSink(ctx context.Context, server *event_server.EventServer) *HttpSink {
	sink := &HttpSink{server: server, in: make(chan any), done: make(chan struct{})}
	go func() {
		defer close(sink.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sink.in:
				if !ok {
					return
				}
				switch e := event.(type) {
				case events.Record:
					sink.server.Broadcast(&e)
				case events.Event:
					sink.server.Broadcast(e)
				}
			}
		}
	}()
	return sink
}

func (hs *HttpSink) In() chan<- any {
	return hs.in
}

// AwaitCompletion blocks until the sink stopped consuming.
func (hs *HttpSink) AwaitCompletion() {
	<-hs.done
}
