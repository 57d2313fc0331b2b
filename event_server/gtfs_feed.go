package event_server

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/fjlanasa/trainpos/api/v1/events"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

type feedKey struct {
	route   string
	vehicle string
}

// VehicleFeed keeps the latest committed position of every vehicle on every
// route and renders it as a GTFS-realtime VehiclePositions feed.
type VehicleFeed struct {
	mu     sync.RWMutex
	latest map[feedKey]events.Record
}

func NewVehicleFeed() *VehicleFeed {
	return &VehicleFeed{latest: map[feedKey]events.Record{}}
}

// Update stores the record unless a later measurement is already known.
func (f *VehicleFeed) Update(record events.Record) {
	key := feedKey{route: record.RouteID, vehicle: record.VehicleID}
	f.mu.Lock()
	defer f.mu.Unlock()
	if current, ok := f.latest[key]; ok && current.MeasuredTime.After(record.MeasuredTime) {
		return
	}
	f.latest[key] = record
}

func (f *VehicleFeed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.latest)
}

func (f *VehicleFeed) FeedMessage(now time.Time) *gtfs.FeedMessage {
	f.mu.RLock()
	records := make([]events.Record, 0, len(f.latest))
	for _, r := range f.latest {
		records = append(records, r)
	}
	f.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].RouteID != records[j].RouteID {
			return records[i].RouteID < records[j].RouteID
		}
		return records[i].VehicleID < records[j].VehicleID
	})

	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}
	for _, r := range records {
		feed.Entity = append(feed.Entity, vehicleEntity(r))
	}
	return feed
}

func vehicleEntity(r events.Record) *gtfs.FeedEntity {
	position := &gtfs.Position{
		Latitude:  proto.Float32(float32(r.Latitude)),
		Longitude: proto.Float32(float32(r.Longitude)),
	}
	if r.Bearing != nil {
		position.Bearing = proto.Float32(float32(*r.Bearing))
	}
	if r.Speed != nil {
		// km/h to m/s
		position.Speed = proto.Float32(float32(*r.Speed) / 3.6)
	}
	return &gtfs.FeedEntity{
		Id: proto.String(r.RouteID + ":" + r.VehicleID),
		Vehicle: &gtfs.VehiclePosition{
			Trip: &gtfs.TripDescriptor{
				RouteId: proto.String(r.RouteID),
			},
			Vehicle: &gtfs.VehicleDescriptor{
				Id:    proto.String(r.VehicleID),
				Label: proto.String(r.VehicleID),
			},
			Position:  position,
			Timestamp: proto.Uint64(uint64(r.MeasuredTime.Unix())),
		},
	}
}

func (es *EventServer) handleGTFSRT(w http.ResponseWriter, r *http.Request) {
	feed := es.feed.FeedMessage(time.Now())

	var (
		data []byte
		err  error
	)
	if r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		data, err = protojson.Marshal(feed)
	} else {
		w.Header().Set("Content-Type", "application/x-protobuf")
		data, err = proto.Marshal(feed)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
