package sources

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjlanasa/trainpos/query"
	"github.com/fjlanasa/trainpos/registry"
	"github.com/sourcegraph/conc/pool"
)

const announcementLimit = 100000

type announcement struct {
	OperationalTrainNumber identifier `json:"OperationalTrainNumber"`
	AdvertisedTrainIdent   identifier `json:"AdvertisedTrainIdent"`
}

// Announcements returns the sorted train numbers announced at a location,
// using the advertised ident when no operational number is set.
func (s *HTTPSource) Announcements(ctx context.Context, location string) ([]string, error) {
	q := query.Query{
		ObjectType:    query.ObjectTrainAnnouncement,
		SchemaVersion: s.discovery.AnnouncementSchemaVersion,
		Limit:         announcementLimit,
	}.WithFilter(query.Eq(query.FieldLocation, location))

	result, err := s.fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	raw, err := entries(result, query.ObjectTrainAnnouncement)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(raw))
	for _, entry := range raw {
		var a announcement
		if err := json.Unmarshal(entry, &a); err != nil {
			slog.Debug("skipping announcement", "location", location, "error", err)
			continue
		}
		switch {
		case a.OperationalTrainNumber != "":
			ids = append(ids, string(a.OperationalTrainNumber))
		case a.AdvertisedTrainIdent != "":
			ids = append(ids, string(a.AdvertisedTrainIdent))
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

type announcer interface {
	Announcements(ctx context.Context, location string) ([]string, error)
}

// Discoverer resolves a station list to the trains announced at all of them.
type Discoverer struct {
	source        announcer
	retryInterval time.Duration
	maxAttempts   int
}

func NewDiscoverer(source *HTTPSource) *Discoverer {
	return &Discoverer{
		source:        source,
		retryInterval: source.discovery.RetryInterval,
		maxAttempts:   source.discovery.MaxAttempts,
	}
}

func (d *Discoverer) Discover(ctx context.Context, stations []string) ([]string, error) {
	p := pool.NewWithResults[[]string]().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for _, station := range stations {
		p.Go(func(ctx context.Context) ([]string, error) {
			return d.announcements(ctx, station)
		})
	}
	sets, err := p.Wait()
	if err != nil {
		return nil, err
	}
	return intersect(sets), nil
}

// announcements retries transient failures at a fixed interval. API errors
// are returned immediately.
func (d *Discoverer) announcements(ctx context.Context, station string) ([]string, error) {
	var b backoff.BackOff = backoff.NewConstantBackOff(d.retryInterval)
	if d.maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(d.maxAttempts-1))
	}
	return backoff.RetryNotifyWithData(func() ([]string, error) {
		ids, err := d.source.Announcements(ctx, station)
		if err != nil && !IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return ids, err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		slog.Warn("announcement lookup failed, retrying", "station", station, "retry_in", wait, "error", err)
	})
}

func intersect(sets [][]string) []string {
	if len(sets) == 0 {
		return nil
	}
	out := slices.Clone(sets[0])
	for _, set := range sets[1:] {
		out = slices.DeleteFunc(out, func(id string) bool {
			_, found := slices.BinarySearch(set, id)
			return !found
		})
	}
	return out
}

var _ registry.Discoverer = (*Discoverer)(nil)
