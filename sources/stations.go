package sources

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/fjlanasa/trainpos/query"
)

const stationLimit = 10000

type Station struct {
	Signature string `json:"LocationSignature"`
	Name      string `json:"OfficialLocationName"`
}

// Stations lists the stations whose signature or official name contains
// filter, ignoring case. An empty filter matches every station.
func (s *HTTPSource) Stations(ctx context.Context, filter string) ([]Station, error) {
	q := query.Query{
		ObjectType:    query.ObjectTrainStation,
		Namespace:     query.NamespaceInfrastructure,
		SchemaVersion: s.discovery.StationSchemaVersion,
		Limit:         stationLimit,
	}

	result, err := s.fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	raw, err := entries(result, query.ObjectTrainStation)
	if err != nil {
		return nil, err
	}

	filter = strings.ToLower(filter)
	stations := []Station{}
	for _, entry := range raw {
		var station Station
		if err := json.Unmarshal(entry, &station); err != nil {
			return nil, &MalformedResponseError{Reason: "invalid TrainStation", Err: err}
		}
		if strings.Contains(strings.ToLower(station.Signature), filter) ||
			strings.Contains(strings.ToLower(station.Name), filter) {
			stations = append(stations, station)
		}
	}
	return stations, nil
}
