package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/geo"
)

type rawPosition struct {
	Train struct {
		OperationalTrainNumber identifier `json:"OperationalTrainNumber"`
	} `json:"Train"`
	Position struct {
		SWEREF99TM string `json:"SWEREF99TM"`
		WGS84      string `json:"WGS84"`
	} `json:"Position"`
	TimeStamp    string `json:"TimeStamp"`
	ModifiedTime string `json:"ModifiedTime"`
	Bearing      *int   `json:"Bearing"`
	Speed        *int   `json:"Speed"`
}

// identifier accepts train numbers encoded as strings or as numbers.
type identifier string

func (i *identifier) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*i = identifier(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*i = identifier(n.String())
	return nil
}

// DecodePosition turns one TrainPosition entry into an event. Every failure
// is a *DecodeError carrying the raw entry.
func DecodePosition(raw json.RawMessage) (events.PositionEvent, error) {
	event, err := decodePosition(raw)
	if err != nil {
		return events.PositionEvent{}, &DecodeError{Raw: raw, Err: err}
	}
	return event, nil
}

func decodePosition(raw json.RawMessage) (events.PositionEvent, error) {
	var p rawPosition
	if err := json.Unmarshal(raw, &p); err != nil {
		return events.PositionEvent{}, err
	}

	vehicleID := strings.TrimSpace(string(p.Train.OperationalTrainNumber))
	if vehicleID == "" {
		return events.PositionEvent{}, errors.New("missing Train.OperationalTrainNumber")
	}
	projected, err := geo.ParsePoint(p.Position.SWEREF99TM)
	if err != nil {
		return events.PositionEvent{}, fmt.Errorf("Position.SWEREF99TM: %w", err)
	}
	geographic, err := geo.ParsePoint(p.Position.WGS84)
	if err != nil {
		return events.PositionEvent{}, fmt.Errorf("Position.WGS84: %w", err)
	}
	measured, err := parseTime("TimeStamp", p.TimeStamp)
	if err != nil {
		return events.PositionEvent{}, err
	}
	modified, err := parseTime("ModifiedTime", p.ModifiedTime)
	if err != nil {
		return events.PositionEvent{}, err
	}

	return events.PositionEvent{
		VehicleID:    vehicleID,
		Projected:    projected,
		Geographic:   geographic,
		ModifiedTime: modified,
		MeasuredTime: measured,
		Bearing:      p.Bearing,
		Speed:        p.Speed,
	}, nil
}

func parseTime(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("missing %s", field)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return t, nil
}
