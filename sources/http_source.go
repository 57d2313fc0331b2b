package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fjlanasa/trainpos/config"
	"github.com/fjlanasa/trainpos/query"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource talks to the Trafikverket data API: an XML request is POSTed
// and the result comes back as JSON.
type HTTPSource struct {
	cfg       config.SourceConfig
	discovery config.DiscoveryConfig
	client    HTTPClient
}

func NewHTTPSource(cfg config.SourceConfig, client ...HTTPClient) *HTTPSource {
	var c HTTPClient = http.DefaultClient
	if len(client) > 0 && client[0] != nil {
		c = client[0]
	}
	var discovery config.DiscoveryConfig
	discovery.ApplyDefaults()
	return &HTTPSource{cfg: cfg, discovery: discovery, client: c}
}

// WithDiscovery sets the schema versions and retry settings used by
// Announcements, Stations and the Discoverer.
func (s *HTTPSource) WithDiscovery(cfg config.DiscoveryConfig) *HTTPSource {
	s.discovery = cfg
	return s
}

type envelope struct {
	Response struct {
		Result []map[string]json.RawMessage `json:"RESULT"`
	} `json:"RESPONSE"`
}

type info struct {
	LastChangeID *changeID `json:"LASTCHANGEID"`
}

// changeID accepts the cursor both as a JSON string and as a number.
type changeID int64

func (c *changeID) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseInt(strings.Trim(string(b), `"`), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid change id %s: %w", b, err)
	}
	*c = changeID(v)
	return nil
}

func (s *HTTPSource) Poll(ctx context.Context, changeID int64, filter query.Node) (*Response, error) {
	q := query.Query{
		ObjectType:    query.ObjectTrainPosition,
		Namespace:     s.cfg.Namespace,
		SchemaVersion: s.cfg.SchemaVersion,
		Limit:         s.cfg.Limit,
	}.WithChangeID(changeID).WithFilter(filter)

	result, err := s.fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	rawInfo, ok := result["INFO"]
	if !ok {
		return nil, &MalformedResponseError{Reason: "missing INFO"}
	}
	var i info
	if err := json.Unmarshal(rawInfo, &i); err != nil {
		return nil, &MalformedResponseError{Reason: "invalid INFO", Err: err}
	}
	if i.LastChangeID == nil {
		return nil, &MalformedResponseError{Reason: "missing LASTCHANGEID"}
	}

	positions, err := entries(result, query.ObjectTrainPosition)
	if err != nil {
		return nil, err
	}
	return &Response{ChangeID: int64(*i.LastChangeID), Positions: positions}, nil
}

// fetch sends one query and returns the first RESULT object.
func (s *HTTPSource) fetch(ctx context.Context, q query.Query) (map[string]json.RawMessage, error) {
	body, err := query.BuildRequest(s.cfg.APIKey, q)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.wrapTransport(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, s.wrapTransport(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		terr := &TransportError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
		if result, err := firstResult(data); err == nil {
			terr.Err = apiError(result)
		}
		return nil, terr
	}

	result, err := firstResult(data)
	if err != nil {
		return nil, err
	}
	if err := apiError(result); err != nil {
		return nil, &MalformedResponseError{Reason: "error result", Err: err}
	}
	return result, nil
}

func (s *HTTPSource) wrapTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, s.cfg.Timeout, err)
	}
	return &TransportError{Err: err}
}

func firstResult(data []byte) (map[string]json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedResponseError{Reason: "invalid json", Err: err}
	}
	if len(env.Response.Result) == 0 {
		return nil, &MalformedResponseError{Reason: "empty RESULT"}
	}
	return env.Response.Result[0], nil
}

func apiError(result map[string]json.RawMessage) error {
	raw, ok := result["ERROR"]
	if !ok {
		return nil
	}
	apiErr := &APIError{}
	if err := json.Unmarshal(raw, apiErr); err != nil {
		return &APIError{Message: string(raw)}
	}
	return apiErr
}

// entries returns the objects of the given type. The key is absent when
// nothing matched.
func entries(result map[string]json.RawMessage, objectType string) ([]json.RawMessage, error) {
	raw, ok := result[objectType]
	if !ok {
		return nil, nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &MalformedResponseError{Reason: "invalid " + objectType, Err: err}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Source = (*HTTPSource)(nil)
