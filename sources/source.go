package sources

import (
	"context"
	"encoding/json"

	"github.com/fjlanasa/trainpos/config"
	"github.com/fjlanasa/trainpos/query"
)

// Response is one page of the TrainPosition change feed.
type Response struct {
	// ChangeID is the cursor to send with the next poll.
	ChangeID int64
	// Positions are the raw entries in transport order.
	Positions []json.RawMessage
}

// Source polls the change feed starting after changeID. A changeID of 0
// returns a baseline snapshot.
type Source interface {
	Poll(ctx context.Context, changeID int64, filter query.Node) (*Response, error)
}

func NewSource(cfg config.SourceConfig, client ...HTTPClient) Source {
	return NewHTTPSource(cfg, client...)
}
