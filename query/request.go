package query

import (
	"encoding/xml"
	"strconv"
)

const (
	ObjectTrainPosition     = "TrainPosition"
	ObjectTrainAnnouncement = "TrainAnnouncement"
	ObjectTrainStation      = "TrainStation"

	NamespaceInfrastructure = "rail.infrastructure"
)

type Request struct {
	XMLName xml.Name `xml:"REQUEST"`
	Login   Login    `xml:"LOGIN"`
	Query   Query    `xml:"QUERY"`
}

type Login struct {
	AuthenticationKey string `xml:"authenticationkey,attr"`
}

type Query struct {
	ChangeID      string         `xml:"changeid,attr,omitempty"`
	ObjectType    string         `xml:"objecttype,attr"`
	Namespace     string         `xml:"namespace,attr,omitempty"`
	SchemaVersion string         `xml:"schemaversion,attr"`
	Limit         int            `xml:"limit,attr,omitempty"`
	Filter        *filterElement `xml:"FILTER"`
}

type filterElement struct {
	Nodes []Node
}

func (q Query) WithFilter(nodes ...Node) Query {
	q.Filter = &filterElement{Nodes: nodes}
	return q
}

// WithChangeID sets the change cursor; 0 asks for a fresh baseline.
func (q Query) WithChangeID(changeID int64) Query {
	q.ChangeID = strconv.FormatInt(changeID, 10)
	return q
}

func BuildRequest(apiKey string, q Query) ([]byte, error) {
	return xml.Marshal(Request{
		Login: Login{AuthenticationKey: apiKey},
		Query: q,
	})
}
