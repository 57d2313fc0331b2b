package query

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"

	"github.com/fjlanasa/trainpos/geo"
	"github.com/fjlanasa/trainpos/registry"
)

const (
	FieldActive        = "Status.Active"
	FieldTrainNumber   = "Train.OperationalTrainNumber"
	FieldPositionWGS84 = "Position.WGS84"
	FieldLocation      = "LocationSignature"
)

var ErrEmptySubscription = errors.New("no route subscribes any vehicle")

// Node is one element of a FILTER expression tree.
type Node struct {
	XMLName  xml.Name
	Name     string `xml:"name,attr,omitempty"`
	Shape    string `xml:"shape,attr,omitempty"`
	Value    string `xml:"value,attr,omitempty"`
	Children []Node
}

func Eq(name, value string) Node {
	return Node{XMLName: xml.Name{Local: "EQ"}, Name: name, Value: value}
}

func And(children ...Node) Node {
	return Node{XMLName: xml.Name{Local: "AND"}, Children: children}
}

func Or(children ...Node) Node {
	return Node{XMLName: xml.Name{Local: "OR"}, Children: children}
}

// Within restricts a geometry field to a box given by its lower left and
// upper right corners.
func Within(name string, rect geo.Rectangle) Node {
	return Node{
		XMLName: xml.Name{Local: "WITHIN"},
		Name:    name,
		Shape:   "box",
		Value:   fmt.Sprintf("%s %s, %s %s", ftoa(rect.MinX()), ftoa(rect.MinY()), ftoa(rect.MaxX()), ftoa(rect.MaxY())),
	}
}

// BuildFilter turns the registry into
//
//	Status.Active = true AND OR_route( OR_id(number = id) [AND WITHIN rectangle] )
//
// Routes keep registry order and identifiers are sorted, so a fixed registry
// always yields the same expression. The WITHIN clause only reduces traffic;
// routing re-checks the rectangle locally.
func BuildFilter(reg *registry.Registry) (Node, error) {
	clauses := []Node{}
	for _, route := range reg.Routes() {
		vehicles := reg.Vehicles(route.ID)
		if len(vehicles) == 0 {
			continue
		}
		ids := make([]Node, 0, len(vehicles))
		for _, id := range vehicles {
			ids = append(ids, Eq(FieldTrainNumber, id))
		}
		clause := Or(ids...)
		if route.Rectangle != nil {
			clause = And(clause, Within(FieldPositionWGS84, *route.Rectangle))
		}
		clauses = append(clauses, clause)
	}
	if len(clauses) == 0 {
		return Node{}, ErrEmptySubscription
	}
	return And(Eq(FieldActive, "true"), Or(clauses...)), nil
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
