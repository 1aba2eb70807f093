package graph

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/pkg/models"
)

// GraphML document shapes. One directed graph element; four edge attribute
// keys: n_src1 (int), k_counterex (int), ci95_upper (double),
// q_value (double, empty text when null).
type graphmlDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	Xmlns   string       `xml:"xmlns,attr"`
	Keys    []graphmlKey `xml:"key"`
	Graph   graphmlGraph `xml:"graph"`
}

type graphmlKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

type graphmlGraph struct {
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphmlNode `xml:"node"`
	Edges       []graphmlEdge `xml:"edge"`
}

type graphmlNode struct {
	ID string `xml:"id,attr"`
}

type graphmlEdge struct {
	ID     string        `xml:"id,attr"`
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphmlData `xml:"data"`
}

type graphmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

const graphmlNS = "http://graphml.graphdrawing.org/xmlns"

var graphmlKeys = []graphmlKey{
	{ID: "d0", For: "edge", AttrName: "n_src1", AttrType: "int"},
	{ID: "d1", For: "edge", AttrName: "k_counterex", AttrType: "int"},
	{ID: "d2", For: "edge", AttrName: "ci95_upper", AttrType: "double"},
	{ID: "d3", For: "edge", AttrName: "q_value", AttrType: "double"},
}

// MarshalGraphML renders the reduced edge set as GraphML.
func MarshalGraphML(g *models.Graph) ([]byte, error) {
	doc := graphmlDoc{
		Xmlns: graphmlNS,
		Keys:  graphmlKeys,
		Graph: graphmlGraph{EdgeDefault: "directed"},
	}
	for _, n := range g.Nodes {
		doc.Graph.Nodes = append(doc.Graph.Nodes, graphmlNode{ID: n})
	}
	for idx, e := range g.Edges {
		q := ""
		if e.QValue != nil {
			q = strconv.FormatFloat(*e.QValue, 'g', -1, 64)
		}
		doc.Graph.Edges = append(doc.Graph.Edges, graphmlEdge{
			ID:     fmt.Sprintf("e%d", idx),
			Source: e.Src,
			Target: e.Dst,
			Data: []graphmlData{
				{Key: "d0", Value: strconv.Itoa(e.NSrc1)},
				{Key: "d1", Value: strconv.Itoa(e.KCounterex)},
				{Key: "d2", Value: strconv.FormatFloat(e.CI95Upper, 'g', -1, 64)},
				{Key: "d3", Value: q},
			},
		})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// UnmarshalGraphML parses a GraphML document produced by MarshalGraphML,
// tolerating attribute ordering differences.
func UnmarshalGraphML(data []byte) (*models.Graph, error) {
	var doc graphmlDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "parse graphml")
	}

	keyName := make(map[string]string, len(doc.Keys))
	for _, k := range doc.Keys {
		keyName[k.ID] = k.AttrName
	}

	g := &models.Graph{}
	for _, n := range doc.Graph.Nodes {
		g.Nodes = append(g.Nodes, n.ID)
	}
	for _, e := range doc.Graph.Edges {
		rec := models.EdgeRecord{Src: e.Source, Dst: e.Target}
		for _, d := range e.Data {
			switch keyName[d.Key] {
			case "n_src1":
				rec.NSrc1, _ = strconv.Atoi(d.Value)
			case "k_counterex":
				rec.KCounterex, _ = strconv.Atoi(d.Value)
			case "ci95_upper":
				rec.CI95Upper, _ = strconv.ParseFloat(d.Value, 64)
			case "q_value":
				if d.Value != "" {
					q, err := strconv.ParseFloat(d.Value, 64)
					if err == nil {
						rec.QValue = &q
					}
				}
			}
		}
		g.Edges = append(g.Edges, rec)
	}
	return g, nil
}
