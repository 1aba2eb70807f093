// Package ingest feeds the engine: event sources for learning batches and
// the bounded alert queue in front of the decision engine.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"os"

	"github.com/bolcd/condense-engine/internal/connector"
	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/internal/learn"
)

// EventSource produces a finite, ordered stream of events for one learning
// batch.
type EventSource interface {
	Events(ctx context.Context) ([]learn.Event, error)
}

// JSONLFileSource reads one JSON event object per line.
type JSONLFileSource struct {
	Path string
}

// Events reads the whole file, preserving line order. A malformed line is a
// validation error, never skipped silently.
func (s JSONLFileSource) Events(ctx context.Context) ([]learn.Event, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "open events %s", s.Path)
	}
	defer f.Close()

	var out []learn.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.KindCancelled, err, "event read cancelled")
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev learn.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, errs.Wrap(errs.KindValidation, err, "malformed event at %s:%d", s.Path, lineNo)
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "read events %s", s.Path)
	}
	return out, nil
}

// ConnectorSource pulls events from a SIEM connector query.
type ConnectorSource struct {
	Connector connector.SIEMConnector
	Query     string
}

// Events runs the ingest query; connector retries are handled downstream.
func (s ConnectorSource) Events(ctx context.Context) ([]learn.Event, error) {
	raw, err := s.Connector.Ingest(ctx, s.Query)
	if err != nil {
		return nil, err
	}
	out := make([]learn.Event, 0, len(raw))
	for _, ev := range raw {
		out = append(out, learn.Event(ev))
	}
	return out, nil
}
