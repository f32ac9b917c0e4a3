package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/lighthouse/bridge/core"
)

const defaultQueryLimit = 100
const maxQueryLimit = 10000

// Query returns events matching filter, reading segment files directly;
// it takes no exclusive lock and may run concurrently with Append (spec
// §5's single-writer, many-readers concurrency model).
func (s *Store) Query(filter Filter, opts QueryOptions) (*QueryResult, error) {
	start := time.Now()
	_, span := s.telemetry.StartSpan(context.Background(), "eventstore.query")
	defer span.End()
	defer func() {
		s.telemetry.RecordMetric("eventstore.query.duration_ms", float64(time.Since(start).Milliseconds()), nil)
	}()

	if opts.Limit <= 0 {
		opts.Limit = defaultQueryLimit
	}
	if opts.Limit > maxQueryLimit {
		err := invalidInputErr("eventstore.Query", fmt.Errorf("limit %d exceeds max %d", opts.Limit, maxQueryLimit))
		span.RecordError(err)
		return nil, err
	}

	candidates := s.candidateSequences(filter)

	files, err := segmentFilesInOrder(s.dir)
	if err != nil {
		return nil, ioErr("eventstore.Query", err)
	}

	var matched []*Event
	for _, f := range files {
		events, _, err := readAllRecords(f, s.secret)
		if err != nil {
			return nil, ioErr("eventstore.Query", err)
		}
		for _, e := range events {
			if candidates != nil {
				if _, ok := candidates[e.Sequence]; !ok {
					continue
				}
			}
			if matchesFilter(e, filter) {
				matched = append(matched, e)
			}
		}
	}

	if opts.OrderBy == "" || opts.OrderBy == "sequence" {
		sortEventsBySequence(matched, opts.Ascending)
	} else if opts.OrderBy == "timestamp" {
		sortEventsByTimestamp(matched, opts.Ascending)
	}

	total := len(matched)
	end := opts.Offset + opts.Limit
	if opts.Offset > total {
		opts.Offset = total
	}
	if end > total {
		end = total
	}
	page := matched[opts.Offset:end]

	return &QueryResult{
		Events:      page,
		Total:       total,
		HasMore:     end < total,
		ExecutionMS: time.Since(start).Milliseconds(),
	}, nil
}

// candidateSequences intersects the in-memory type/aggregate indexes for
// filter, or returns nil if filter carries no indexable predicate (a full
// segment scan is then unavoidable).
func (s *Store) candidateSequences(filter Filter) map[int64]struct{} {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()

	var sets []map[int64]struct{}

	if len(filter.EventTypes) > 0 {
		union := make(map[int64]struct{})
		for _, t := range filter.EventTypes {
			for seq := range s.index.byType[t] {
				union[seq] = struct{}{}
			}
		}
		sets = append(sets, union)
	}

	if len(filter.AggregateIDs) > 0 && len(filter.AggregateTypes) == 1 {
		union := make(map[int64]struct{})
		for _, id := range filter.AggregateIDs {
			key := filter.AggregateTypes[0] + ":" + id
			for seq := range s.index.byAggregate[key] {
				union[seq] = struct{}{}
			}
		}
		sets = append(sets, union)
	}

	if len(sets) == 0 {
		return nil
	}

	result := sets[0]
	for _, set := range sets[1:] {
		intersected := make(map[int64]struct{})
		for seq := range result {
			if _, ok := set[seq]; ok {
				intersected[seq] = struct{}{}
			}
		}
		result = intersected
	}
	return result
}

func matchesFilter(e *Event, f Filter) bool {
	if len(f.EventTypes) > 0 && !containsType(f.EventTypes, e.EventType) {
		return false
	}
	if len(f.AggregateIDs) > 0 && !containsString(f.AggregateIDs, e.AggregateID) {
		return false
	}
	if len(f.AggregateTypes) > 0 && !containsString(f.AggregateTypes, e.AggregateType) {
		return false
	}
	if len(f.SourceAgents) > 0 && !containsString(f.SourceAgents, e.SourceAgent) {
		return false
	}
	if len(f.SourceComponents) > 0 && !containsString(f.SourceComponents, e.SourceComponent) {
		return false
	}
	if !f.FromTimestamp.IsZero() && e.Timestamp.Before(f.FromTimestamp) {
		return false
	}
	if !f.ToTimestamp.IsZero() && e.Timestamp.After(f.ToTimestamp) {
		return false
	}
	if f.FromSequence != 0 && e.Sequence < f.FromSequence {
		return false
	}
	if f.ToSequence != 0 && e.Sequence > f.ToSequence {
		return false
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if f.CausationID != "" && e.CausationID != f.CausationID {
		return false
	}
	return true
}

func containsType(haystack []EventType, needle EventType) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func sortEventsBySequence(events []*Event, ascending bool) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0; j-- {
			swap := events[j].Sequence < events[j-1].Sequence
			if !ascending {
				swap = events[j].Sequence > events[j-1].Sequence
			}
			if !swap {
				break
			}
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

func sortEventsByTimestamp(events []*Event, ascending bool) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0; j-- {
			swap := events[j].Timestamp.Before(events[j-1].Timestamp)
			if !ascending {
				swap = events[j].Timestamp.After(events[j-1].Timestamp)
			}
			if !swap {
				break
			}
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

// Stream pushes every event with sequence > fromSequence to the returned
// channel, closing it when ctx is canceled or the backlog is exhausted.
// It is a one-shot catch-up read, not a live tail subscription — callers
// needing live updates re-call Stream with the last sequence they saw.
func (s *Store) Stream(ctx context.Context, fromSequence int64, filter Filter) (<-chan *Event, <-chan error) {
	out := make(chan *Event, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		files, err := segmentFilesInOrder(s.dir)
		if err != nil {
			errc <- ioErr("eventstore.Stream", err)
			return
		}

		for _, f := range files {
			events, _, err := readAllRecords(f, s.secret)
			if err != nil {
				errc <- ioErr("eventstore.Stream", err)
				return
			}
			for _, e := range events {
				if e.Sequence <= fromSequence {
					continue
				}
				if !matchesFilter(e, filter) {
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					errc <- core.NewFrameworkError("eventstore.Stream", core.KindShutdown, ctx.Err())
					return
				}
			}
		}
	}()

	return out, errc
}
