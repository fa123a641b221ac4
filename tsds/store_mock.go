package tsds

import (
	"context"
	"fmt"
	"sync"
)

// MockStore is an in-memory Store implementation for testing. Documents are
// held per data type; every method honors an injectable error so tests can
// exercise the transient-failure paths.
type MockStore struct {
	mu sync.Mutex

	DBs          []string
	Metadatas    map[string]*Metadata
	Measurements map[string][]*Measurement
	DataDocs     map[string][]*DataDocument
	EventDocs    map[string][]*EventDocument

	// Removed records the ids passed to RemoveDataDocuments, in call order.
	Removed []interface{}

	// Calls records method names in call order.
	Calls []string

	// Errors injected per method; nil means success.
	DatabaseNamesErr   error
	MetadataErr        error
	AddMetadataErr     error
	ActiveErr          error
	InsertMeasureErr   error
	DataDocumentErr    error
	OverlapErr         error
	InsertDataErr      error
	UpdateDataErr      error
	RemoveDataErr      error
	EventDocumentErr   error
	InsertEventErr     error
	UpdateEventErr     error

	nextID int
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		Metadatas:    make(map[string]*Metadata),
		Measurements: make(map[string][]*Measurement),
		DataDocs:     make(map[string][]*DataDocument),
		EventDocs:    make(map[string][]*EventDocument),
	}
}

func (s *MockStore) record(call string) {
	s.Calls = append(s.Calls, call)
}

// DatabaseNames lists the configured database names.
func (s *MockStore) DatabaseNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DatabaseNames")
	if s.DatabaseNamesErr != nil {
		return nil, s.DatabaseNamesErr
	}
	return append([]string(nil), s.DBs...), nil
}

// Metadata returns the configured metadata document for a data type.
func (s *MockStore) Metadata(ctx context.Context, dataType string) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Metadata " + dataType)
	if s.MetadataErr != nil {
		return nil, s.MetadataErr
	}
	md, ok := s.Metadatas[dataType]
	if !ok {
		return nil, ErrNotFound
	}
	return md, nil
}

// AddMetadataValues merges value descriptors into the metadata document.
func (s *MockStore) AddMetadataValues(ctx context.Context, dataType string, values map[string]ValueDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("AddMetadataValues " + dataType)
	if s.AddMetadataErr != nil {
		return s.AddMetadataErr
	}
	md, ok := s.Metadatas[dataType]
	if !ok {
		return ErrNotFound
	}
	if md.Values == nil {
		md.Values = make(map[string]ValueDescriptor)
	}
	for name, desc := range values {
		md.Values[name] = desc
	}
	return nil
}

// ActiveMeasurement finds the measurement with the identifier and a nil end.
func (s *MockStore) ActiveMeasurement(ctx context.Context, dataType, identifier string) (*Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ActiveMeasurement " + identifier)
	if s.ActiveErr != nil {
		return nil, s.ActiveErr
	}
	for _, m := range s.Measurements[dataType] {
		if m.Identifier == identifier && m.End == nil {
			return m, nil
		}
	}
	return nil, nil
}

// InsertMeasurement appends a measurement record.
func (s *MockStore) InsertMeasurement(ctx context.Context, dataType string, m *Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("InsertMeasurement " + m.Identifier)
	if s.InsertMeasureErr != nil {
		return s.InsertMeasureErr
	}
	m.ID = s.assignID()
	s.Measurements[dataType] = append(s.Measurements[dataType], m)
	return nil
}

// DataDocument finds the bucket with the exact (identifier, start, end).
func (s *MockStore) DataDocument(ctx context.Context, dataType, identifier string, start, end int64) (*DataDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("DataDocument %s %d %d", identifier, start, end))
	if s.DataDocumentErr != nil {
		return nil, s.DataDocumentErr
	}
	for _, d := range s.DataDocs[dataType] {
		if d.Identifier == identifier && d.Start == start && d.End == end {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

// OverlappingDataDocuments finds buckets whose window overlaps or abuts the
// given one.
func (s *MockStore) OverlappingDataDocuments(ctx context.Context, dataType, identifier string, start, end int64) ([]*DataDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("OverlappingDataDocuments %s %d %d", identifier, start, end))
	if s.OverlapErr != nil {
		return nil, s.OverlapErr
	}
	var overlapping []*DataDocument
	for _, d := range s.DataDocs[dataType] {
		if d.Identifier == identifier && d.Start <= end && d.End >= start {
			overlapping = append(overlapping, d)
		}
	}
	return overlapping, nil
}

// InsertDataDocuments appends the buckets, assigning ids.
func (s *MockStore) InsertDataDocuments(ctx context.Context, dataType string, docs []*DataDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("InsertDataDocuments %d", len(docs)))
	if s.InsertDataErr != nil {
		return s.InsertDataErr
	}
	for _, d := range docs {
		d.ID = s.assignID()
		s.DataDocs[dataType] = append(s.DataDocs[dataType], d)
	}
	return nil
}

// UpdateDataDocument merges points and value types into the stored bucket,
// with later points replacing earlier ones under (time, value_type).
func (s *MockStore) UpdateDataDocument(ctx context.Context, dataType string, doc *DataDocument, points []DataPoint, newValueTypes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("UpdateDataDocument %s %d %d", doc.Identifier, doc.Start, doc.End))
	if s.UpdateDataErr != nil {
		return s.UpdateDataErr
	}
	for _, d := range s.DataDocs[dataType] {
		if d.Identifier != doc.Identifier || d.Start != doc.Start || d.End != doc.End {
			continue
		}
		for _, vt := range newValueTypes {
			if d.ValueTypes == nil {
				d.ValueTypes = make(map[string]bool)
			}
			d.ValueTypes[vt] = true
		}
		for _, p := range points {
			replaced := false
			for i, existing := range d.Points {
				if existing.Time == p.Time && existing.ValueType == p.ValueType {
					d.Points[i] = p
					replaced = true
					break
				}
			}
			if !replaced {
				d.Points = append(d.Points, p)
			}
		}
		return nil
	}
	return ErrNotFound
}

// RemoveDataDocuments deletes buckets by id.
func (s *MockStore) RemoveDataDocuments(ctx context.Context, dataType string, ids []interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("RemoveDataDocuments %d", len(ids)))
	if s.RemoveDataErr != nil {
		return s.RemoveDataErr
	}
	remove := make(map[interface{}]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
		s.Removed = append(s.Removed, id)
	}
	var kept []*DataDocument
	for _, d := range s.DataDocs[dataType] {
		if !remove[d.ID] {
			kept = append(kept, d)
		}
	}
	s.DataDocs[dataType] = kept
	return nil
}

// EventDocument finds the event bucket with the exact (type, start, end).
func (s *MockStore) EventDocument(ctx context.Context, dataType, eventType string, start, end int64) (*EventDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("EventDocument %s %d %d", eventType, start, end))
	if s.EventDocumentErr != nil {
		return nil, s.EventDocumentErr
	}
	for _, d := range s.EventDocs[dataType] {
		if d.Type == eventType && d.Start == start && d.End == end {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

// InsertEventDocument appends an event bucket.
func (s *MockStore) InsertEventDocument(ctx context.Context, dataType string, doc *EventDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("InsertEventDocument %s %d", doc.Type, doc.Start))
	if s.InsertEventErr != nil {
		return s.InsertEventErr
	}
	doc.ID = s.assignID()
	s.EventDocs[dataType] = append(s.EventDocs[dataType], doc)
	return nil
}

// UpdateEventDocument replaces the stored bucket's events.
func (s *MockStore) UpdateEventDocument(ctx context.Context, dataType string, doc *EventDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("UpdateEventDocument %s %d", doc.Type, doc.Start))
	if s.UpdateEventErr != nil {
		return s.UpdateEventErr
	}
	for _, d := range s.EventDocs[dataType] {
		if d.Type == doc.Type && d.Start == doc.Start && d.End == doc.End {
			d.Events = doc.Events
			return nil
		}
	}
	return ErrNotFound
}

func (s *MockStore) assignID() interface{} {
	s.nextID++
	return fmt.Sprintf("id-%d", s.nextID)
}
