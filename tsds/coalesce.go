package tsds

import "sort"

// MeasurementUpdate accumulates what the batch says about one measurement:
// the earliest start seen and the latest meta and interval.
type MeasurementUpdate struct {
	DataType   *DataType
	Identifier string
	Start      int64
	Interval   int64
	Meta       map[string]interface{}
}

// Batch holds one coalesced batch: messages grouped by target bucket,
// distinct measurements, and the set of value types seen per data type.
type Batch struct {
	// Measurements maps data type -> identifier -> update.
	Measurements map[string]map[string]*MeasurementUpdate

	// DataDocuments maps data type -> identifier -> start -> end -> bucket.
	DataDocuments map[string]map[string]map[int64]map[int64]*DataDocument

	// ValueTypes maps data type -> value type -> seen.
	ValueTypes map[string]map[string]bool

	// EventDocuments maps data type -> event type -> start -> end -> bucket.
	EventDocuments map[string]map[string]map[int64]map[int64]*EventDocument
}

// Coalesce groups a batch of decoded messages by target bucket. Data
// messages are sorted by ascending time first so that a measurement's start
// captures its earliest sample even under late arrivals.
func Coalesce(data []*DataMessage, events []*EventMessage) *Batch {
	b := &Batch{
		Measurements:   make(map[string]map[string]*MeasurementUpdate),
		DataDocuments:  make(map[string]map[string]map[int64]map[int64]*DataDocument),
		ValueTypes:     make(map[string]map[string]bool),
		EventDocuments: make(map[string]map[string]map[int64]map[int64]*EventDocument),
	}

	sorted := make([]*DataMessage, len(data))
	copy(sorted, data)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	for _, msg := range sorted {
		b.addDataMessage(msg)
	}
	for _, msg := range events {
		b.addEventMessage(msg)
	}

	return b
}

func (b *Batch) addDataMessage(msg *DataMessage) {
	dt := msg.DataType.Name

	measurements := b.Measurements[dt]
	if measurements == nil {
		measurements = make(map[string]*MeasurementUpdate)
		b.Measurements[dt] = measurements
	}
	if mu := measurements[msg.Identifier]; mu == nil {
		measurements[msg.Identifier] = &MeasurementUpdate{
			DataType:   msg.DataType,
			Identifier: msg.Identifier,
			Start:      msg.Time,
			Interval:   msg.Interval,
			Meta:       msg.Meta,
		}
	} else {
		// Keep the earliest start, the latest meta and interval.
		if msg.Time < mu.Start {
			mu.Start = msg.Time
		}
		mu.Interval = msg.Interval
		mu.Meta = msg.Meta
	}

	start := DataBucketStart(msg.Time, msg.Interval)
	end := start + msg.Interval*HighResolutionDocumentSize

	byIdentifier := b.DataDocuments[dt]
	if byIdentifier == nil {
		byIdentifier = make(map[string]map[int64]map[int64]*DataDocument)
		b.DataDocuments[dt] = byIdentifier
	}
	byStart := byIdentifier[msg.Identifier]
	if byStart == nil {
		byStart = make(map[int64]map[int64]*DataDocument)
		byIdentifier[msg.Identifier] = byStart
	}
	byEnd := byStart[start]
	if byEnd == nil {
		byEnd = make(map[int64]*DataDocument)
		byStart[start] = byEnd
	}
	doc := byEnd[end]
	if doc == nil {
		doc = &DataDocument{
			DataType:   dt,
			Identifier: msg.Identifier,
			Interval:   msg.Interval,
			Start:      start,
			End:        end,
			ValueTypes: make(map[string]bool),
		}
		byEnd[end] = doc
	}

	valueTypes := b.ValueTypes[dt]
	if valueTypes == nil {
		valueTypes = make(map[string]bool)
		b.ValueTypes[dt] = valueTypes
	}

	for _, valueType := range sortedKeys(msg.Values) {
		doc.Points = append(doc.Points, DataPoint{
			Time:      msg.Time,
			Interval:  msg.Interval,
			ValueType: valueType,
			Value:     msg.Values[valueType],
		})
		doc.ValueTypes[valueType] = true
		valueTypes[valueType] = true
	}
}

func (b *Batch) addEventMessage(msg *EventMessage) {
	dt := msg.DataType.Name

	start := EventBucketStart(msg.Start)
	end := start + EventDocumentDuration

	byType := b.EventDocuments[dt]
	if byType == nil {
		byType = make(map[string]map[int64]map[int64]*EventDocument)
		b.EventDocuments[dt] = byType
	}
	byStart := byType[msg.Type]
	if byStart == nil {
		byStart = make(map[int64]map[int64]*EventDocument)
		byType[msg.Type] = byStart
	}
	byEnd := byStart[start]
	if byEnd == nil {
		byEnd = make(map[int64]*EventDocument)
		byStart[start] = byEnd
	}
	doc := byEnd[end]
	if doc == nil {
		doc = &EventDocument{
			DataType: dt,
			Type:     msg.Type,
			Start:    start,
			End:      end,
		}
		byEnd[end] = doc
	}

	event := Event{
		Start:      msg.Start,
		End:        msg.End,
		Identifier: msg.Identifier,
		Affected:   msg.Affected,
		Text:       msg.Text,
		Type:       msg.Type,
	}

	// Within a bucket, (start, identifier) identifies an event; the later
	// write wins.
	for i, existing := range doc.Events {
		if existing.Start == event.Start && existing.Identifier == event.Identifier {
			doc.Events[i] = event
			return
		}
	}
	doc.Events = append(doc.Events, event)
}

// SortedMeasurements returns every measurement update ordered by (data type,
// identifier), giving the pipeline a deterministic processing order.
func (b *Batch) SortedMeasurements() []*MeasurementUpdate {
	var updates []*MeasurementUpdate
	for _, dt := range sortedKeys(b.Measurements) {
		byIdentifier := b.Measurements[dt]
		for _, identifier := range sortedKeys(byIdentifier) {
			updates = append(updates, byIdentifier[identifier])
		}
	}
	return updates
}

// SortedDataDocuments returns every coalesced data bucket ordered by (data
// type, identifier, start, end).
func (b *Batch) SortedDataDocuments() []*DataDocument {
	var docs []*DataDocument
	for _, dt := range sortedKeys(b.DataDocuments) {
		byIdentifier := b.DataDocuments[dt]
		for _, identifier := range sortedKeys(byIdentifier) {
			byStart := byIdentifier[identifier]
			for _, start := range sortedKeys(byStart) {
				byEnd := byStart[start]
				for _, end := range sortedKeys(byEnd) {
					docs = append(docs, byEnd[end])
				}
			}
		}
	}
	return docs
}

// SortedEventDocuments returns every coalesced event bucket ordered by (data
// type, event type, start, end).
func (b *Batch) SortedEventDocuments() []*EventDocument {
	var docs []*EventDocument
	for _, dt := range sortedKeys(b.EventDocuments) {
		byType := b.EventDocuments[dt]
		for _, eventType := range sortedKeys(byType) {
			byStart := byType[eventType]
			for _, start := range sortedKeys(byStart) {
				byEnd := byStart[start]
				for _, end := range sortedKeys(byEnd) {
					docs = append(docs, byEnd[end])
				}
			}
		}
	}
	return docs
}

// sortedKeys returns the keys of a map in ascending order.
func sortedKeys[K interface {
	~string | ~int64
}, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
