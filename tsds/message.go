package tsds

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/bgeels/tsds-services/common"
)

// eventTypePattern classifies batch items: a type of the form "<db>.event"
// is an event message for data type <db>, anything else is a data message.
var eventTypePattern = regexp.MustCompile(`^(.+)\.event$`)

// DataMessage is one decoded point-in-time measurement update.
type DataMessage struct {
	DataType   *DataType
	Identifier string
	Time       int64
	Interval   int64
	Values     map[string]*float64
	Meta       map[string]interface{}
}

// EventMessage is one decoded event update.
type EventMessage struct {
	DataType   *DataType
	Type       string
	Start      int64
	End        int64
	Identifier string
	Affected   interface{}
	Text       string
}

// rawItem is the wire shape of one batch element. Pointer fields distinguish
// "absent" from zero.
type rawItem struct {
	Type       string                 `json:"type"`
	Time       *float64               `json:"time"`
	Interval   *float64               `json:"interval"`
	Values     map[string]*float64    `json:"values"`
	Meta       map[string]interface{} `json:"meta"`
	Start      *float64               `json:"start"`
	End        *float64               `json:"end"`
	EventType  string                 `json:"event_type"`
	Identifier string                 `json:"identifier"`
	Affected   interface{}            `json:"affected"`
	Text       string                 `json:"text"`
}

// NewDataMessage validates a raw item against its data type and constructs
// the typed message. The measurement identifier is derived from the required
// metadata fields: "field=value;" for each, concatenated in sorted field
// order, hashed with SHA-256.
func NewDataMessage(dt *DataType, item *rawItem) (*DataMessage, error) {
	if item.Time == nil {
		return nil, fmt.Errorf("data message for %s is missing time", dt.Name)
	}
	if item.Interval == nil || *item.Interval <= 0 {
		return nil, fmt.Errorf("data message for %s is missing a positive interval", dt.Name)
	}
	if len(item.Values) == 0 {
		return nil, fmt.Errorf("data message for %s has no values", dt.Name)
	}

	identifier, err := deriveIdentifier(dt, item.Meta)
	if err != nil {
		return nil, err
	}

	return &DataMessage{
		DataType:   dt,
		Identifier: identifier,
		Time:       int64(*item.Time),
		Interval:   int64(*item.Interval),
		Values:     item.Values,
		Meta:       item.Meta,
	}, nil
}

// NewEventMessage validates a raw item and constructs the typed event
// message.
func NewEventMessage(dt *DataType, item *rawItem) (*EventMessage, error) {
	if item.Start == nil || item.End == nil {
		return nil, fmt.Errorf("event message for %s is missing start or end", dt.Name)
	}
	if item.Identifier == "" {
		return nil, fmt.Errorf("event message for %s is missing identifier", dt.Name)
	}
	if item.EventType == "" {
		return nil, fmt.Errorf("event message for %s is missing event_type", dt.Name)
	}

	return &EventMessage{
		DataType:   dt,
		Type:       item.EventType,
		Start:      int64(*item.Start),
		End:        int64(*item.End),
		Identifier: item.Identifier,
		Affected:   item.Affected,
		Text:       item.Text,
	}, nil
}

// deriveIdentifier computes the stable measurement identifier from the
// required metadata fields.
func deriveIdentifier(dt *DataType, meta map[string]interface{}) (string, error) {
	fields := dt.RequiredFields()
	sort.Strings(fields)

	h := sha256.New()
	for _, field := range fields {
		value, ok := meta[field]
		if !ok {
			return "", fmt.Errorf("meta is missing required field %s", field)
		}
		fmt.Fprintf(h, "%s=%v;", field, value)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Decoder turns a batch envelope into typed data and event messages,
// resolving data types through the registry.
type Decoder struct {
	registry *Registry
}

// NewDecoder creates a decoder over the given registry.
func NewDecoder(registry *Registry) *Decoder {
	return &Decoder{registry: registry}
}

// Decode classifies and validates every item of a batch. Malformed items are
// logged and skipped; an unknown data type triggers at most one registry
// refresh per batch and is then skipped if still unknown. A failed refresh
// aborts the whole batch as transient so the broker redelivers it.
func (d *Decoder) Decode(ctx context.Context, items []json.RawMessage) ([]*DataMessage, []*EventMessage, error) {
	var dataMessages []*DataMessage
	var eventMessages []*EventMessage

	refreshed := false

	for i, raw := range items {
		var item rawItem
		if err := json.Unmarshal(raw, &item); err != nil {
			common.Logger.WithFields(logrus.Fields{
				"index": i,
			}).WithError(err).Warn("skipping malformed batch item")
			continue
		}
		if item.Type == "" {
			common.Logger.WithFields(logrus.Fields{
				"index": i,
			}).Warn("skipping batch item without type")
			continue
		}

		typeName := item.Type
		isEvent := false
		if match := eventTypePattern.FindStringSubmatch(item.Type); match != nil {
			typeName = match[1]
			isEvent = true
		}

		dt := d.registry.Get(typeName)
		if dt == nil && !refreshed {
			if err := d.registry.Refresh(ctx); err != nil {
				return nil, nil, Transient(fmt.Errorf("registry refresh failed: %w", err))
			}
			refreshed = true
			dt = d.registry.Get(typeName)
		}
		if dt == nil {
			common.Logger.WithFields(logrus.Fields{
				"type": typeName,
			}).Warn("skipping item with unknown data type")
			continue
		}

		if isEvent {
			msg, err := NewEventMessage(dt, &item)
			if err != nil {
				common.Logger.WithError(err).Warn("skipping malformed event message")
				continue
			}
			eventMessages = append(eventMessages, msg)
		} else {
			msg, err := NewDataMessage(dt, &item)
			if err != nil {
				common.Logger.WithError(err).Warn("skipping malformed data message")
				continue
			}
			dataMessages = append(dataMessages, msg)
		}
	}

	return dataMessages, eventMessages, nil
}
