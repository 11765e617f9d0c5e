package bus

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event types emitted on the bus.
const (
	EventServerChanged  = "serverChanged"
	EventServerApply    = "serverApply"
	EventReload         = "reload"
	EventAssetInstalled = "assetInstalled"
	EventAssetRemoved   = "assetRemoved"
)

var (
	errNilBus     = errors.New("bus not initialized")
	errNilEvent   = errors.New("nil event")
	errEmptyTopic = errors.New("empty subject")
)

// Event is the JSON payload carried on every subject.
type Event struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType string, data map[string]any) *Event {
	return &Event{
		ID:   uuid.NewString(),
		Type: eventType,
		Time: time.Now().UTC(),
		Data: data,
	}
}

// Publisher delivers events on a subject.
type Publisher interface {
	Publish(subject string, evt *Event) error
}

// Encode serialises an event for the wire.
func Encode(evt *Event) ([]byte, error) {
	if evt == nil {
		return nil, errNilEvent
	}
	return json.Marshal(evt)
}

// Decode parses a wire event.
func Decode(data []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

type multi []Publisher

// Tee publishes to every non-nil publisher and returns the first error.
func Tee(pubs ...Publisher) Publisher {
	out := make(multi, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (m multi) Publish(subject string, evt *Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(subject, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}
