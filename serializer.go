package loanmaster

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// Serializer handles event payload serialization and deserialization.
type Serializer interface {
	// Serialize converts an event to bytes.
	Serialize(event interface{}) ([]byte, error)

	// Deserialize converts bytes back to an event.
	// The eventType is used to determine the target type.
	Deserialize(data []byte, eventType string) (interface{}, error)
}

// Upcaster transforms an event payload from one schema version to the next.
// It receives the decoded JSON payload at version N and must return the
// payload at version N+1, including the updated schemaVersion field.
type Upcaster func(payload map[string]interface{}) (map[string]interface{}, error)

type upcasterKey struct {
	eventType   string
	fromVersion int
}

// EventRegistry maps event type names to Go types and holds the
// schema-version upcaster chain for each type.
type EventRegistry struct {
	mu        sync.RWMutex
	types     map[string]reflect.Type
	upcasters map[upcasterKey]Upcaster
}

// NewEventRegistry creates a new empty EventRegistry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{
		types:     make(map[string]reflect.Type),
		upcasters: make(map[upcasterKey]Upcaster),
	}
}

// Register adds a mapping from eventType to the Go type of the example.
// The example should be a value (not a pointer) of the event type.
func (r *EventRegistry) Register(eventType string, example interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := reflect.TypeOf(example)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.types[eventType] = t
}

// RegisterAll registers multiple events using their struct names as type names.
// Each example should be a value (not a pointer) of the event type.
func (r *EventRegistry) RegisterAll(examples ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, example := range examples {
		t := reflect.TypeOf(example)
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		r.types[t.Name()] = t
	}
}

// RegisterUpcaster installs an upcaster that migrates payloads of eventType
// from fromVersion to fromVersion+1. Upcasters are chained: a payload at
// version 1 with upcasters registered for versions 1 and 2 is migrated to
// version 3 before deserialization.
func (r *EventRegistry) RegisterUpcaster(eventType string, fromVersion int, fn Upcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upcasters[upcasterKey{eventType: eventType, fromVersion: fromVersion}] = fn
}

// Lookup returns the Go type for the given event type name.
// Returns nil and false if the type is not registered.
func (r *EventRegistry) Lookup(eventType string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[eventType]
	return t, ok
}

// LookupUpcaster returns the upcaster for the given event type and schema version.
func (r *EventRegistry) LookupUpcaster(eventType string, fromVersion int) (Upcaster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.upcasters[upcasterKey{eventType: eventType, fromVersion: fromVersion}]
	return fn, ok
}

// RegisteredTypes returns a slice of all registered event type names.
func (r *EventRegistry) RegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.types))
	for t := range r.types {
		types = append(types, t)
	}
	return types
}

// Count returns the number of registered event types.
func (r *EventRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// JSONSerializer is the default Serializer implementation using JSON encoding.
// Stored payloads carry an optional schemaVersion field; payloads at older
// schema versions are migrated through the registry's upcaster chain before
// being decoded into the registered Go type.
type JSONSerializer struct {
	registry *EventRegistry
}

// NewJSONSerializer creates a new JSONSerializer with an empty registry.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{
		registry: NewEventRegistry(),
	}
}

// NewJSONSerializerWithRegistry creates a new JSONSerializer with the given registry.
func NewJSONSerializerWithRegistry(registry *EventRegistry) *JSONSerializer {
	if registry == nil {
		registry = NewEventRegistry()
	}
	return &JSONSerializer{
		registry: registry,
	}
}

// Register adds an event type to the serializer's registry.
func (s *JSONSerializer) Register(eventType string, example interface{}) {
	s.registry.Register(eventType, example)
}

// RegisterAll registers multiple events using their struct names as type names.
func (s *JSONSerializer) RegisterAll(examples ...interface{}) {
	s.registry.RegisterAll(examples...)
}

// RegisterUpcaster installs a schema-version upcaster on the registry.
func (s *JSONSerializer) RegisterUpcaster(eventType string, fromVersion int, fn Upcaster) {
	s.registry.RegisterUpcaster(eventType, fromVersion, fn)
}

// Registry returns the underlying EventRegistry.
func (s *JSONSerializer) Registry() *EventRegistry {
	return s.registry
}

// Serialize converts an event to JSON bytes.
func (s *JSONSerializer) Serialize(event interface{}) ([]byte, error) {
	if event == nil {
		return nil, NewSerializationError("nil", "serialize", fmt.Errorf("event cannot be nil"))
	}

	data, err := json.Marshal(event)
	if err != nil {
		eventType := reflect.TypeOf(event).Name()
		return nil, NewSerializationError(eventType, "serialize", err)
	}

	return data, nil
}

// Deserialize converts JSON bytes back to an event.
// If the event type is registered, returns a value of that type,
// upcasting the payload across schema versions first if needed.
// Otherwise, returns a map[string]interface{}.
func (s *JSONSerializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	if len(data) == 0 {
		return nil, NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	data, err := s.upcast(data, eventType)
	if err != nil {
		return nil, err
	}

	t, ok := s.registry.Lookup(eventType)
	if !ok {
		// Fall back to map if type not registered
		var result map[string]interface{}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, NewSerializationError(eventType, "deserialize", err)
		}
		return result, nil
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, NewSerializationError(eventType, "deserialize", err)
	}

	return ptr.Elem().Interface(), nil
}

// upcast migrates a payload through the upcaster chain for its event type.
// Payloads without a schemaVersion field are treated as version 1.
func (s *JSONSerializer) upcast(data []byte, eventType string) ([]byte, error) {
	version := peekSchemaVersion(data)
	if _, ok := s.registry.LookupUpcaster(eventType, version); !ok {
		return data, nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, NewSerializationError(eventType, "upcast", err)
	}

	for {
		fn, ok := s.registry.LookupUpcaster(eventType, version)
		if !ok {
			break
		}
		next, err := fn(payload)
		if err != nil {
			return nil, NewSerializationError(eventType, "upcast", err)
		}
		payload = next
		version++
	}

	migrated, err := json.Marshal(payload)
	if err != nil {
		return nil, NewSerializationError(eventType, "upcast", err)
	}
	return migrated, nil
}

// peekSchemaVersion reads the schemaVersion field from a JSON payload
// without decoding the whole document. Missing or invalid fields default to 1.
func peekSchemaVersion(data []byte) int {
	var probe struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.SchemaVersion <= 0 {
		return 1
	}
	return probe.SchemaVersion
}

// GetEventType returns the event type name for the given event.
// It uses the struct name as the type name.
func GetEventType(event interface{}) string {
	if event == nil {
		return ""
	}

	t := reflect.TypeOf(event)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// SerializeEvent is a convenience function that serializes an event and returns EventData.
func SerializeEvent(serializer Serializer, event interface{}, metadata Metadata) (EventData, error) {
	eventType := GetEventType(event)
	if eventType == "" {
		return EventData{}, NewSerializationError("", "serialize", fmt.Errorf("cannot determine event type"))
	}

	data, err := serializer.Serialize(event)
	if err != nil {
		return EventData{}, err
	}

	return EventData{
		Type:     eventType,
		Data:     data,
		Metadata: metadata,
	}, nil
}

// DeserializeEvent is a convenience function that deserializes a StoredEvent to an Event.
func DeserializeEvent(serializer Serializer, stored StoredEvent) (Event, error) {
	data, err := serializer.Deserialize(stored.Data, stored.Type)
	if err != nil {
		return Event{}, err
	}

	return EventFromStored(stored, data), nil
}
