// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Deserializer converts a fetched record into a [Message].
// Returned errors should wrap [ErrDeserialization].
type Deserializer interface {
	Deserialize(*kgo.Record) (Message, error)
}

// DeserializerFunc is an adapter to allow the use of ordinary functions as [Deserializer]s.
type DeserializerFunc func(*kgo.Record) (Message, error)

// Deserialize implements the [Deserializer] interface.
func (f DeserializerFunc) Deserialize(record *kgo.Record) (Message, error) {
	return f(record)
}

// JSONDeserializer decodes record values as JSON into a generic value
// (map[string]any, []any, string, float64, bool or nil).
// A record without a value, e.g. a tombstone, has a nil body.
type JSONDeserializer struct{}

// Deserialize implements the [Deserializer] interface.
func (JSONDeserializer) Deserialize(record *kgo.Record) (Message, error) {
	return JSONDeserializerFor[any]{}.Deserialize(record)
}

// JSONDeserializerFor decodes record values as JSON into a T.
// The message body is a T, not a *T.
type JSONDeserializerFor[T any] struct{}

// Deserialize implements the [Deserializer] interface.
func (JSONDeserializerFor[T]) Deserialize(record *kgo.Record) (Message, error) {
	if len(record.Value) == 0 {
		return newMessage(record, nil), nil
	}

	var body T
	err := json.Unmarshal(record.Value, &body)
	if err != nil {
		return Message{}, fmt.Errorf("%w: topic %s partition %d offset %d: %w",
			ErrDeserialization,
			record.Topic,
			record.Partition,
			record.Offset,
			err,
		)
	}
	return newMessage(record, body), nil
}

// RawDeserializer passes the record value through as the message body.
type RawDeserializer struct{}

// Deserialize implements the [Deserializer] interface.
func (RawDeserializer) Deserialize(record *kgo.Record) (Message, error) {
	return newMessage(record, record.Value), nil
}

func newMessage(record *kgo.Record, body any) Message {
	return Message{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Timestamp: record.Timestamp,
		Key:       record.Key,
		Headers:   headersFromRecord(record),
		Body:      body,
		Value:     record.Value,
	}
}

// Serializer converts the body of an [OutboundMessage] into record bytes.
type Serializer interface {
	Serialize(OutboundMessage) ([]byte, error)
}

// SerializerFunc is an adapter to allow the use of ordinary functions as [Serializer]s.
type SerializerFunc func(OutboundMessage) ([]byte, error)

// Serialize implements the [Serializer] interface.
func (f SerializerFunc) Serialize(msg OutboundMessage) ([]byte, error) {
	return f(msg)
}

// JSONSerializer encodes message bodies as JSON.
type JSONSerializer struct{}

// Serialize implements the [Serializer] interface.
func (JSONSerializer) Serialize(msg OutboundMessage) ([]byte, error) {
	b, err := json.Marshal(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return b, nil
}

// RawSerializer accepts []byte, string and nil bodies as is.
type RawSerializer struct{}

// Serialize implements the [Serializer] interface.
func (RawSerializer) Serialize(msg OutboundMessage) ([]byte, error) {
	switch body := msg.Body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return body, nil
	case string:
		return []byte(body), nil
	default:
		return nil, fmt.Errorf("%w: unsupported raw body type %T", ErrSerialization, msg.Body)
	}
}
