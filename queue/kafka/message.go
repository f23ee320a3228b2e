// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Header represents a Kafka message header.
type Header struct {
	Key   string
	Value []byte
}

// Message represents a consumed and deserialized Kafka message.
//
// A Message is handed to the handler by value and is never modified
// by the consumer after it has been constructed.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
	Key       []byte
	Headers   []Header

	// Body is the deserialized value. Its dynamic type depends on the
	// configured [Deserializer].
	Body any

	// Value holds the raw record value as received from the broker.
	Value []byte
}

// Header returns the value of the first header with the given key.
func (m Message) Header(key string) ([]byte, bool) {
	for _, h := range m.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}

// OutboundMessage is a message to be produced to a topic.
type OutboundMessage struct {
	Topic   string
	Key     []byte
	Headers []Header

	// Body is serialized by the [Producer]'s [Serializer].
	Body any
}

func headersFromRecord(record *kgo.Record) []Header {
	if len(record.Headers) == 0 {
		return nil
	}

	headers := make([]Header, len(record.Headers))
	for i, hdr := range record.Headers {
		headers[i] = Header{
			Key:   hdr.Key,
			Value: hdr.Value,
		}
	}
	return headers
}

func recordHeaders(headers []Header) []kgo.RecordHeader {
	if len(headers) == 0 {
		return nil
	}

	hdrs := make([]kgo.RecordHeader, len(headers))
	for i, h := range headers {
		hdrs[i] = kgo.RecordHeader{
			Key:   h.Key,
			Value: h.Value,
		}
	}
	return hdrs
}
