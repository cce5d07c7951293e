package eventsink

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes every record on "<subject>.<type>".
type NATSSink struct {
	conn    *nats.Conn
	subject string
	owned   bool
}

func DialNATS(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("acp-host"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	sink := NewNATSSink(conn, subject)
	sink.owned = true
	return sink, nil
}

func NewNATSSink(conn *nats.Conn, subject string) *NATSSink {
	return &NATSSink{conn: conn, subject: subject}
}

func (s *NATSSink) Subject(record Record) string {
	return s.subject + "." + string(record.Type)
}

func (s *NATSSink) Emit(_ context.Context, record Record) error {
	line, err := MarshalRecordJSONL(record)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.Subject(record), []byte(line[:len(line)-1])); err != nil {
		return fmt.Errorf("publish %s: %w", s.Subject(record), err)
	}
	return nil
}

// Close flushes pending messages and closes a connection the sink dialed.
func (s *NATSSink) Close() error {
	if !s.owned {
		return s.conn.Flush()
	}
	return s.conn.Drain()
}
