package eventsink

import (
	"bufio"
	"encoding/json"
	"io"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/events"
)

const maxLineBytes = 4 << 20

type recordLine struct {
	Type      events.Type     `json:"type"`
	SessionID acp.SessionId   `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Coalesced int             `json:"coalesced,omitempty"`
	TS        string          `json:"ts"`
}

func MarshalRecordJSONL(record Record) (string, error) {
	data, err := json.Marshal(recordLine{
		Type:      record.Type,
		SessionID: record.SessionID,
		Payload:   record.Payload,
		Coalesced: record.Coalesced,
		TS:        record.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}

func ParseRecordJSONLLine(line []byte) (Record, error) {
	var payload recordLine
	if err := json.Unmarshal(line, &payload); err != nil {
		return Record{}, err
	}
	timestamp := time.Time{}
	if payload.TS != "" {
		parsed, err := time.Parse(time.RFC3339Nano, payload.TS)
		if err != nil {
			return Record{}, err
		}
		timestamp = parsed
	}
	return Record{
		Type:      payload.Type,
		SessionID: payload.SessionID,
		Payload:   payload.Payload,
		Coalesced: payload.Coalesced,
		Timestamp: timestamp,
	}, nil
}

type EventStream struct {
	w io.Writer
}

func NewEventStream(writer io.Writer) *EventStream {
	return &EventStream{w: writer}
}

func (s *EventStream) Write(record Record) error {
	if s == nil || s.w == nil {
		return nil
	}
	line, err := MarshalRecordJSONL(record)
	if err != nil {
		return err
	}
	_, err = io.WriteString(s.w, line)
	return err
}

type EventDecoder struct {
	scanner *bufio.Scanner
}

func NewEventDecoder(reader io.Reader) *EventDecoder {
	if reader == nil {
		return &EventDecoder{}
	}
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &EventDecoder{scanner: scanner}
}

// Next returns the next record, or io.EOF once the stream is exhausted.
func (d *EventDecoder) Next() (Record, error) {
	if d == nil || d.scanner == nil {
		return Record{}, io.EOF
	}
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return ParseRecordJSONLLine(line)
	}
	if err := d.scanner.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}
