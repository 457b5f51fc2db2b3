package flydb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Wire format constants. Every frame starts with an 8-byte header:
//
//	byte 0: magic (0xFD)
//	byte 1: protocol version (0x01)
//	byte 2: message type
//	byte 3: flags
//	bytes 4-7: payload length, uint32 big-endian
//
// followed by the payload, a UTF-8 JSON object.
const (
	MagicByte       = 0xFD
	ProtocolVersion = 0x01
	HeaderSize      = 8

	// MaxMessageSize is the largest payload the protocol permits (16 MiB).
	MaxMessageSize = 16 * 1024 * 1024
)

// MessageType identifies a protocol message. The set is closed; values are
// assigned by the server protocol tables and adding one is a protocol
// version change.
type MessageType byte

const (
	// Core messages (0x01-0x0F).
	MsgQuery         MessageType = 0x01
	MsgQueryResult   MessageType = 0x02
	MsgError         MessageType = 0x03
	MsgPrepare       MessageType = 0x04
	MsgPrepareResult MessageType = 0x05
	MsgExecute       MessageType = 0x06
	MsgDeallocate    MessageType = 0x07
	MsgAuth          MessageType = 0x08
	MsgAuthResult    MessageType = 0x09
	MsgPing          MessageType = 0x0A
	MsgPong          MessageType = 0x0B

	// Cursor operations (0x10-0x1F).
	MsgCursorOpen   MessageType = 0x10
	MsgCursorFetch  MessageType = 0x11
	MsgCursorClose  MessageType = 0x12
	MsgCursorScroll MessageType = 0x13
	MsgCursorResult MessageType = 0x14

	// Metadata operations (0x20-0x2F).
	MsgGetTables      MessageType = 0x20
	MsgGetColumns     MessageType = 0x21
	MsgGetPrimaryKeys MessageType = 0x22
	MsgGetForeignKeys MessageType = 0x23
	MsgGetIndexes     MessageType = 0x24
	MsgGetTypeInfo    MessageType = 0x25
	MsgMetadataResult MessageType = 0x26

	// Transaction operations (0x30-0x3F).
	MsgBeginTx    MessageType = 0x30
	MsgCommitTx   MessageType = 0x31
	MsgRollbackTx MessageType = 0x32
	MsgSavepoint  MessageType = 0x33
	MsgTxResult   MessageType = 0x34

	// Session operations (0x40-0x4F).
	MsgSetOption     MessageType = 0x40
	MsgGetOption     MessageType = 0x41
	MsgGetServerInfo MessageType = 0x42
	MsgSessionResult MessageType = 0x43
)

var messageTypeNames = map[MessageType]string{
	MsgQuery:          "QUERY",
	MsgQueryResult:    "QUERY_RESULT",
	MsgError:          "ERROR",
	MsgPrepare:        "PREPARE",
	MsgPrepareResult:  "PREPARE_RESULT",
	MsgExecute:        "EXECUTE",
	MsgDeallocate:     "DEALLOCATE",
	MsgAuth:           "AUTH",
	MsgAuthResult:     "AUTH_RESULT",
	MsgPing:           "PING",
	MsgPong:           "PONG",
	MsgCursorOpen:     "CURSOR_OPEN",
	MsgCursorFetch:    "CURSOR_FETCH",
	MsgCursorClose:    "CURSOR_CLOSE",
	MsgCursorScroll:   "CURSOR_SCROLL",
	MsgCursorResult:   "CURSOR_RESULT",
	MsgGetTables:      "GET_TABLES",
	MsgGetColumns:     "GET_COLUMNS",
	MsgGetPrimaryKeys: "GET_PRIMARY_KEYS",
	MsgGetForeignKeys: "GET_FOREIGN_KEYS",
	MsgGetIndexes:     "GET_INDEXES",
	MsgGetTypeInfo:    "GET_TYPE_INFO",
	MsgMetadataResult: "METADATA_RESULT",
	MsgBeginTx:        "BEGIN_TX",
	MsgCommitTx:       "COMMIT_TX",
	MsgRollbackTx:     "ROLLBACK_TX",
	MsgSavepoint:      "SAVEPOINT",
	MsgTxResult:       "TX_RESULT",
	MsgSetOption:      "SET_OPTION",
	MsgGetOption:      "GET_OPTION",
	MsgGetServerInfo:  "GET_SERVER_INFO",
	MsgSessionResult:  "SESSION_RESULT",
}

// String returns the protocol name for the message type.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(t))
}

// Valid reports whether t is part of the recognized enumeration.
func (t MessageType) Valid() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// Message flag bits (byte 3 of the header). Reserved for optional features.
const (
	FlagNone       byte = 0x00
	FlagCompressed byte = 0x01
	FlagEncrypted  byte = 0x02
)

// Payload is the structured body of a message, serialized as a JSON object
// on the wire.
type Payload map[string]any

// Message is one complete protocol unit: a type plus its payload.
type Message struct {
	Type    MessageType
	Flags   byte
	Payload Payload
}

// NewMessage builds a message of the given type. A nil payload is treated as
// an empty object.
func NewMessage(t MessageType, payload Payload) *Message {
	if payload == nil {
		payload = Payload{}
	}
	return &Message{Type: t, Payload: payload}
}

// Encode serializes the message into wire format (header + JSON payload).
func Encode(msg *Message) ([]byte, error) {
	var body []byte
	if len(msg.Payload) > 0 {
		var err error
		body, err = json.Marshal(msg.Payload)
		if err != nil {
			return nil, NewProtocolError(fmt.Sprintf("failed to encode %s payload", msg.Type), err)
		}
	}
	if len(body) > MaxMessageSize {
		return nil, NewProtocolError(fmt.Sprintf("message size %d exceeds maximum %d", len(body), MaxMessageSize), nil)
	}

	buf := make([]byte, HeaderSize+len(body))
	buf[0] = MagicByte
	buf[1] = ProtocolVersion
	buf[2] = byte(msg.Type)
	buf[3] = msg.Flags
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(body)))
	copy(buf[HeaderSize:], body)
	return buf, nil
}

// Decode parses a complete wire frame back into a message. It validates the
// magic byte, the protocol version and the message type, and requires the
// declared payload length to match the data that follows.
func Decode(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, NewProtocolError(fmt.Sprintf("invalid header size: %d bytes, expected %d", len(data), HeaderSize), nil)
	}
	if data[0] != MagicByte {
		return nil, NewProtocolError(fmt.Sprintf("invalid magic byte: 0x%02X, expected 0x%02X", data[0], MagicByte), nil)
	}
	if data[1] != ProtocolVersion {
		return nil, NewProtocolError(fmt.Sprintf("unsupported protocol version: 0x%02X, expected 0x%02X", data[1], ProtocolVersion), nil)
	}
	msgType := MessageType(data[2])
	if !msgType.Valid() {
		return nil, NewProtocolError(fmt.Sprintf("unknown message type 0x%02X", data[2]), nil)
	}
	length := binary.BigEndian.Uint32(data[4:8])
	if length > MaxMessageSize {
		return nil, NewProtocolError(fmt.Sprintf("message size %d exceeds maximum %d", length, MaxMessageSize), nil)
	}
	if uint32(len(data)-HeaderSize) != length {
		return nil, NewProtocolError(fmt.Sprintf("payload length %d does not match declared length %d", len(data)-HeaderSize, length), nil)
	}

	msg := &Message{Type: msgType, Flags: data[3], Payload: Payload{}}
	if length > 0 {
		payload, err := decodePayload(data[HeaderSize:])
		if err != nil {
			return nil, NewProtocolError(fmt.Sprintf("failed to decode %s payload", msgType), err)
		}
		msg.Payload = payload
	}
	return msg, nil
}

// ReadMessage reads exactly one frame from r: one full read for the fixed
// header, one full read for the declared payload. A stream that closes
// mid-frame is a protocol error, never a silent truncation.
func ReadMessage(r io.Reader) (*Message, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[4:8])
	if length > MaxMessageSize {
		return nil, NewProtocolError(fmt.Sprintf("message size %d exceeds maximum %d", length, MaxMessageSize), nil)
	}
	frame := header
	if length > 0 {
		frame = append(header, make([]byte, length)...)
		n, err := io.ReadFull(r, frame[HeaderSize:])
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, NewProtocolError(fmt.Sprintf("stream closed after %d of %d payload bytes", n, length), err)
			}
			return nil, err
		}
	}
	return Decode(frame)
}

// WriteMessage encodes msg and writes the complete frame to w.
func WriteMessage(w io.Writer, msg *Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return nil
}

// decodePayload unmarshals a JSON object and normalizes its numbers so that
// integral values come back as int64 rather than float64.
func decodePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	payload := make(Payload, len(raw))
	for k, v := range raw {
		payload[k] = normalizeValue(v)
	}
	return payload, nil
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case []any:
		for i := range val {
			val[i] = normalizeValue(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = normalizeValue(val[k])
		}
		return val
	default:
		return v
	}
}

// Payload accessors. Missing keys yield zero values; the session layer
// decides whether that is an error.

func (p Payload) getString(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

func (p Payload) getBool(key string) bool {
	if b, ok := p[key].(bool); ok {
		return b
	}
	return false
}

func (p Payload) getInt(key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func (p Payload) getSlice(key string) []any {
	if s, ok := p[key].([]any); ok {
		return s
	}
	return nil
}

// Payload constructors for the request messages the session sends.

func authPayload(user, password string) Payload {
	return Payload{"user": user, "password": password}
}

func queryPayload(sql string) Payload {
	return Payload{"sql": sql}
}

func preparePayload(sql string) Payload {
	return Payload{"sql": sql}
}

func executePayload(statementID string, params []any) Payload {
	if params == nil {
		params = []any{}
	}
	return Payload{"statementId": statementID, "params": params}
}

func deallocatePayload(statementID string) Payload {
	return Payload{"statementId": statementID}
}

func setOptionPayload(option string, value any) Payload {
	return Payload{"option": option, "value": value}
}

func getOptionPayload(option string) Payload {
	return Payload{"option": option}
}

func getColumnsPayload(table string) Payload {
	return Payload{"table": table}
}
