// Package protocol defines the JSON messages exchanged with WebSocket clients.
package protocol

import "encoding/json"

// Inbound message types
const (
	TypeGetReaderStatus = "GET_READER_STATUS"
	TypeWriteData       = "WRITE_DATA"
)

// Outbound message types
const (
	TypeReaderStatus     = "READER_STATUS"
	TypeCardStatus       = "CARD_STATUS"
	TypeDataReadSuccess  = "DATA_READ_SUCCESS"
	TypeDataReadError    = "DATA_READ_ERROR"
	TypeDataWriteSuccess = "DATA_WRITE_SUCCESS"
	TypeDataWriteError   = "DATA_WRITE_ERROR"
	TypeReaderError      = "READER_ERROR"
)

// Payload data types accepted in WRITE_DATA
const (
	DataTypeText = "TEXT"
	DataTypeURL  = "URL"
	DataTypeApp  = "APP"
)

// Incoming is a message received from a WebSocket client.
// Payloads is itself a JSON string holding an array of WritePayload.
type Incoming struct {
	Type     string `json:"type"`
	Payloads string `json:"payloads,omitempty"`
}

// WritePayload is a single record request inside WRITE_DATA payloads.
type WritePayload struct {
	DataType string `json:"data_type"`
	Content  string `json:"content"`
}

// ParseWritePayloads decodes the inner payloads JSON string of a WRITE_DATA
// message into a record request list.
func ParseWritePayloads(payloads string) ([]WritePayload, error) {
	var out []WritePayload
	if err := json.Unmarshal([]byte(payloads), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Outgoing is a message broadcast to WebSocket clients. The tag field selects
// which of the optional fields are present; pointers keep false/empty values
// on the wire for the variants that carry them.
type Outgoing struct {
	Type    string  `json:"type"`
	Success *bool   `json:"success,omitempty"`
	Message string  `json:"message,omitempty"`
	Data    *string `json:"data,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// ReaderStatus reports whether at least one reader is attached.
func ReaderStatus(connected bool) Outgoing {
	return Outgoing{Type: TypeReaderStatus, Success: &connected}
}

// CardStatus reports a card insertion or removal.
func CardStatus(success bool, message string) Outgoing {
	return Outgoing{Type: TypeCardStatus, Success: &success, Message: message}
}

// DataReadSuccess carries the decoded text of a freshly read tag.
func DataReadSuccess(data string) Outgoing {
	return Outgoing{Type: TypeDataReadSuccess, Data: &data}
}

// DataReadError reports a failed tag read or decode.
func DataReadError(reason string) Outgoing {
	return Outgoing{Type: TypeDataReadError, Error: reason}
}

// DataWriteSuccess reports a completed tag write.
func DataWriteSuccess(message string) Outgoing {
	return Outgoing{Type: TypeDataWriteSuccess, Message: message}
}

// DataWriteError reports a failed tag write.
func DataWriteError(reason string) Outgoing {
	return Outgoing{Type: TypeDataWriteError, Error: reason}
}

// ReaderError reports a PC/SC resource manager failure.
func ReaderError(reason string) Outgoing {
	return Outgoing{Type: TypeReaderError, Error: reason}
}
