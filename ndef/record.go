// Package ndef implements the NFC Data Exchange Format messages stored on
// Type-2 and Type-4 tags: record encoding and decoding plus the outer TLV
// container framing.
package ndef

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Type Name Format values used by this agent
const (
	TNFWellKnown = 0x01 // NFC Forum Well-Known Type (Text, URI)
	TNFExternal  = 0x04 // External type (Android Application Record)
)

// Record header flag bits: MB | ME | CF | SR | IL | TNF[2:0]
const (
	flagMB  = 0x80
	flagME  = 0x40
	flagCF  = 0x20
	flagSR  = 0x10
	flagIL  = 0x08
	tnfMask = 0x07
)

// Well-known and external type fields
var (
	TypeText       = []byte{'T'}
	TypeURI        = []byte{'U'}
	TypeAndroidApp = []byte("android.com:pkg")
)

var (
	// ErrTruncatedRecord indicates the parse cursor would step past the buffer.
	ErrTruncatedRecord = errors.New("ndef: truncated record")

	// ErrInvalidUTF8 indicates a Text record payload is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("ndef: text payload is not valid UTF-8")

	// ErrEmptyMessage indicates a message with no records.
	ErrEmptyMessage = errors.New("ndef: empty message")

	// ErrPayloadTooLong indicates a payload over the short-record limit.
	ErrPayloadTooLong = errors.New("ndef: payload exceeds short record limit")
)

// Record is a single NDEF record: TNF, type identifier, optional ID and payload.
type Record struct {
	TNF     byte
	Type    []byte
	ID      []byte
	Payload []byte
}

// NewTextRecord builds a Well-Known Text record. The payload carries the
// status byte (UTF-8, language length in bits 0-5) followed by the "en"
// language code and the UTF-8 content.
func NewTextRecord(content string) Record {
	lang := []byte("en")
	payload := make([]byte, 0, 1+len(lang)+len(content))
	payload = append(payload, byte(len(lang)))
	payload = append(payload, lang...)
	payload = append(payload, content...)
	return Record{TNF: TNFWellKnown, Type: TypeText, Payload: payload}
}

// NewURIRecord builds a Well-Known URI record with no abbreviation prefix.
func NewURIRecord(content string) Record {
	payload := make([]byte, 0, 1+len(content))
	payload = append(payload, 0x00)
	payload = append(payload, content...)
	return Record{TNF: TNFWellKnown, Type: TypeURI, Payload: payload}
}

// NewAndroidAppRecord builds an Android Application Record carrying the raw
// package name.
func NewAndroidAppRecord(pkg string) Record {
	return Record{TNF: TNFExternal, Type: TypeAndroidApp, Payload: []byte(pkg)}
}

// IsText reports whether the record is a Well-Known Text record.
func (r Record) IsText() bool {
	return r.TNF == TNFWellKnown && len(r.Type) == 1 && r.Type[0] == 'T'
}

// IsURI reports whether the record is a Well-Known URI record.
func (r Record) IsURI() bool {
	return r.TNF == TNFWellKnown && len(r.Type) == 1 && r.Type[0] == 'U'
}

// Text extracts the UTF-8 content of a Text record, stripping the status byte
// and language code.
func (r Record) Text() (string, error) {
	if !r.IsText() {
		return "", fmt.Errorf("ndef: not a text record (TNF=%d type=%q)", r.TNF, r.Type)
	}
	if len(r.Payload) == 0 {
		return "", ErrTruncatedRecord
	}
	status := r.Payload[0]
	langLen := int(status & 0x3F)
	if 1+langLen > len(r.Payload) {
		return "", ErrTruncatedRecord
	}
	text := r.Payload[1+langLen:]
	if !utf8.Valid(text) {
		return "", ErrInvalidUTF8
	}
	return string(text), nil
}

// URI extracts the content of a URI record, dropping the abbreviation byte.
func (r Record) URI() (string, error) {
	if !r.IsURI() {
		return "", fmt.Errorf("ndef: not a URI record (TNF=%d type=%q)", r.TNF, r.Type)
	}
	if len(r.Payload) == 0 {
		return "", ErrTruncatedRecord
	}
	return string(r.Payload[1:]), nil
}
