package nfc

// CommandKind selects the operation a Command requests from the reader service.
type CommandKind int

const (
	// CommandWriteData writes an NDEF message to the card on the first
	// reader that yields a handle.
	CommandWriteData CommandKind = iota

	// CommandCheckReaderStatus emits the cached reader status.
	CommandCheckReaderStatus
)

// Command is a request pushed from the gateway to the reader service. The
// service drains pending commands once per tick, in receive order.
type Command struct {
	Kind CommandKind

	// Payloads holds the WRITE_DATA inner JSON string (an array of
	// {data_type, content}) for CommandWriteData.
	Payloads string
}
