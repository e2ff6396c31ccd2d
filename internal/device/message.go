package device

import (
	"github.com/noah-isme/gema-speaking-lab/internal/capture"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
)

// MessageType tags every text frame on the recording socket.
type MessageType string

const (
	// Sent by the browser.
	MsgStart      MessageType = "start"
	MsgStop       MessageType = "stop"
	MsgPermission MessageType = "permission"
	MsgFlushed    MessageType = "flushed"

	// Sent by the service.
	MsgAcquire  MessageType = "acquire"
	MsgRecord   MessageType = "record"
	MsgFinalize MessageType = "finalize"
	MsgRelease  MessageType = "release"
	MsgAbort    MessageType = "abort"
	MsgNotice   MessageType = "notice"
	MsgProgress MessageType = "progress"
	MsgSession  MessageType = "session"
	MsgError    MessageType = "error"
)

// Message is the JSON envelope exchanged with the browser. Encoded audio
// travels separately as binary frames.
type Message struct {
	Type       MessageType            `json:"type"`
	ActivityID uint                   `json:"activity_id,omitempty"`
	ItemID     uint                   `json:"item_id,omitempty"`
	ReRecord   bool                   `json:"re_record,omitempty"`
	Granted    bool                   `json:"granted,omitempty"`
	StreamID   string                 `json:"stream_id,omitempty"`
	MimeType   string                 `json:"mime_type,omitempty"`
	Notice     *capture.Notice        `json:"notice,omitempty"`
	Item       *progress.ItemProgress `json:"item,omitempty"`
	Session    *capture.SessionInfo   `json:"session,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Transport delivers messages to the connected browser.
type Transport interface {
	Send(Message) error
}
