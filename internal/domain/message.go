package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ValidRole reports whether r is one of the persisted message roles.
func ValidRole(r string) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Image is an attachment embedded in a user message.
type Image struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     string `json:"base64"` // base64 payload without the data: prefix
}

// DataURI returns the image as a data URI suitable for image_url parts.
func (i Image) DataURI() string {
	return "data:" + i.MIMEType + ";base64," + i.Data
}

// MessageBody is the content of a message. It is one of PlainText, Streaming
// or WithImages; the concrete shape is chosen when the message is built.
type MessageBody interface {
	// Text returns the textual content (the partial text while streaming).
	Text() string
	// Loading reports whether the body is still being streamed.
	Loading() bool
	isMessageBody()
}

// PlainText is finalized text content.
type PlainText struct{ Content string }

// Streaming is the content of an assistant placeholder while its response
// is still arriving.
type Streaming struct{ Partial string }

// WithImages is text content with attached images.
type WithImages struct {
	Content string
	Images  []Image
}

func (b PlainText) Text() string  { return b.Content }
func (b PlainText) Loading() bool { return false }
func (PlainText) isMessageBody()  {}

func (b Streaming) Text() string  { return b.Partial }
func (b Streaming) Loading() bool { return true }
func (Streaming) isMessageBody()  {}

func (b WithImages) Text() string  { return b.Content }
func (b WithImages) Loading() bool { return false }
func (WithImages) isMessageBody()  {}

// BodyImages returns the images of b, or nil when b carries none.
func BodyImages(b MessageBody) []Image {
	if wi, ok := b.(WithImages); ok {
		return wi.Images
	}
	return nil
}

// NewUserBody picks PlainText or WithImages depending on attachments.
func NewUserBody(text string, images []Image) MessageBody {
	if len(images) == 0 {
		return PlainText{Content: text}
	}
	cp := make([]Image, len(images))
	copy(cp, images)
	return WithImages{Content: text, Images: cp}
}

// Message is a single persisted chat message.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Body           MessageBody
	Timestamp      time.Time
	Model          string
	Provider       string
	// Error is set when a stream failed after partial content was received.
	Error string
	// Seq is the sequence number of the last applied content write.
	Seq uint64
}

// Text is shorthand for m.Body.Text() that tolerates a nil body.
func (m Message) Text() string {
	if m.Body == nil {
		return ""
	}
	return m.Body.Text()
}

// Loading reports whether the message is an in-flight placeholder.
func (m Message) Loading() bool {
	return m.Body != nil && m.Body.Loading()
}

// MessageUpdate is a content write to an existing message. Writes whose Seq
// is not greater than the stored Seq are discarded by the store.
type MessageUpdate struct {
	ID    string
	Body  MessageBody
	Error string
	Seq   uint64
}

// messageMetadata is the open metadata mapping of the exported JSON shape.
type messageMetadata struct {
	IsLoading bool    `json:"isLoading,omitempty"`
	Images    []Image `json:"images,omitempty"`
	Error     string  `json:"error,omitempty"`
}

type messageJSON struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	Timestamp      time.Time        `json:"timestamp"`
	Model          string           `json:"model,omitempty"`
	Provider       string           `json:"provider,omitempty"`
	Metadata       *messageMetadata `json:"metadata,omitempty"`
}

// MarshalJSON encodes the message in the export format, flattening Body into
// content plus metadata.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Text(),
		Timestamp:      m.Timestamp,
		Model:          m.Model,
		Provider:       m.Provider,
	}
	meta := messageMetadata{
		IsLoading: m.Loading(),
		Images:    BodyImages(m.Body),
		Error:     m.Error,
	}
	if meta.IsLoading || len(meta.Images) > 0 || meta.Error != "" {
		out.Metadata = &meta
	}
	return json.Marshal(out)
}

// UnmarshalJSON resolves the metadata bag into a concrete Body variant.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Role != "" && !ValidRole(in.Role) {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, in.Role)
	}
	*m = Message{
		ID:             in.ID,
		ConversationID: in.ConversationID,
		Role:           in.Role,
		Timestamp:      in.Timestamp,
		Model:          in.Model,
		Provider:       in.Provider,
	}
	var meta messageMetadata
	if in.Metadata != nil {
		meta = *in.Metadata
	}
	m.Error = meta.Error
	switch {
	case meta.IsLoading:
		m.Body = Streaming{Partial: in.Content}
	case len(meta.Images) > 0:
		m.Body = WithImages{Content: in.Content, Images: meta.Images}
	default:
		m.Body = PlainText{Content: in.Content}
	}
	return nil
}
