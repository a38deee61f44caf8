package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

// assertJSON compares data with want after decoding both, so key order and
// whitespace do not matter.
func assertJSON(t *testing.T, data []byte, want string) {
	t.Helper()
	var got, exp any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if err := json.Unmarshal([]byte(want), &exp); err != nil {
		t.Fatalf("decode want: %v", err)
	}
	if !reflect.DeepEqual(got, exp) {
		t.Errorf("json mismatch\n got: %s\nwant: %s", data, want)
	}
}

func TestNewUserBody(t *testing.T) {
	if got := NewUserBody("hi", nil); !reflect.DeepEqual(got, PlainText{Content: "hi"}) {
		t.Errorf("NewUserBody without images = %#v", got)
	}

	imgs := []Image{{Name: "a.png", MIMEType: "image/png", Data: "AAAA"}}
	body := NewUserBody("look", imgs)
	wi, ok := body.(WithImages)
	if !ok {
		t.Fatalf("expected WithImages, got %T", body)
	}
	if wi.Text() != "look" {
		t.Errorf("Text() = %q, want look", wi.Text())
	}

	// The body owns its own copy of the attachments.
	imgs[0].Name = "changed.png"
	if wi.Images[0].Name != "a.png" {
		t.Errorf("attachment aliased caller slice: %q", wi.Images[0].Name)
	}
}

func TestMessageBodyVariants(t *testing.T) {
	tests := []struct {
		body    MessageBody
		text    string
		loading bool
	}{
		{PlainText{Content: "a"}, "a", false},
		{Streaming{Partial: "b"}, "b", true},
		{WithImages{Content: "c"}, "c", false},
		{nil, "", false},
	}
	for _, tt := range tests {
		m := Message{Body: tt.body}
		if m.Text() != tt.text || m.Loading() != tt.loading {
			t.Errorf("%T: Text() = %q, Loading() = %v, want %q, %v", tt.body, m.Text(), m.Loading(), tt.text, tt.loading)
		}
	}
}

func TestImageDataURI(t *testing.T) {
	img := Image{MIMEType: "image/jpeg", Data: "Zm9v"}
	if got, want := img.DataURI(), "data:image/jpeg;base64,Zm9v"; got != want {
		t.Errorf("DataURI() = %q, want %q", got, want)
	}
}

func TestMessageJSONShape(t *testing.T) {
	ts := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "plain text has no metadata",
			msg: Message{
				ID: "m1", ConversationID: "c1", Role: RoleUser,
				Body: PlainText{Content: "hello"}, Timestamp: ts,
			},
			want: `{"id":"m1","conversationId":"c1","role":"user","content":"hello","timestamp":"2025-03-09T12:00:00Z"}`,
		},
		{
			name: "placeholder is flagged loading",
			msg: Message{
				ID: "m2", ConversationID: "c1", Role: RoleAssistant,
				Body: Streaming{Partial: "par"}, Timestamp: ts, Model: "gpt", Provider: "or",
			},
			want: `{"id":"m2","conversationId":"c1","role":"assistant","content":"par","timestamp":"2025-03-09T12:00:00Z","model":"gpt","provider":"or","metadata":{"isLoading":true}}`,
		},
		{
			name: "images and errors go in metadata",
			msg: Message{
				ID: "m3", Role: RoleUser, Timestamp: ts,
				Body:  WithImages{Content: "see", Images: []Image{{Name: "x.png", MIMEType: "image/png", Data: "QQ=="}}},
				Error: "cut off",
			},
			want: `{"id":"m3","conversationId":"","role":"user","content":"see","timestamp":"2025-03-09T12:00:00Z",
				"metadata":{"images":[{"name":"x.png","mimeType":"image/png","base64":"QQ=="}],"error":"cut off"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			assertJSON(t, data, tt.want)
		})
	}
}

func TestMessageUnmarshalResolvesBody(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want MessageBody
	}{
		{"plain", `{"id":"1","role":"assistant","content":"x"}`, PlainText{Content: "x"}},
		{"loading", `{"id":"1","role":"assistant","content":"x","metadata":{"isLoading":true}}`, Streaming{Partial: "x"}},
		{"images", `{"id":"1","role":"user","content":"x","metadata":{"images":[{"name":"a","mimeType":"image/png","base64":"AA"}]}}`,
			WithImages{Content: "x", Images: []Image{{Name: "a", MIMEType: "image/png", Data: "AA"}}}},
		{"unknown metadata keys", `{"id":"1","role":"user","content":"x","metadata":{"pinned":true}}`, PlainText{Content: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Message
			if err := json.Unmarshal([]byte(tt.in), &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(m.Body, tt.want) {
				t.Errorf("body = %#v, want %#v", m.Body, tt.want)
			}
		})
	}
}

func TestMessageUnmarshalRejectsUnknownRole(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"id":"1","role":"tool","content":"x"}`), &m)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range []string{RoleSystem, RoleUser, RoleAssistant} {
		if !ValidRole(r) {
			t.Errorf("ValidRole(%q) = false", r)
		}
	}
	for _, r := range []string{"tool", ""} {
		if ValidRole(r) {
			t.Errorf("ValidRole(%q) = true", r)
		}
	}
}
