package protocol

import (
	"errors"
	"testing"
)

func TestParseClientFrameTypedJSON(t *testing.T) {
	msg, err := ParseClientFrame([]byte(`{"type":"message","text":"안녕하세요"}`))
	if err != nil {
		t.Fatalf("ParseClientFrame returned error: %v", err)
	}
	if msg.Type != TypeMessage || msg.Text != "안녕하세요" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestParseClientFrameMalformedJSONIsProtocolViolation(t *testing.T) {
	_, err := ParseClientFrame([]byte(`{"type":"message","text":`))
	if !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestParseClientFrameLegacyUserInput(t *testing.T) {
	msg, err := ParseClientFrame([]byte(`{"user_input":"오늘 좀 힘들었어"}`))
	if err != nil {
		t.Fatalf("ParseClientFrame returned error: %v", err)
	}
	if msg.Type != TypeMessage || msg.Text != "오늘 좀 힘들었어" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestParseClientFrameJSONWithoutTextIsInvalid(t *testing.T) {
	_, err := ParseClientFrame([]byte(`{"foo":"bar"}`))
	if !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestParseClientFrameBareWords(t *testing.T) {
	cases := map[string]MessageType{
		"ping":  TypePing,
		"PING":  TypePing,
		"open":  TypeOpen,
		"close": TypeClose,
	}
	for raw, want := range cases {
		msg, err := ParseClientFrame([]byte(raw))
		if err != nil {
			t.Fatalf("ParseClientFrame(%q) returned error: %v", raw, err)
		}
		if msg.Type != want {
			t.Fatalf("ParseClientFrame(%q) = %v, want %v", raw, msg.Type, want)
		}
	}
}

func TestParseClientFrameQueryStyle(t *testing.T) {
	msg, err := ParseClientFrame([]byte("type=task_recommend&max_items=3"))
	if err != nil {
		t.Fatalf("ParseClientFrame returned error: %v", err)
	}
	if msg.Type != TypeTaskRecommend || msg.MaxItems != 3 {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestParseClientFrameImplicitMessage(t *testing.T) {
	msg, err := ParseClientFrame([]byte("그냥 하고 싶은 말이 있어"))
	if err != nil {
		t.Fatalf("ParseClientFrame returned error: %v", err)
	}
	if msg.Type != TypeMessage || msg.Text != "그냥 하고 싶은 말이 있어" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestParseClientFrameEmpty(t *testing.T) {
	if _, err := ParseClientFrame([]byte("   ")); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestParseClientFrameCloseWithLabels(t *testing.T) {
	msg, err := ParseClientFrame([]byte(`{"type":"close","emotion_label":"불안","topic":"회사"}`))
	if err != nil {
		t.Fatalf("ParseClientFrame returned error: %v", err)
	}
	if msg.Type != TypeClose || msg.EmotionLabel != "불안" || msg.Topic != "회사" {
		t.Fatalf("unexpected message %+v", msg)
	}
}
