package stt

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/bmschat/domain/repositories"
)

var _ repositories.SpeechRecognizer = &ScriptedRecognizer{}

func TestScriptedRecognizer(t *testing.T) {
	handler := newRecordingHandler()
	recognizer := NewScriptedRecognizer("show miner alarms", zaptest.NewLogger(t))

	stream, err := recognizer.Start(context.Background(), repositories.AudioConfig{Encoding: "LINEAR16"}, handler)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stream.Write(make([]byte, DefaultScriptedBytesPerWord))
	stream.Write(make([]byte, DefaultScriptedBytesPerWord/2))
	stream.Write(make([]byte, DefaultScriptedBytesPerWord*4))
	if err := stream.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	handler.wait(t)

	handler.mu.Lock()
	defer handler.mu.Unlock()

	want := []struct {
		text  string
		final bool
	}{
		{"show", false},
		{"show miner alarms", false},
		{"show miner alarms", true},
	}
	if len(handler.results) != len(want) {
		t.Fatalf("Expected %d results, got %+v", len(want), handler.results)
	}
	for i, w := range want {
		if handler.results[i].Transcript != w.text || handler.results[i].Final != w.final {
			t.Errorf("Result %d: expected %q final=%v, got %+v", i, w.text, w.final, handler.results[i])
		}
	}

	if err := stream.Write([]byte{1}); err != ErrStreamStopped {
		t.Errorf("Expected ErrStreamStopped, got %v", err)
	}
}

func TestScriptedRecognizerWithoutAudio(t *testing.T) {
	handler := newRecordingHandler()
	stream, err := NewScriptedRecognizer("hello", zaptest.NewLogger(t)).
		Start(context.Background(), repositories.AudioConfig{Encoding: "LINEAR16"}, handler)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stream.Stop()
	handler.wait(t)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.errors) != 1 || handler.errors[0] != "no-speech" {
		t.Errorf("Expected no-speech, got %v", handler.errors)
	}
}
