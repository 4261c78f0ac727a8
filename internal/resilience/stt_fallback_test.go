package resilience

import (
	"context"
	"errors"
	"testing"

	sttmock "github.com/SuperGokou/kidsBot/pkg/provider/stt/mock"
)

func TestSTTFallback_FailsOver(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errTest, ModelIDValue: "cloud/big"}
	backup := &sttmock.Provider{Transcripts: []string{"tell me a story"}, ModelIDValue: "local/tiny"}

	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	text, err := f.Transcribe(context.Background(), make([]byte, 3200), 16000, 1, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "tell me a story" {
		t.Errorf("transcript = %q, want %q", text, "tell me a story")
	}
	if len(primary.TranscribeCalls) != 1 {
		t.Errorf("primary calls = %d, want 1", len(primary.TranscribeCalls))
	}
	if len(backup.TranscribeCalls) != 1 {
		t.Errorf("backup calls = %d, want 1", len(backup.TranscribeCalls))
	}
	if got := backup.TranscribeCalls[0].LanguageHint; got != "en" {
		t.Errorf("language hint = %q, want en", got)
	}
}

func TestSTTFallback_EmptyTranscriptIsNotFailure(t *testing.T) {
	primary := &sttmock.Provider{}
	backup := &sttmock.Provider{Transcripts: []string{"should not be reached"}}

	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	text, err := f.Transcribe(context.Background(), make([]byte, 3200), 16000, 1, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "" {
		t.Errorf("transcript = %q, want empty", text)
	}
	if len(backup.TranscribeCalls) != 0 {
		t.Errorf("backup calls = %d, want 0 for an empty primary result", len(backup.TranscribeCalls))
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errTest}
	backup := &sttmock.Provider{TranscribeErr: errTest}

	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	if _, err := f.Transcribe(context.Background(), make([]byte, 3200), 16000, 1, ""); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_ModelIDListsAllEntries(t *testing.T) {
	primary := &sttmock.Provider{ModelIDValue: "cloud/big"}
	backup := &sttmock.Provider{ModelIDValue: "local/tiny"}

	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	if got := f.ModelID(); got != "cloud/big,local/tiny" {
		t.Errorf("ModelID = %q", got)
	}
}
