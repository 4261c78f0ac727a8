package verify_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/SuperGokou/kidsBot/internal/verify"
	voicemock "github.com/SuperGokou/kidsBot/pkg/provider/voiceid/mock"
)

// pcmOfDuration returns a silent 16-bit mono buffer of the given length in
// milliseconds at 16 kHz.
func pcmOfDuration(ms int) []byte {
	return make([]byte, 16000*ms/1000*2)
}

func TestCosine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero magnitude", []float32{0, 0}, []float32{1, 0}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := verify.Cosine(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVerifyThresholdBoundary(t *testing.T) {
	t.Parallel()

	// The voiceprint is the x unit vector; an embedding at angle θ has
	// similarity cos θ, so the embedding below is built to land exactly at,
	// just below, and just above the threshold.
	voiceprint := []float32{1, 0}

	cases := []struct {
		name       string
		similarity float64
		want       bool
	}{
		{"exactly at threshold", 0.25, true},
		{"just below", 0.25 - 1e-3, false},
		{"just above", 0.25 + 1e-3, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sim := tc.similarity
			provider := &voicemock.Provider{
				EmbedResult:     []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))},
				DimensionsValue: 2,
			}
			v, err := verify.New(provider, voiceprint)
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			d := v.Verify(context.Background(), pcmOfDuration(500), 16000)
			if d.Accepted != tc.want {
				t.Errorf("Accepted = %v (similarity %v), want %v", d.Accepted, d.Similarity, tc.want)
			}
		})
	}
}

func TestVerifyUnregisteredAccepts(t *testing.T) {
	t.Parallel()

	provider := &voicemock.Provider{DimensionsValue: 2}
	v, err := verify.New(provider, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if v.Registered() {
		t.Fatal("Registered() = true, want false")
	}

	d := v.Verify(context.Background(), pcmOfDuration(500), 16000)
	if !d.Accepted || d.Reason != "unregistered" {
		t.Errorf("Decision = %+v, want accepted/unregistered", d)
	}
	if len(provider.EmbedCalls) != 0 {
		t.Errorf("Embed called %d times, want 0", len(provider.EmbedCalls))
	}
}

func TestVerifyTooShortRejected(t *testing.T) {
	t.Parallel()

	provider := &voicemock.Provider{
		EmbedResult:     []float32{1, 0},
		DimensionsValue: 2,
	}
	v, err := verify.New(provider, []float32{1, 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := v.Verify(context.Background(), pcmOfDuration(50), 16000)
	if d.Accepted || d.Reason != "too_short" {
		t.Errorf("Decision = %+v, want rejected/too_short", d)
	}
	if len(provider.EmbedCalls) != 0 {
		t.Errorf("Embed called %d times, want 0", len(provider.EmbedCalls))
	}
}

func TestVerifyEmbedFailureFailsClosed(t *testing.T) {
	t.Parallel()

	provider := &voicemock.Provider{
		EmbedErr:        errors.New("sidecar unreachable"),
		DimensionsValue: 2,
	}
	v, err := verify.New(provider, []float32{1, 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := v.Verify(context.Background(), pcmOfDuration(500), 16000)
	if d.Accepted || d.Reason != "embed_failed" {
		t.Errorf("Decision = %+v, want rejected/embed_failed", d)
	}
}

func TestVerifyDimensionMismatch(t *testing.T) {
	t.Parallel()

	provider := &voicemock.Provider{DimensionsValue: 256}
	if _, err := verify.New(provider, []float32{1, 0}); err == nil {
		t.Fatal("New accepted a voiceprint with wrong dimensions")
	}
}

func TestVoiceprintRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voiceprint.bin")

	want := []float32{0.5, -1.25, 3.75, 0}
	if err := verify.SaveVoiceprint(path, want); err != nil {
		t.Fatalf("SaveVoiceprint: %v", err)
	}

	got, err := verify.LoadVoiceprint(path)
	if err != nil {
		t.Fatalf("LoadVoiceprint: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLoadVoiceprintMissingFile(t *testing.T) {
	t.Parallel()

	got, err := verify.LoadVoiceprint(filepath.Join(t.TempDir(), "nope.bin"))
	if err != nil {
		t.Fatalf("LoadVoiceprint: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil for missing file", got)
	}
}

func TestSaveVoiceprintEmptyRejected(t *testing.T) {
	t.Parallel()

	if err := verify.SaveVoiceprint(filepath.Join(t.TempDir(), "v.bin"), nil); err == nil {
		t.Fatal("SaveVoiceprint accepted an empty vector")
	}
}
