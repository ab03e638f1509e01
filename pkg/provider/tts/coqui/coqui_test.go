package coqui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

// ---- test helpers ----

var testFormat = audio.Format{SampleRate: 16000, Channels: 1}

// buildTestWAV wraps pcm in a WAV container in format f.
func buildTestWAV(t *testing.T, pcm []byte, f audio.Format) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(pcm, f)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return data
}

// filledPCM returns n bytes of PCM where every sample is v.
func filledPCM(n int, v int16) []byte {
	samples := make([]int16, n/2)
	for i := range samples {
		samples[i] = v
	}
	return audio.PCM(samples)
}

// drainAudio reads all chunks from the stream until it is closed and returns
// the concatenated PCM data.
func drainAudio(s *tts.Stream) []byte {
	var out []byte
	for chunk := range s.Audio {
		out = append(out, chunk...)
	}
	return out
}

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

// ---- Provider creation ----

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002")
		if p.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want %q", p.serverURL, "http://localhost:5002")
		}
		if p.language != defaultLanguage {
			t.Errorf("language = %q, want %q", p.language, defaultLanguage)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
		if p.apiMode != APIModeStandard {
			t.Errorf("apiMode = %q, want %q", p.apiMode, APIModeStandard)
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002/")
		if p.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", p.serverURL)
		}
	})

	t.Run("options", func(t *testing.T) {
		p := mustNew(t, "http://x", WithLanguage("en"), WithTimeout(time.Second), WithAPIMode(APIModePiper))
		if p.language != "en" || p.httpClient.Timeout != time.Second || p.apiMode != APIModePiper {
			t.Errorf("options not applied: language=%q timeout=%v mode=%q", p.language, p.httpClient.Timeout, p.apiMode)
		}
	})

	t.Run("empty url", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Error("New(\"\") error = nil, want error")
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		if _, err := New("http://x", WithAPIMode("bogus")); err == nil {
			t.Error("New with unknown mode error = nil, want error")
		}
	})
}

// ---- Synthesize ----

func TestSynthesize_EmptyVoiceID_XTTS(t *testing.T) {
	t.Parallel()

	p := mustNew(t, "http://localhost:5002", WithAPIMode(APIModeXTTS))
	_, err := p.Synthesize(context.Background(), "Привет.", tts.VoiceProfile{})
	if !errors.Is(err, tts.ErrSynthesisUnavailable) {
		t.Errorf("err = %v, want ErrSynthesisUnavailable", err)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	p := mustNew(t, "http://localhost:5002")
	_, err := p.Synthesize(context.Background(), "   ", tts.VoiceProfile{})
	if !errors.Is(err, tts.ErrSynthesisUnavailable) {
		t.Errorf("err = %v, want ErrSynthesisUnavailable", err)
	}
}

func TestSynthesize_MockServer(t *testing.T) {
	t.Parallel()

	wantPCM := filledPCM(100, 0x42)
	wavData := buildTestWAV(t, wantPCM, testFormat)

	var (
		reqMu        sync.Mutex
		receivedReqs []ttsRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ttsEndpoint {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		reqMu.Lock()
		receivedReqs = append(receivedReqs, req)
		reqMu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	voice := tts.VoiceProfile{ID: "test_speaker", Provider: "coqui"}

	stream, err := p.Synthesize(context.Background(), "Привет мир. До свидания!", voice)
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	if stream.Format != testFormat {
		t.Errorf("Format = %v, want %v", stream.Format, testFormat)
	}

	pcm := drainAudio(stream)
	if err := stream.Err(); err != nil {
		t.Errorf("stream Err = %v, want nil", err)
	}
	if want := 2 * len(wantPCM); len(pcm) != want {
		t.Errorf("total PCM bytes = %d, want %d", len(pcm), want)
	}
	for i, s := range audio.Samples(pcm) {
		if s != 0x42 {
			t.Errorf("sample[%d] = %#x, want 0x42", i, s)
			break
		}
	}

	reqMu.Lock()
	defer reqMu.Unlock()
	if len(receivedReqs) != 2 {
		t.Fatalf("server received %d requests, want 2", len(receivedReqs))
	}
	texts := map[string]bool{}
	for _, req := range receivedReqs {
		texts[req.Text] = true
		if req.SpeakerWav != "test_speaker" {
			t.Errorf("speaker_wav = %q, want %q", req.SpeakerWav, "test_speaker")
		}
		if req.Language != defaultLanguage {
			t.Errorf("language = %q, want %q", req.Language, defaultLanguage)
		}
	}
	if !texts["Привет мир."] || !texts["До свидания!"] {
		t.Errorf("request texts = %v, want both sentences", texts)
	}
}

func TestSynthesize_OrderPreserved(t *testing.T) {
	t.Parallel()

	// The first sentence answers slowly, later ones fast; output must still
	// follow sentence order.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		text := r.URL.Query().Get("text")
		var v int16
		switch text {
		case "Один.":
			v = 1
		case "Два.":
			time.Sleep(50 * time.Millisecond)
			v = 2
		case "Три.":
			v = 3
		}
		data, _ := audio.EncodeWAV(filledPCM(8, v), testFormat)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	stream, err := p.Synthesize(context.Background(), "Один. Два. Три.", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	samples := audio.Samples(drainAudio(stream))
	if len(samples) != 12 {
		t.Fatalf("samples = %d, want 12", len(samples))
	}
	for i, want := range []int16{1, 2, 3} {
		if got := samples[i*4]; got != want {
			t.Errorf("sentence %d sample = %d, want %d", i, got, want)
		}
	}
}

func TestSynthesize_StandardAPI(t *testing.T) {
	t.Parallel()

	wavData := buildTestWAV(t, filledPCM(40, 7), audio.Format{SampleRate: 22050, Channels: 1})
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeStandard))
	stream, err := p.Synthesize(context.Background(), "Сейчас десять часов", tts.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := len(drainAudio(stream)); got != 40 {
		t.Errorf("PCM bytes = %d, want 40", got)
	}
	if stream.Format.SampleRate != 22050 {
		t.Errorf("SampleRate = %d, want 22050", stream.Format.SampleRate)
	}
	for _, want := range []string{"speaker_id=p225", "language_id=ru", "text="} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestSynthesize_PiperAPI(t *testing.T) {
	t.Parallel()

	wavData := buildTestWAV(t, filledPCM(20, 3), audio.Format{SampleRate: 22050, Channels: 1})
	var (
		gotBody  string
		gotScale string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != piperEndpoint {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotScale = r.URL.Query().Get("length_scale")
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModePiper))
	stream, err := p.Synthesize(context.Background(), "Свет включен", tts.VoiceProfile{SpeedFactor: 2})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	drainAudio(stream)
	if gotBody != "Свет включен" {
		t.Errorf("body = %q, want %q", gotBody, "Свет включен")
	}
	if gotScale != "0.500" {
		t.Errorf("length_scale = %q, want 0.500", gotScale)
	}
}

func TestSynthesize_ContextCancellation(t *testing.T) {
	t.Parallel()

	wavData := buildTestWAV(t, []byte{0x01, 0x02, 0x03, 0x04}, testFormat)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Synthesize(ctx, "Это предложение не прозвучит.", tts.VoiceProfile{})
	if !errors.Is(err, tts.ErrSynthesisUnavailable) {
		t.Errorf("err = %v, want ErrSynthesisUnavailable", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want to wrap context.Canceled", err)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	_, err := p.Synthesize(context.Background(), "Одно предложение.", tts.VoiceProfile{})
	if !errors.Is(err, tts.ErrSynthesisUnavailable) {
		t.Fatalf("err = %v, want ErrSynthesisUnavailable", err)
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("err = %q, want status code in message", err)
	}
}

func TestSynthesize_MidStreamError(t *testing.T) {
	t.Parallel()

	wavData := buildTestWAV(t, filledPCM(10, 1), testFormat)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") == "Первое." {
			_, _ = w.Write(wavData)
			return
		}
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	stream, err := p.Synthesize(context.Background(), "Первое. Второе.", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := len(drainAudio(stream)); got != 10 {
		t.Errorf("PCM bytes = %d, want 10 (first sentence only)", got)
	}
	if stream.Err() == nil {
		t.Error("stream Err = nil, want the second sentence failure")
	}
}

// ---- ListVoices ----

func TestListVoices(t *testing.T) {
	t.Parallel()

	rawResp := map[string]any{
		"speaker_alice": map[string]any{"type": "studio"},
		"speaker_bob":   map[string]any{"type": "studio"},
	}
	data, _ := json.Marshal(rawResp)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studioSpeakersEndpoint {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].ID != "speaker_alice" || voices[1].ID != "speaker_bob" {
		t.Errorf("voice IDs = [%q %q], want sorted [speaker_alice speaker_bob]", voices[0].ID, voices[1].ID)
	}
	for _, v := range voices {
		if v.Provider != "coqui" {
			t.Errorf("voice %q Provider = %q, want coqui", v.ID, v.Provider)
		}
		if v.Metadata["type"] != "studio" {
			t.Errorf("voice %q metadata type = %q, want studio", v.ID, v.Metadata["type"])
		}
	}
}

func TestListVoices_StandardAPI(t *testing.T) {
	t.Parallel()

	t.Run("multi-speaker model", func(t *testing.T) {
		t.Parallel()

		data, _ := json.Marshal(detailsResponse{
			ModelName: "tts_models/multilingual/multi-dataset/your_tts",
			Speakers:  []string{"p227", "p225", "p226"},
		})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != detailsEndpoint {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(data)
		}))
		defer srv.Close()

		voices, err := mustNew(t, srv.URL).ListVoices(context.Background())
		if err != nil {
			t.Fatalf("ListVoices: %v", err)
		}
		wantIDs := []string{"p225", "p226", "p227"}
		if len(voices) != len(wantIDs) {
			t.Fatalf("got %d voices, want %d", len(voices), len(wantIDs))
		}
		for i, v := range voices {
			if v.ID != wantIDs[i] {
				t.Errorf("voices[%d].ID = %q, want %q", i, v.ID, wantIDs[i])
			}
			if v.Metadata["type"] != "speaker" {
				t.Errorf("voices[%d] metadata type = %q, want speaker", i, v.Metadata["type"])
			}
		}
	})

	t.Run("single-speaker model", func(t *testing.T) {
		t.Parallel()

		data, _ := json.Marshal(detailsResponse{ModelName: "tts_models/ru/vits"})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(data)
		}))
		defer srv.Close()

		voices, err := mustNew(t, srv.URL).ListVoices(context.Background())
		if err != nil {
			t.Fatalf("ListVoices: %v", err)
		}
		if len(voices) != 1 || voices[0].ID != "tts_models/ru/vits" {
			t.Errorf("voices = %+v, want single model voice", voices)
		}
		if voices[0].Metadata["type"] != "single-speaker" {
			t.Errorf("metadata type = %q, want single-speaker", voices[0].Metadata["type"])
		}
	})
}

func TestListVoices_Piper(t *testing.T) {
	t.Parallel()

	voices, err := mustNew(t, "http://unused", WithAPIMode(APIModePiper)).ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].Provider != "piper" {
		t.Errorf("voices = %+v, want one piper voice", voices)
	}
}

func TestListVoices_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := mustNew(t, srv.URL).ListVoices(context.Background())
	if err == nil {
		t.Fatal("expected error on server failure, got nil")
	}
	if !strings.Contains(err.Error(), "coqui:") {
		t.Errorf("error %q missing 'coqui:' prefix", err.Error())
	}
}

func TestListVoices_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := mustNew(t, srv.URL).ListVoices(ctx); err == nil {
		t.Fatal("expected error on context timeout, got nil")
	}
}
