package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adverant/nexus/handwriting-worker/internal/bitmap"
	apperrors "github.com/adverant/nexus/handwriting-worker/internal/errors"
	"github.com/adverant/nexus/handwriting-worker/internal/storage"
	"github.com/otiai10/gosseract/v2"
)

// samplePNG draws a dark stroke on a light page
func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 24, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 24; x++ {
			img.Set(x, y, color.NRGBA{R: 230, G: 228, B: 220, A: 255})
		}
	}
	for x := 4; x < 20; x++ {
		for y := 7; y < 10; y++ {
			img.Set(x, y, color.NRGBA{R: 20, G: 25, B: 40, A: 255})
		}
	}

	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

func newTestProcessor(t *testing.T, engine Engine, store JobStatusStore) *Processor {
	t.Helper()
	p, err := NewProcessor(&ProcessorConfig{
		Engine:            engine,
		JobStore:          store,
		MaxImageSize:      1 << 20,
		ProcessingTimeout: 10 * time.Second,
		AttemptTimeout:    5 * time.Second,
		Logger:            quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewProcessor() error: %v", err)
	}
	return p
}

func TestNewProcessorValidation(t *testing.T) {
	if _, err := NewProcessor(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewProcessor(&ProcessorConfig{}); err == nil {
		t.Error("expected error for missing engine")
	}
}

func TestProcessorRecognize(t *testing.T) {
	engine := &fakeEngine{responses: map[string]fakeResponse{
		"handwriting": {text: "  the barn  was\tred ", confidence: 91},
	}}
	p := newTestProcessor(t, engine, nil)

	result, err := p.Recognize(context.Background(), &RecognizeRequest{JobID: "job-1", Image: samplePNG(t)})
	if err != nil {
		t.Fatalf("Recognize() error: %v", err)
	}

	if result.Text != "the bam was red" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.Confidence != 91 || result.Level != ConfidenceHigh {
		t.Errorf("confidence = %v (%s)", result.Confidence, result.Level)
	}
	if result.ConfigUsed != "handwriting" || result.Attempts != 1 || result.UsedFallback {
		t.Errorf("result = %+v", result)
	}
	if len(result.ConfigsTried) != 1 || result.ConfigsTried[0] != "handwriting" {
		t.Errorf("ConfigsTried = %v", result.ConfigsTried)
	}

	// the engine must receive a binarized PNG of the same size
	sent, err := bitmap.Decode(engine.calls[0].image)
	if err != nil {
		t.Fatalf("engine received undecodable image: %v", err)
	}
	if sent.Width != 24 || sent.Height != 16 {
		t.Errorf("preprocessed size = %dx%d", sent.Width, sent.Height)
	}
	for i := 0; i < len(sent.Data); i += sent.Channels {
		if v := sent.Data[i]; v != 0 && v != 255 {
			t.Fatalf("preprocessed sample %d = %d, want binary", i, v)
		}
	}
}

func TestProcessorFallbackUsesOriginalBytes(t *testing.T) {
	engine := &fakeEngine{responses: map[string]fakeResponse{
		"handwriting": {text: "", confidence: 0},
		"cursive":     {text: "", confidence: 0},
		"mixed":       {text: "", confidence: 0},
		"fallback":    {text: "Hi", confidence: 33},
	}}
	p := newTestProcessor(t, engine, nil)
	original := samplePNG(t)

	result, err := p.Recognize(context.Background(), &RecognizeRequest{JobID: "job-2", Image: original})
	if err != nil {
		t.Fatalf("Recognize() error: %v", err)
	}
	if !result.UsedFallback || result.Text != "Hi" || result.Level != ConfidenceLow {
		t.Fatalf("result = %+v", result)
	}
	if last := engine.calls[len(engine.calls)-1]; !bytes.Equal(last.image, original) {
		t.Fatal("fallback did not receive the original image bytes")
	}
}

func TestProcessorDecodeErrors(t *testing.T) {
	engine := &fakeEngine{}
	p := newTestProcessor(t, engine, nil)

	testCases := []struct {
		name string
		req  *RecognizeRequest
	}{
		{"garbage", &RecognizeRequest{JobID: "j", Image: []byte("not an image at all")}},
		{"no source", &RecognizeRequest{JobID: "j"}},
		{"too large", &RecognizeRequest{JobID: "j", Image: make([]byte, (1<<20)+1)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Recognize(context.Background(), tc.req)
			if apperrors.CodeOf(err) != apperrors.ErrorDecode {
				t.Fatalf("error = %v, want DECODE_FAILED", err)
			}
			if len(engine.calls) != 0 {
				t.Fatal("engine must not be called for undecodable input")
			}
		})
	}
}

func TestProcessorSurfacesRecognitionFailure(t *testing.T) {
	boom := errors.New("boom")
	engine := &fakeEngine{responses: map[string]fakeResponse{
		"handwriting": {err: boom},
		"cursive":     {err: boom},
		"mixed":       {err: boom},
		"fallback":    {err: boom},
	}}
	p := newTestProcessor(t, engine, nil)

	result, err := p.Recognize(context.Background(), &RecognizeRequest{JobID: "j", Image: samplePNG(t)})
	if result != nil {
		t.Fatalf("expected no result, got %+v", result)
	}
	if !apperrors.IsRecognitionFailure(err) {
		t.Fatalf("error = %v, want a recognition failure", err)
	}
}

func TestProcessorProcessingTimeout(t *testing.T) {
	engine := &fakeEngine{responses: map[string]fakeResponse{
		"handwriting": {block: true},
	}}
	p, err := NewProcessor(&ProcessorConfig{
		Engine:            engine,
		ProcessingTimeout: 30 * time.Millisecond,
		AttemptTimeout:    time.Second,
		Logger:            quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Recognize(context.Background(), &RecognizeRequest{JobID: "j", Image: samplePNG(t)})
	if apperrors.CodeOf(err) != apperrors.ErrorProcessingTimeout {
		t.Fatalf("error = %v, want PROCESSING_TIMEOUT", err)
	}
}

func TestProcessorDownloadsImageURL(t *testing.T) {
	body := samplePNG(t)
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// first request fails to exercise the retry path
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer server.Close()

	engine := &fakeEngine{responses: map[string]fakeResponse{
		"handwriting": {text: "from url", confidence: 90},
	}}
	p := newTestProcessor(t, engine, nil)

	result, err := p.Recognize(context.Background(), &RecognizeRequest{JobID: "j", ImageURL: server.URL + "/note.png"})
	if err != nil {
		t.Fatalf("Recognize() error: %v", err)
	}
	if result.Text != "from url" {
		t.Fatalf("Text = %q", result.Text)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("server hits = %d, want 2", hits)
	}
}

func TestProcessorDownloadNotFoundIsPermanent(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	p := newTestProcessor(t, &fakeEngine{}, nil)
	_, err := p.Recognize(context.Background(), &RecognizeRequest{JobID: "j", ImageURL: server.URL})
	if apperrors.CodeOf(err) != apperrors.ErrorDecode {
		t.Fatalf("error = %v, want DECODE_FAILED", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("server hits = %d, want 1 (no retry on 404)", hits)
	}
}

func TestProcessorDownloadFailureClassification(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		body     []byte
		wantCode apperrors.ErrorCode
		wantHits int32
	}{
		{"host unavailable is retryable", http.StatusServiceUnavailable, nil, apperrors.ErrorDownloadFailed, 3},
		{"forbidden is permanent", http.StatusForbidden, nil, apperrors.ErrorDecode, 1},
		{"oversize body is permanent", http.StatusOK, make([]byte, 2<<20), apperrors.ErrorDecode, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var hits int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tc.status)
				w.Write(tc.body)
			}))
			defer server.Close()

			p := newTestProcessor(t, &fakeEngine{}, nil)
			p.downloadBackoff = time.Millisecond

			_, err := p.Recognize(context.Background(), &RecognizeRequest{JobID: "j", ImageURL: server.URL})
			if got := apperrors.CodeOf(err); got != tc.wantCode {
				t.Fatalf("code = %q, want %q (%v)", got, tc.wantCode, err)
			}
			if got := atomic.LoadInt32(&hits); got != tc.wantHits {
				t.Fatalf("server hits = %d, want %d", got, tc.wantHits)
			}
		})
	}
}

func TestProcessorDownloadDeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p, err := NewProcessor(&ProcessorConfig{
		Engine:            &fakeEngine{},
		MaxImageSize:      1 << 20,
		ProcessingTimeout: 50 * time.Millisecond,
		AttemptTimeout:    50 * time.Millisecond,
		Logger:            quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Recognize(context.Background(), &RecognizeRequest{JobID: "j", ImageURL: server.URL})
	if got := apperrors.CodeOf(err); got != apperrors.ErrorProcessingTimeout {
		t.Fatalf("code = %q, want PROCESSING_TIMEOUT (%v)", got, err)
	}
}

type fakeJobStore struct {
	updates []*storage.JobUpdate
	err     error
}

func (f *fakeJobStore) UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error {
	f.updates = append(f.updates, update)
	return f.err
}

func TestUpdateJobStatus(t *testing.T) {
	store := &fakeJobStore{}
	p := newTestProcessor(t, &fakeEngine{}, store)

	err := p.UpdateJobStatus(context.Background(), "job-5", "completed", 100, map[string]interface{}{
		"confidence":     72.5,
		"level":          ConfidenceMedium,
		"configUsed":     "cursive",
		"configsTried":   []string{"handwriting", "cursive"},
		"usedFallback":   false,
		"processingTime": int64(1200),
	})
	if err != nil {
		t.Fatalf("UpdateJobStatus() error: %v", err)
	}

	if len(store.updates) != 1 {
		t.Fatalf("updates = %d", len(store.updates))
	}
	u := store.updates[0]
	if u.JobID != "job-5" || u.Status != "completed" || u.Confidence != 72.5 {
		t.Errorf("update = %+v", u)
	}
	if u.ConfidenceLevel != "Medium" || u.ConfigUsed != "cursive" || len(u.ConfigsTried) != 2 {
		t.Errorf("update = %+v", u)
	}
	if u.ProcessingTimeMs != 1200 || u.Metadata["progress"] != 100 {
		t.Errorf("update = %+v", u)
	}
}

func TestUpdateJobStatusWithoutStore(t *testing.T) {
	p := newTestProcessor(t, &fakeEngine{}, nil)
	if err := p.UpdateJobStatus(context.Background(), "job", "processing", 0, nil); err != nil {
		t.Fatalf("UpdateJobStatus() without store: %v", err)
	}
}

func TestUpdateJobStatusStoreFailure(t *testing.T) {
	store := &fakeJobStore{err: errors.New("connection refused")}
	p := newTestProcessor(t, &fakeEngine{}, store)

	err := p.UpdateJobStatus(context.Background(), "job", "failed", 0, nil)
	if apperrors.CodeOf(err) != apperrors.ErrorStorageFailed {
		t.Fatalf("error = %v, want STORAGE_FAILED", err)
	}
}

func TestPreprocessImage(t *testing.T) {
	out, err := PreprocessImage(samplePNG(t))
	if err != nil {
		t.Fatalf("PreprocessImage() error: %v", err)
	}
	if detectImageType(out) != "png" {
		t.Fatal("preprocessed output is not PNG")
	}

	if _, err := PreprocessImage([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDetectImageType(t *testing.T) {
	testCases := map[string][]byte{
		"png":     {0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A},
		"jpeg":    {0xFF, 0xD8, 0xFF, 0xE0},
		"gif":     []byte("GIF89a"),
		"webp":    []byte("RIFF\x00\x00\x00\x00WEBPVP8 "),
		"tiff":    {0x49, 0x49, 0x2A, 0x00},
		"bmp":     []byte("BM\x00\x00"),
		"unknown": []byte("%PDF-1.7"),
	}
	for want, data := range testCases {
		if got := detectImageType(data); got != want {
			t.Errorf("detectImageType(%q) = %s, want %s", data, got, want)
		}
	}
}

func TestDefaultConfigs(t *testing.T) {
	configs := DefaultConfigs()
	if len(configs) != 3 {
		t.Fatalf("len = %d", len(configs))
	}

	want := []struct {
		name string
		psm  gosseract.PageSegMode
		oem  int
	}{
		{"handwriting", gosseract.PSM_SINGLE_BLOCK, OEMLSTMOnly},
		{"cursive", gosseract.PSM_SINGLE_LINE, OEMDefault},
		{"mixed", gosseract.PSM_AUTO, OEMDefault},
	}
	for i, w := range want {
		c := configs[i]
		if c.Name != w.name || c.PageSegMode != w.psm || c.EngineMode != w.oem {
			t.Errorf("config %d = %+v", i, c)
		}
		if c.DPI != 300 || !c.PreserveInterwordSpaces {
			t.Errorf("config %s should keep spaces at 300 dpi", c.Name)
		}
	}
	if configs[2].Whitelist != "" || configs[0].Whitelist != HandwritingWhitelist {
		t.Error("unexpected whitelists")
	}

	fallback := FallbackConfig()
	if fallback.PageSegMode != gosseract.PSM_AUTO || fallback.Whitelist != "" || fallback.DPI != 0 {
		t.Errorf("fallback = %+v", fallback)
	}
}
