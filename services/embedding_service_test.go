package services

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"media-archive-search/internal/config"
	"media-archive-search/internal/inference"
)

// fakeSidecar is an in-process stand-in for the inference sidecar.
type fakeSidecar struct {
	device     string
	features   []float32
	embeddings [][]float32

	loadCalls  atomic.Int64
	embedCalls atomic.Int64
}

func (f *fakeSidecar) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "healthy", "device": f.device, "loaded_models": []string{},
		})
	})
	mux.HandleFunc("/models/", func(w http.ResponseWriter, r *http.Request) {
		f.loadCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "device": f.device})
	})
	mux.HandleFunc("/embed/text", func(w http.ResponseWriter, r *http.Request) {
		f.embedCalls.Add(1)
		var req struct {
			Prompts []string `json:"prompts"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		out := f.embeddings
		if out == nil {
			out = make([][]float32, len(req.Prompts))
			for i := range out {
				out[i] = []float32{float32(i + 1), 2, 3}
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "embeddings": out})
	})
	mux.HandleFunc("/embed/image", func(w http.ResponseWriter, r *http.Request) {
		f.embedCalls.Add(1)
		r.ParseMultipartForm(32 << 20)
		n := len(r.MultipartForm.File["images"])
		out := make([][]float32, n)
		for i := range out {
			out[i] = []float32{3, float32(i + 1), 0}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "embeddings": out})
	})
	mux.HandleFunc("/features", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "features": f.features})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(url string) *config.Config {
	return &config.Config{
		InferenceServiceURL: url,
		EmbeddingsProvider:  "local",
		HashSize:            8,
		EmbeddingCacheTTL:   60,
	}
}

func newTestEmbeddingService(t *testing.T, f *fakeSidecar) *EmbeddingService {
	t.Helper()
	srv := f.server(t)
	client := inference.NewClient(srv.URL, 5*time.Second, 100, nil)
	return NewEmbeddingService(testConfig(srv.URL), client, nil, nil)
}

// writeTestPNG writes a small valid PNG and returns its path.
func writeTestPNG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.png")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	if err := png.Encode(file, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return path
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestEmbedTextsNormalizedInOrder(t *testing.T) {
	f := &fakeSidecar{device: "cuda"}
	svc := newTestEmbeddingService(t, f)

	vectors, err := svc.EmbedTexts(context.Background(), []string{"pierwszy", "drugi", "trzeci"})
	if err != nil {
		t.Fatalf("embedding error: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vectors))
	}

	for i, v := range vectors {
		if norm := vectorNorm(v); math.Abs(norm-1) > 1e-5 {
			t.Errorf("vector %d norm = %v, want 1 within 1e-5", i, norm)
		}
	}

	// Input order: raw vectors were {i+1, 2, 3}, so the first
	// component grows with position after normalization too.
	if !(vectors[0][0] < vectors[1][0] && vectors[1][0] < vectors[2][0]) {
		t.Errorf("vectors out of input order: %v", vectors)
	}
}

func TestEnsureLoadedIdempotent(t *testing.T) {
	f := &fakeSidecar{device: "cuda"}
	svc := newTestEmbeddingService(t, f)
	ctx := context.Background()

	if err := svc.EnsureLoaded(ctx); err != nil {
		t.Fatalf("first load: %v", err)
	}
	if err := svc.EnsureLoaded(ctx); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if calls := f.loadCalls.Load(); calls != 1 {
		t.Fatalf("load endpoint hit %d times, want 1", calls)
	}
}

func TestEnsureLoadedRefusesCPU(t *testing.T) {
	f := &fakeSidecar{device: "cpu"}
	svc := newTestEmbeddingService(t, f)

	err := svc.EnsureLoaded(context.Background())
	if err == nil {
		t.Fatal("expected error for CPU-only sidecar")
	}
	if !errors.Is(err, ErrResourceUnavailable) {
		t.Fatalf("error %v is not ErrResourceUnavailable", err)
	}
}

func TestEmbedImagesBatch(t *testing.T) {
	f := &fakeSidecar{device: "cuda"}
	svc := newTestEmbeddingService(t, f)

	a, b := writeTestPNG(t), writeTestPNG(t)
	vectors, err := svc.EmbedImages(context.Background(), []string{a, b})
	if err != nil {
		t.Fatalf("embedding error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	for i, v := range vectors {
		if norm := vectorNorm(v); math.Abs(norm-1) > 1e-5 {
			t.Errorf("vector %d norm = %v", i, norm)
		}
	}
}

func TestEmbedImagesBadImageFailsWholeBatch(t *testing.T) {
	f := &fakeSidecar{device: "cuda"}
	svc := newTestEmbeddingService(t, f)

	good := writeTestPNG(t)
	bad := filepath.Join(t.TempDir(), "not_an_image.txt")
	if err := os.WriteFile(bad, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	vectors, err := svc.EmbedImages(context.Background(), []string{good, bad})
	if err == nil {
		t.Fatal("expected batch failure for undecodable image")
	}
	if vectors != nil {
		t.Fatal("partial results returned for a failed batch")
	}
	if calls := f.embedCalls.Load(); calls != 0 {
		t.Fatalf("sidecar was called %d times for a batch that must fail up front", calls)
	}
}
