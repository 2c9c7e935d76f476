package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"media-archive-search/internal/telemetry"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// ErrNoAccelerator is returned when the inference sidecar has no
// compatible accelerator. Model loading deliberately refuses a CPU
// fallback: running the encoder on a slower, lower-precision compute
// path would produce similarity scores that are not comparable with
// the indexed vectors.
var ErrNoAccelerator = errors.New("inference accelerator unavailable")

// Model names understood by the sidecar.
const (
	ModelEncoder   = "encoder"   // vision-language encoder for embeddings
	ModelExtractor = "extractor" // convolutional backbone for hash features
)

// Client talks to the local inference sidecar that hosts the
// vision-language encoder and the perceptual-hash feature extractor.
// One loaded model is a process-wide resource on the sidecar: the
// client carries no internal locking and concurrent inference calls
// against the same loaded model are the caller's responsibility to
// serialize.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	metrics     *telemetry.Metrics // nil disables duration recording
}

// HealthResponse reports sidecar status, the accelerator device it
// selected, and which models are currently resident.
type HealthResponse struct {
	Status       string   `json:"status"`
	Device       string   `json:"device"`
	LoadedModels []string `json:"loaded_models"`
	Version      string   `json:"version"`
}

type embedRequest struct {
	Model   string   `json:"model"`
	Prompts []string `json:"prompts"`
}

type embedResponse struct {
	Success    bool        `json:"success"`
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

type featureResponse struct {
	Success  bool      `json:"success"`
	Features []float32 `json:"features"`
	Error    string    `json:"error,omitempty"`
}

type loadResponse struct {
	Success bool   `json:"success"`
	Device  string `json:"device"`
	Error   string `json:"error,omitempty"`
}

// NewClient creates a sidecar client. rps bounds request rate;
// timeout covers a full batch inference call; metrics may be nil.
func NewClient(baseURL string, timeout time.Duration, rps int, metrics *telemetry.Metrics) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}
	if rps < 1 {
		rps = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "InferenceSidecar",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		breaker:     breaker,
		rateLimiter: rate.NewLimiter(rate.Limit(rps), rps),
		metrics:     metrics,
	}
}

// Health returns the sidecar health report.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference sidecar unhealthy: status %d", resp.StatusCode)
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}

	return &healthResp, nil
}

// LoadModel asks the sidecar to make a model accelerator-resident.
// Loading an already-loaded model is a no-op on the sidecar side.
// Fails with ErrNoAccelerator when the sidecar reports a CPU-only
// device.
func (c *Client) LoadModel(ctx context.Context, model string) error {
	health, err := c.Health(ctx)
	if err != nil {
		return err
	}
	if !acceleratorDevice(health.Device) {
		return fmt.Errorf("device %q: %w", health.Device, ErrNoAccelerator)
	}

	body, err := c.postJSON(ctx, "/models/"+model+"/load", nil)
	if err != nil {
		return err
	}

	var loadResp loadResponse
	if err := json.Unmarshal(body, &loadResp); err != nil {
		return fmt.Errorf("failed to decode load response: %w", err)
	}
	if !loadResp.Success {
		return fmt.Errorf("model load failed: %s", loadResp.Error)
	}
	if !acceleratorDevice(loadResp.Device) {
		return fmt.Errorf("model loaded on device %q: %w", loadResp.Device, ErrNoAccelerator)
	}
	return nil
}

// UnloadModel releases a model and its accelerator memory. Unloading
// a model that is not resident is a no-op.
func (c *Client) UnloadModel(ctx context.Context, model string) error {
	_, err := c.postJSON(ctx, "/models/"+model+"/unload", nil)
	return err
}

// EmbedPrompts runs the encoder over a batch of already-templated text
// prompts and returns one raw (un-normalized) vector per prompt, in
// input order.
func (c *Client) EmbedPrompts(ctx context.Context, prompts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: ModelEncoder, Prompts: prompts})
	if err != nil {
		return nil, err
	}

	body, err := c.postJSON(ctx, "/embed/text", payload)
	if err != nil {
		return nil, err
	}

	return decodeEmbeddings(body, len(prompts))
}

// EmbedImages runs the encoder over a batch of image files, each
// paired with the given captioning instruction. A single undecodable
// image fails the entire batch; no partial results are returned.
func (c *Client) EmbedImages(ctx context.Context, paths []string, instruction string) ([][]float32, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, path := range paths {
		if err := writeFilePart(writer, "images", path); err != nil {
			return nil, err
		}
	}
	writer.WriteField("model", ModelEncoder)
	writer.WriteField("instruction", instruction)
	writer.Close()

	body, err := c.postMultipart(ctx, "/embed/image", &buf, writer.FormDataContentType())
	if err != nil {
		return nil, err
	}

	return decodeEmbeddings(body, len(paths))
}

// ExtractFeatures runs the convolutional backbone over one image and
// returns the global-average-pooled feature vector. The sidecar
// inference path carries no randomness: the same image bytes and the
// same weights produce the same features every time.
func (c *Client) ExtractFeatures(ctx context.Context, path string) ([]float32, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writeFilePart(writer, "image", path); err != nil {
		return nil, err
	}
	writer.WriteField("model", ModelExtractor)
	writer.Close()

	body, err := c.postMultipart(ctx, "/features", &buf, writer.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var featResp featureResponse
	if err := json.Unmarshal(body, &featResp); err != nil {
		return nil, fmt.Errorf("failed to decode feature response: %w", err)
	}
	if !featResp.Success {
		return nil, fmt.Errorf("feature extraction failed: %s", featResp.Error)
	}
	if len(featResp.Features) == 0 {
		return nil, fmt.Errorf("feature extraction returned empty vector")
	}
	return featResp.Features, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload []byte) ([]byte, error) {
	return c.post(ctx, path, bytes.NewReader(payload), "application/json")
}

func (c *Client) postMultipart(ctx context.Context, path string, body io.Reader, contentType string) ([]byte, error) {
	return c.post(ctx, path, body, contentType)
}

func (c *Client) post(ctx context.Context, path string, body io.Reader, contentType string) ([]byte, error) {
	tracer := otel.Tracer("inference-client")
	ctx, span := tracer.Start(ctx, "inference.post")
	defer span.End()
	span.SetAttributes(attribute.String("inference.path", path))

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		c.metrics.RecordInference(ctx, path, time.Since(start).Seconds())
	}()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create inference request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("inference request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read inference response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			span.SetAttributes(attribute.Int("inference.status", resp.StatusCode))
			return nil, fmt.Errorf("inference request failed with status %d: %s", resp.StatusCode, string(respBody))
		}
		return respBody, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func decodeEmbeddings(body []byte, want int) ([][]float32, error) {
	var embedResp embedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if !embedResp.Success {
		return nil, fmt.Errorf("embedding failed: %s", embedResp.Error)
	}
	if len(embedResp.Embeddings) != want {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(embedResp.Embeddings), want)
	}
	return embedResp.Embeddings, nil
}

func writeFilePart(writer *multipart.Writer, field, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy image data: %w", err)
	}
	return nil
}

func acceleratorDevice(device string) bool {
	switch device {
	case "cuda", "mps", "rocm":
		return true
	}
	return false
}
