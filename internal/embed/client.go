// Package embed talks to the external face embedding service. The neural
// network turning a face crop into a vector is a black box behind an HTTP
// API; this package only carries frames there and detections back.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"face-attendance-go/config"

	log "github.com/sirupsen/logrus"
)

var logFields = log.Fields{
	"component": "embed",
}

// ErrDetectionFailed marks a face region whose embedding extraction failed.
// It is scoped to the region: other faces in the same frame are unaffected.
var ErrDetectionFailed = errors.New("face detection failed")

// Detection is one detected face region in a frame. Err is set when the
// service found a face but could not produce a usable embedding for it.
type Detection struct {
	BoundingBox []int
	Confidence  float64
	Embedding   []float64
	Err         error
}

// Client is an HTTP client for an InsightFace-style embedding service.
type Client struct {
	cfg        config.EmbedderConfig
	httpClient *http.Client
}

type apiInfoResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend"`
}

type apiDetectResponse struct {
	Status     string `json:"status"`
	FacesCount int    `json:"faces_count"`
	Faces      []struct {
		BoundingBox []int     `json:"bbox"`
		Confidence  float64   `json:"confidence"`
		Embedding   []float64 `json:"embedding,omitempty"`
	} `json:"faces"`
	ProcessTime float64 `json:"process_time"`
}

// NewClient creates a client for the configured embedding service.
func NewClient(cfg config.EmbedderConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Ping checks that the embedding service is reachable and healthy.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/info", nil)
	if err != nil {
		return fmt.Errorf("failed to build info request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service returned status %d", resp.StatusCode)
	}

	var info apiInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("failed to decode info response: %w", err)
	}
	if info.Status != "ok" {
		return fmt.Errorf("embedding service reported status %q", info.Status)
	}
	return nil
}

// DetectAndEmbed uploads one JPEG frame and returns the detected face
// regions with their embeddings. A region the service detected but could not
// embed comes back with Err set rather than failing the whole frame.
func (c *Client) DetectAndEmbed(ctx context.Context, frame []byte) ([]Detection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(frame)); err != nil {
		return nil, fmt.Errorf("failed to copy frame data: %w", err)
	}
	if err := writer.WriteField("det_prob_threshold", strconv.FormatFloat(c.cfg.DetectionProb, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("failed to write form field: %w", err)
	}
	if err := writer.WriteField("extract_embedding", "true"); err != nil {
		return nil, fmt.Errorf("failed to write form field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/detect", body)
	if err != nil {
		return nil, fmt.Errorf("failed to build detect request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(data))
	}

	var detectResp apiDetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&detectResp); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}

	detections := make([]Detection, 0, len(detectResp.Faces))
	for _, f := range detectResp.Faces {
		d := Detection{
			BoundingBox: f.BoundingBox,
			Confidence:  f.Confidence,
			Embedding:   f.Embedding,
		}
		if len(f.Embedding) == 0 {
			d.Err = ErrDetectionFailed
		}
		detections = append(detections, d)
	}

	log.WithFields(logFields).Debugf("Detected %d faces in %.0fms",
		len(detections), detectResp.ProcessTime*1000)
	return detections, nil
}
