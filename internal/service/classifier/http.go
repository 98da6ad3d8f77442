package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strings"

	"github.com/zhouzirui/z-therapist/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-therapist/backend/internal/imaging"
)

// Score is one label/probability pair reported by a model server.
type Score struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type textRequest struct {
	Text string `json:"text"`
}

type textResponse struct {
	Emotions        []Score `json:"emotions"`
	DominantEmotion string  `json:"dominant_emotion"`
}

type faceResponse struct {
	FaceDetected    *bool   `json:"face_detected"`
	Emotions        []Score `json:"emotions"`
	DominantEmotion string  `json:"dominant_emotion"`
}

// HTTPClient talks to the emotion model servers.
type HTTPClient struct {
	baseURL string
	c       *http.Client
}

// NewHTTPClient targets baseURL; a nil client uses http.DefaultClient.
func NewHTTPClient(baseURL string, c *http.Client) *HTTPClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), c: c}
}

// HTTPText classifies text via POST {base}/detect.
type HTTPText struct{ *HTTPClient }

// NewHTTPText builds a text classifier.
func NewHTTPText(baseURL string, c *http.Client) *HTTPText {
	return &HTTPText{NewHTTPClient(baseURL, c)}
}

// ClassifyText implements TextClassifier.
func (h *HTTPText) ClassifyText(ctx context.Context, text string) (emotion.Reading, error) {
	b, _ := json.Marshal(textRequest{Text: text})
	var out textResponse
	if err := h.post(ctx, "/detect", "application/json", b, &out); err != nil {
		return emotion.Reading{}, err
	}
	return readingFromScores(out.DominantEmotion, out.Emotions), nil
}

// HTTPFace classifies frames via POST {base}/detect_face with a PNG body.
type HTTPFace struct{ *HTTPClient }

// NewHTTPFace builds a face classifier.
func NewHTTPFace(baseURL string, c *http.Client) *HTTPFace {
	return &HTTPFace{NewHTTPClient(baseURL, c)}
}

// ClassifyFace implements FaceClassifier.
func (h *HTTPFace) ClassifyFace(ctx context.Context, frame *imaging.Frame) (emotion.Reading, error) {
	if err := frame.Validate(); err != nil {
		return emotion.Reading{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame.Image()); err != nil {
		return emotion.Reading{}, fmt.Errorf("encode frame: %w", err)
	}

	var out faceResponse
	if err := h.post(ctx, "/detect_face", "image/png", buf.Bytes(), &out); err != nil {
		return emotion.Reading{}, err
	}
	if (out.FaceDetected != nil && !*out.FaceDetected) || strings.EqualFold(out.DominantEmotion, "no_face") {
		return emotion.Reading{}, ErrNoFaceDetected
	}
	return readingFromScores(out.DominantEmotion, out.Emotions), nil
}

func (h *HTTPClient) post(ctx context.Context, path, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := h.c.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: %s", ErrUnavailable, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s decode: %v", ErrUnavailable, path, err)
	}
	return nil
}

// readingFromScores picks the dominant label (or the best score when none is
// named) and its probability. Percentages are scaled to [0,1].
func readingFromScores(dominant string, scores []Score) emotion.Reading {
	best := -1
	for i, s := range scores {
		if best < 0 || s.Score > scores[best].Score {
			best = i
		}
	}
	if strings.TrimSpace(dominant) == "" {
		if best < 0 {
			return emotion.NeutralReading()
		}
		dominant = scores[best].Label
	}

	label := emotion.Normalize(dominant)
	if len(scores) == 0 {
		return emotion.Reading{Label: label}
	}

	percent := false
	for _, s := range scores {
		if s.Score > 1 {
			percent = true
			break
		}
	}
	for _, s := range scores {
		if emotion.Normalize(s.Label) != label {
			continue
		}
		conf := s.Score
		if percent {
			conf /= 100
		}
		return emotion.NewReading(label, conf)
	}
	return emotion.Reading{Label: label}
}
