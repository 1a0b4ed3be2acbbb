// Package acoustic reaches the acoustic analysis service and turns its
// per-window features into typed segments.
package acoustic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"vigilant-go/internal/apperr"
	"vigilant-go/internal/types"
)

const (
	WindowSize = 10 * time.Second

	highEnergy   = 0.65
	mediumEnergy = 0.35
	highPitchHz  = 210.0
)

// Analyzer produces one segment per fixed analysis window.
type Analyzer interface {
	Analyze(ctx context.Context, art types.Artifact) ([]types.AcousticSegment, error)
}

// ClassifyArousal maps energy and pitch to an arousal label. An unvoiced
// window can never be High.
func ClassifyArousal(energy float64, pitchHz *float64) types.Arousal {
	if energy >= highEnergy && pitchHz != nil && *pitchHz >= highPitchHz {
		return types.ArousalHigh
	}
	if energy >= mediumEnergy {
		return types.ArousalMedium
	}
	return types.ArousalLow
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Log        *logrus.Entry
}

func NewClient(baseURL string, log *logrus.Entry) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
		Log:        log,
	}
}

type segmentDTO struct {
	StartSeconds float64  `json:"start_seconds"`
	Energy       float64  `json:"energy_score"`
	PitchHz      *float64 `json:"pitch_hz"`
	ZCR          float64  `json:"zcr"`
	Arousal      string   `json:"acoustic_arousal"`
}

type analyzeResponse struct {
	Segments []segmentDTO `json:"segments"`
}

func (c *Client) Analyze(ctx context.Context, art types.Artifact) ([]types.AcousticSegment, error) {
	const op = "acoustic"

	f, err := art.Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDecodeFailure, op, fmt.Errorf("open artifact: %w", err))
	}
	defer f.Close()

	// stream the upload instead of buffering the recording
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("audio", "audio"+art.Format)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.WriteField("format", strings.TrimPrefix(art.Format, "."))
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/analyze", pr)
	if err != nil {
		pr.Close()
		return nil, apperr.Wrap(apperr.KindUpstream, op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		pr.Close()
		if cerr := apperr.FromContext(ctx, op); cerr != nil {
			return nil, cerr
		}
		return nil, apperr.Wrap(apperr.KindOf(err), op, fmt.Errorf("acoustic request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if cerr := apperr.FromContext(ctx, op); cerr != nil {
			return nil, cerr
		}
		return nil, apperr.Wrap(apperr.KindUpstream, op, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnsupportedMediaType:
		return nil, apperr.Newf(apperr.KindUnsupportedFormat, op, "format %s rejected: %s", art.Format, snippet(body))
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, apperr.Newf(apperr.KindDecodeFailure, op, "audio could not be decoded: %s", snippet(body))
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, apperr.Newf(apperr.KindTimeout, op, "analysis timed out upstream")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, apperr.Newf(apperr.KindUpstream, op, "status %d: %s", resp.StatusCode, snippet(body))
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, op, fmt.Errorf("decode response: %w", err))
	}

	segs := make([]types.AcousticSegment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		segs = append(segs, toSegment(s))
	}
	c.Log.WithFields(logrus.Fields{
		"artifact":    art.ID,
		"segments":    len(segs),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("acoustic analysis complete")
	return segs, nil
}

func toSegment(s segmentDTO) types.AcousticSegment {
	pitch := s.PitchHz
	if pitch != nil && *pitch <= 0 {
		pitch = nil
	}
	seg := types.AcousticSegment{
		Start:   time.Duration(s.StartSeconds * float64(time.Second)),
		Energy:  clamp01(s.Energy),
		PitchHz: pitch,
		ZCR:     s.ZCR,
	}
	switch a := types.Arousal(s.Arousal); a {
	case types.ArousalLow, types.ArousalMedium, types.ArousalHigh:
		seg.Arousal = a
	default:
		seg.Arousal = ClassifyArousal(seg.Energy, seg.PitchHz)
	}
	return seg
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// Mock returns deterministic segments derived from the artifact size, one
// per window, so local runs need no analysis service.
type Mock struct{}

func (Mock) Analyze(ctx context.Context, art types.Artifact) ([]types.AcousticSegment, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.FromContext(ctx, "acoustic")
	}
	if art.Size == 0 {
		return nil, apperr.New(apperr.KindDecodeFailure, "acoustic", "artifact is empty")
	}
	// roughly 16kB per second of compressed speech
	windows := int(art.Size/(16*1024*10)) + 1
	if windows > 30 {
		windows = 30
	}
	segs := make([]types.AcousticSegment, windows)
	for i := range segs {
		energy := 0.3 + 0.1*float64(i%5)
		pitch := 150.0 + 20*float64(i%4)
		segs[i] = types.AcousticSegment{
			Start:   time.Duration(i) * WindowSize,
			Energy:  energy,
			PitchHz: &pitch,
			ZCR:     0.05,
			Arousal: ClassifyArousal(energy, &pitch),
		}
	}
	return segs, nil
}
