package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"vigilant-go/internal/apperr"
	"vigilant-go/internal/types"
)

const op = "transcription"

// Transcriber turns an audio artifact into a diarized, enriched transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, art types.Artifact) (types.Transcription, error)
}

type PublishResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		MediaId          string `json:"MediaId"`
		Status           string `json:"Status"`
		TranscriptionURL string `json:"TranscriptionURL"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

type StatusResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		Status               string `json:"Status"`
		TranscriptionTextURL string `json:"TranscriptionTextURL"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

// Client drives the publish, poll, download flow of the transcription
// service. Failed calls are not retried here.
type Client struct {
	Host         string
	HTTPClient   *http.Client
	PollInterval time.Duration
	MaxPolls     int
	Log          *logrus.Entry
}

func NewClient(host string, log *logrus.Entry) *Client {
	return &Client{
		Host:         strings.TrimRight(host, "/"),
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		PollInterval: 1500 * time.Millisecond,
		MaxPolls:     80,
		Log:          log,
	}
}

func (c *Client) Transcribe(ctx context.Context, art types.Artifact) (types.Transcription, error) {
	log := c.Log.WithField("artifact", art.ID)

	mediaID, readyURL, err := c.publish(ctx, art)
	if err != nil {
		return types.Transcription{}, err
	}
	if readyURL == "" {
		readyURL, err = c.poll(ctx, mediaID)
		if err != nil {
			return types.Transcription{}, err
		}
	}
	log.WithField("media_id", mediaID).Debug("download final transcript")

	var doc Document
	if err := c.getJSON(ctx, readyURL, &doc); err != nil {
		return types.Transcription{}, err
	}
	tr := Normalize(doc)
	log.WithFields(logrus.Fields{
		"utterances": len(tr.Utterances),
		"languages":  tr.Languages,
	}).Info("transcription complete")
	return tr, nil
}

func (c *Client) publish(ctx context.Context, art types.Artifact) (string, string, error) {
	f, err := art.Open()
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindDecodeFailure, op, fmt.Errorf("open artifact: %w", err))
	}
	defer f.Close()

	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)
	go func() {
		part, err := w.CreateFormFile("audio", "audio"+art.Format)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = w.WriteField("callType", "recording")
		}
		if err == nil {
			err = w.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host+"/transcribe", pr)
	if err != nil {
		pr.Close()
		return "", "", apperr.Wrap(apperr.KindUpstream, op, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp PublishResponse
	err = c.doJSON(ctx, req, &resp)
	pr.Close()
	if err != nil {
		return "", "", err
	}
	switch resp.Code {
	case http.StatusOK:
	case http.StatusUnsupportedMediaType:
		return "", "", apperr.Newf(apperr.KindUnsupportedFormat, op, "publish rejected format: %s", resp.Reason)
	case http.StatusUnprocessableEntity:
		return "", "", apperr.Newf(apperr.KindDecodeFailure, op, "publish could not decode audio: %s", resp.Reason)
	default:
		return "", "", apperr.Newf(apperr.KindUpstream, op, "publish error: code=%d reason=%s", resp.Code, resp.Reason)
	}
	if resp.Data.TranscriptionURL != "" && strings.EqualFold(resp.Data.Status, "success") {
		return resp.Data.MediaId, resp.Data.TranscriptionURL, nil
	}
	if resp.Data.MediaId == "" {
		return "", "", apperr.New(apperr.KindUpstream, op, "publish returned no media id")
	}
	return resp.Data.MediaId, "", nil
}

func (c *Client) poll(ctx context.Context, mediaID string) (string, error) {
	u, err := url.Parse(c.Host + "/getstatus")
	if err != nil {
		return "", apperr.Wrap(apperr.KindUpstream, op, err)
	}
	q := u.Query()
	q.Set("mediaId", mediaID)
	u.RawQuery = q.Encode()

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for i := 0; i < c.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return "", apperr.FromContext(ctx, op)
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return "", apperr.Wrap(apperr.KindUpstream, op, err)
		}
		var s StatusResponse
		if err := c.doJSON(ctx, req, &s); err != nil {
			return "", err
		}
		switch s.Data.Status {
		case "Success":
			if s.Data.TranscriptionTextURL == "" {
				return "", apperr.New(apperr.KindUpstream, op, "status Success without transcript url")
			}
			return s.Data.TranscriptionTextURL, nil
		case "Failed":
			return "", apperr.Newf(apperr.KindDecodeFailure, op, "transcription failed: %s", s.Reason)
		}
	}
	return "", apperr.Newf(apperr.KindTimeout, op, "transcript not ready after %d polls", c.MaxPolls)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, op, fmt.Errorf("download url: %w", err))
	}
	return c.doJSON(ctx, req, target)
}

func (c *Client) doJSON(ctx context.Context, req *http.Request, target any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if cerr := apperr.FromContext(ctx, op); cerr != nil {
			return cerr
		}
		return apperr.Wrap(apperr.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if cerr := apperr.FromContext(ctx, op); cerr != nil {
			return cerr
		}
		return apperr.Wrap(apperr.KindUpstream, op, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode >= 300 {
		return apperr.Newf(apperr.KindUpstream, op, "%s %s: status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, truncate(string(body), 200))
	}
	if len(body) == 0 {
		return apperr.Newf(apperr.KindUpstream, op, "%s %s: empty body", req.Method, req.URL.Path)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return apperr.Wrap(apperr.KindUpstream, op, fmt.Errorf("json decode error: %v body=%s", err, truncate(string(body), 200)))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
