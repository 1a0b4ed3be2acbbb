package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"vigilant-go/internal/apperr"
	"vigilant-go/internal/config"
	"vigilant-go/internal/pipeline"
)

// StatusClientClosedRequest is reported when the caller went away mid-run.
const StatusClientClosedRequest = 499

type errorBody struct {
	Detail string   `json:"detail"`
	Kind   string   `json:"kind,omitempty"`
	Stage  string   `json:"stage,omitempty"`
	Issues []string `json:"issues,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindUnsupportedFormat:
		return http.StatusBadRequest
	case apperr.KindDecodeFailure:
		return http.StatusUnprocessableEntity
	case apperr.KindQuotaExhausted:
		return http.StatusTooManyRequests
	case apperr.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, log *logrus.Entry, err error) {
	kind := apperr.KindOf(err)
	body := errorBody{Detail: err.Error(), Kind: string(kind)}
	var e *apperr.Error
	if errors.As(err, &e) {
		body.Detail = e.Message()
		body.Stage = e.Stage
	}
	if kind == apperr.KindValidation {
		body.Issues = config.Issues(err)
	}
	status := statusFor(kind)
	if status >= 500 {
		log.WithError(err).WithField("status", status).Warn("request failed")
	}
	writeJSON(w, status, body)
}

func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "read_body", err)
	}
	return raw, nil
}

// parseRequest reads the multipart form: audio_file and an optional
// client_config JSON string.
func (s *Server) parseRequest(w http.ResponseWriter, r *http.Request) (pipeline.Request, error) {
	const op = "parse_request"
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return pipeline.Request{}, apperr.Wrap(apperr.KindValidation, op, &config.ValidationError{
			Issues: []string{fmt.Sprintf("multipart form required: %v", err)},
		})
	}
	f, hdr, err := r.FormFile("audio_file")
	if err != nil {
		return pipeline.Request{}, apperr.Wrap(apperr.KindValidation, op, &config.ValidationError{
			Issues: []string{"'audio_file' is required."},
		})
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil {
		return pipeline.Request{}, apperr.Wrap(apperr.KindDecodeFailure, op, err)
	}

	override, err := config.ParseOverride([]byte(r.FormValue("client_config")))
	if err != nil {
		return pipeline.Request{}, err
	}

	format := filepath.Ext(hdr.Filename)
	if format == "" {
		format = hdr.Header.Get("Content-Type")
		if format == "application/octet-stream" {
			format = ""
		}
	}
	return pipeline.Request{
		Audio:      audio,
		Format:     format,
		Override:   override,
		ReceivedAt: s.now(),
	}, nil
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithRequest(r).WithField("handler", "analyze")
	req, err := s.parseRequest(w, r)
	if err != nil {
		writeError(w, log, err)
		return
	}
	rep, err := s.pipeline.Analyze(r.Context(), req)
	if err != nil {
		writeError(w, log, err)
		return
	}
	s.deliver(r.Context(), rep, log)
	writeJSON(w, http.StatusOK, rep)
}

// analyzeStream answers with server-sent events, one per stage transition.
// The event name is the status; data is the StageEvent JSON.
func (s *Server) analyzeStream(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithRequest(r).WithField("handler", "analyze_stream")
	req, err := s.parseRequest(w, r)
	if err != nil {
		writeError(w, log, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	gone := false
	// the channel is always drained to the end, even after the client left
	for ev := range s.pipeline.Stream(r.Context(), req) {
		if rep, ok := completedReport(ev); ok {
			s.deliver(r.Context(), rep, log)
		}
		if gone {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			log.WithError(err).Error("marshal stage event")
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Status, data); err != nil {
			gone = true
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
