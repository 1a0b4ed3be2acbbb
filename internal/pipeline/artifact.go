package pipeline

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"vigilant-go/internal/apperr"
	"vigilant-go/internal/types"
)

// SupportedFormats are the audio container extensions accepted at ingest.
var SupportedFormats = []string{".mp3", ".wav", ".ogg", ".m4a", ".flac", ".webm", ".mp4"}

var mimeFormats = map[string]string{
	"audio/mpeg":      ".mp3",
	"audio/mp3":       ".mp3",
	"audio/wav":       ".wav",
	"audio/wave":      ".wav",
	"audio/x-wav":     ".wav",
	"audio/ogg":       ".ogg",
	"application/ogg": ".ogg",
	"audio/mp4":       ".m4a",
	"audio/m4a":       ".m4a",
	"audio/x-m4a":     ".m4a",
	"audio/flac":      ".flac",
	"audio/x-flac":    ".flac",
	"audio/webm":      ".webm",
	"video/webm":      ".webm",
	"video/mp4":       ".mp4",
}

// DetectFormat resolves the declared format (extension, file name or MIME
// type) to a supported extension, sniffing the content when nothing was
// declared.
func DetectFormat(declared string, audio []byte) (string, error) {
	const op = "ingest"
	if len(audio) == 0 {
		return "", apperr.New(apperr.KindDecodeFailure, op, "audio is empty")
	}

	d := strings.ToLower(strings.TrimSpace(declared))
	if d == "" {
		d = sniff(audio)
	}
	var ext string
	switch {
	case strings.Contains(d, "/"):
		if mt, _, err := mime.ParseMediaType(d); err == nil {
			d = mt
		}
		ext = mimeFormats[d]
	case strings.HasPrefix(d, "."):
		ext = d
	case filepath.Ext(d) != "":
		ext = filepath.Ext(d)
	default:
		ext = "." + d
	}
	for _, f := range SupportedFormats {
		if ext == f {
			return ext, nil
		}
	}
	if declared == "" {
		return "", apperr.Newf(apperr.KindUnsupportedFormat, op, "could not recognise audio content (%s)", d)
	}
	return "", apperr.Newf(apperr.KindUnsupportedFormat, op, "unsupported format %q; supported: %s",
		declared, strings.Join(SupportedFormats, ", "))
}

func sniff(audio []byte) string {
	if bytes.HasPrefix(audio, []byte("fLaC")) {
		return "audio/flac"
	}
	// ISO base media: m4a and mp4 share the ftyp box
	if len(audio) >= 12 && string(audio[4:8]) == "ftyp" {
		if brand := string(audio[8:12]); strings.HasPrefix(brand, "M4A") {
			return "audio/mp4"
		}
		return "video/mp4"
	}
	return http.DetectContentType(audio)
}

// ArtifactStore materialises request audio for the adapters. Release is
// called exactly once per acquired artifact.
type ArtifactStore interface {
	Acquire(id, format string, audio []byte) (types.Artifact, error)
	Release(types.Artifact) error
}

// TempDirStore keeps artifacts as files under Dir (os.TempDir when empty).
type TempDirStore struct {
	Dir string
}

func (s TempDirStore) Acquire(id, format string, audio []byte) (types.Artifact, error) {
	f, err := os.CreateTemp(s.Dir, id+"-*"+format)
	if err != nil {
		return types.Artifact{}, fmt.Errorf("create artifact: %w", err)
	}
	if _, err := f.Write(audio); err != nil {
		f.Close()
		os.Remove(f.Name())
		return types.Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return types.Artifact{}, fmt.Errorf("close artifact: %w", err)
	}
	return types.Artifact{ID: id, Path: f.Name(), Format: format, Size: int64(len(audio))}, nil
}

func (s TempDirStore) Release(a types.Artifact) error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}
