package acoustic

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigilant-go/internal/apperr"
	"vigilant-go/internal/logger"
	"vigilant-go/internal/types"
)

func ptr(f float64) *float64 { return &f }

func TestClassifyArousal(t *testing.T) {
	cases := []struct {
		energy float64
		pitch  *float64
		want   types.Arousal
	}{
		{0.65, ptr(210), types.ArousalHigh},
		{0.9, ptr(300), types.ArousalHigh},
		{0.9, ptr(209.9), types.ArousalMedium},
		{0.9, nil, types.ArousalMedium},
		{0.35, ptr(100), types.ArousalMedium},
		{0.349, ptr(400), types.ArousalLow},
		{0, nil, types.ArousalLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyArousal(tc.energy, tc.pitch), "energy=%v", tc.energy)
	}
}

func artifact(t *testing.T, content string) types.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return types.Artifact{ID: "art-1", Path: path, Format: ".wav", Size: int64(len(content))}
}

func TestClient_Analyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		f, _, err := r.FormFile("audio")
		require.NoError(t, err)
		b, _ := io.ReadAll(f)
		assert.Equal(t, "RIFFdata", string(b))
		assert.Equal(t, "wav", r.FormValue("format"))

		_, _ = w.Write([]byte(`{"segments":[
			{"start_seconds":0,"energy_score":0.8,"pitch_hz":250,"zcr":0.1,"acoustic_arousal":"High"},
			{"start_seconds":10,"energy_score":0.4,"pitch_hz":0,"zcr":0.05},
			{"start_seconds":20,"energy_score":1.7,"pitch_hz":null,"zcr":0.02,"acoustic_arousal":"weird"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.Discard().Entry)
	segs, err := c.Analyze(context.Background(), artifact(t, "RIFFdata"))
	require.NoError(t, err)
	require.Len(t, segs, 3)

	assert.Equal(t, types.ArousalHigh, segs[0].Arousal)
	assert.Equal(t, 250.0, *segs[0].PitchHz)

	assert.Equal(t, 10*time.Second, segs[1].Start)
	assert.Nil(t, segs[1].PitchHz, "zero pitch means unvoiced")
	assert.Equal(t, types.ArousalMedium, segs[1].Arousal, "derived when missing")

	assert.Equal(t, 1.0, segs[2].Energy, "energy clamped")
	assert.Equal(t, types.ArousalMedium, segs[2].Arousal)
}

func TestClient_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   apperr.Kind
	}{
		{http.StatusUnsupportedMediaType, apperr.KindUnsupportedFormat},
		{http.StatusUnprocessableEntity, apperr.KindDecodeFailure},
		{http.StatusGatewayTimeout, apperr.KindTimeout},
		{http.StatusInternalServerError, apperr.KindUpstream},
		{http.StatusTooManyRequests, apperr.KindUpstream},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(tc.status)
		}))
		_, err := NewClient(srv.URL, logger.Discard().Entry).Analyze(context.Background(), artifact(t, "x"))
		srv.Close()
		assert.Equal(t, tc.want, apperr.KindOf(err), "status %d", tc.status)
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := NewClient(srv.URL, logger.Discard().Entry).Analyze(ctx, artifact(t, "x"))
	assert.Equal(t, apperr.KindCanceled, apperr.KindOf(err))
}

func TestClient_MissingArtifact(t *testing.T) {
	_, err := NewClient("http://unused", logger.Discard().Entry).Analyze(context.Background(),
		types.Artifact{Path: filepath.Join(t.TempDir(), "gone.wav"), Format: ".wav"})
	assert.Equal(t, apperr.KindDecodeFailure, apperr.KindOf(err))
}

func TestMock_Deterministic(t *testing.T) {
	art := types.Artifact{ID: "a", Path: "x.mp3", Format: ".mp3", Size: 400 * 1024}
	a, err := Mock{}.Analyze(context.Background(), art)
	require.NoError(t, err)
	b, err := Mock{}.Analyze(context.Background(), art)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 3)
	assert.Equal(t, 20*time.Second, a[2].Start)

	_, err = Mock{}.Analyze(context.Background(), types.Artifact{Format: ".mp3"})
	assert.Equal(t, apperr.KindDecodeFailure, apperr.KindOf(err))
}
