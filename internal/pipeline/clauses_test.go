package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vigilant-go/internal/apperr"
	"vigilant-go/internal/config"
	"vigilant-go/internal/types"
)

func TestCheckTime_Window(t *testing.T) {
	day := func(h, m int) time.Time { return time.Date(2026, 2, 20, h, m, 0, 0, time.UTC) }
	cases := []struct {
		ts        time.Time
		violation bool
		local     string
	}{
		{day(7, 59), true, "07:59"},
		{day(8, 0), false, "08:00"},
		{day(18, 59), false, "18:59"},
		{day(19, 0), true, "19:00"},
		{day(0, 0), true, "00:00"},
	}
	for _, tc := range cases {
		got := CheckTime(tc.ts, 0)
		assert.Equal(t, tc.violation, got.Violation, tc.local)
		assert.Equal(t, tc.local, got.LocalTime)
		assert.Equal(t, "INTERNAL-TIME-01", got.ClauseID)
	}
}

func TestCheckTime_AppliesOffset(t *testing.T) {
	// 02:29 UTC is 07:59 IST, 02:30 UTC is 08:00 IST
	early := CheckTime(time.Date(2026, 2, 20, 2, 29, 0, 0, time.UTC), DefaultUTCOffset)
	assert.True(t, early.Violation)
	assert.Contains(t, early.Description, "morning")

	open := CheckTime(time.Date(2026, 2, 20, 2, 30, 0, 0, time.UTC), DefaultUTCOffset)
	assert.False(t, open.Violation)

	late := CheckTime(time.Date(2026, 2, 20, 13, 30, 0, 0, time.UTC), DefaultUTCOffset)
	assert.True(t, late.Violation)
	assert.Equal(t, "19:00", late.LocalTime)
	assert.Contains(t, late.Description, "evening")

	// the timestamp's own zone must not matter
	ist := time.FixedZone("IST", 19800)
	assert.Equal(t, early, CheckTime(time.Date(2026, 2, 20, 7, 59, 0, 0, ist), DefaultUTCOffset))
}

func TestMergeClauses(t *testing.T) {
	catalogue := []types.Clause{{ID: "A"}, {ID: "B"}, {ID: "C"}}
	retrieved := [][]types.Clause{
		{{ID: "B"}, {ID: "X"}},
		{{ID: "X"}, {ID: "Y"}, {ID: "A"}},
		nil,
	}
	custom := []config.Rule{{RuleID: "T1", RuleName: "Tenant"}, {RuleID: "A", RuleName: "shadowed"}}

	set := MergeClauses(catalogue, retrieved, custom)

	ids := func(cs []types.Clause) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.ID)
		}
		return out
	}
	assert.Equal(t, []string{"B", "X", "Y", "A"}, ids(set.Relevant))
	assert.Equal(t, []string{"A", "B", "C", "X", "Y", "T1"}, ids(set.All))
	assert.Equal(t, SourceClientConfig, set.All[5].Source)
	assert.Subset(t, ids(set.All), ids(catalogue))
}

func TestMergeClauses_EmptyRetrievalKeepsCatalogue(t *testing.T) {
	set := MergeClauses([]types.Clause{{ID: "A"}}, nil, nil)
	assert.Len(t, set.All, 1)
	assert.Empty(t, set.Relevant)
}

func TestRetrievalQueries(t *testing.T) {
	us := []types.Utterance{
		{Speaker: types.SpeakerCustomer, Text: "hello"},
		{Speaker: types.SpeakerAgent, Text: " pay now "},
		{Speaker: types.SpeakerAgent, Text: "   "},
	}
	assert.Equal(t, []string{"pay now"}, retrievalQueries(us))

	noAgent := []types.Utterance{
		{Speaker: types.SpeakerCustomer, Text: "hello"},
		{Speaker: types.SpeakerUnknown, Text: "who is this"},
	}
	assert.Equal(t, []string{"hello", "who is this"}, retrievalQueries(noAgent))
	assert.Empty(t, retrievalQueries(nil))
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		declared string
		audio    []byte
		want     string
		kind     apperr.Kind
	}{
		{"mp3", []byte("x"), ".mp3", ""},
		{".WAV", []byte("x"), ".wav", ""},
		{"recording.m4a", []byte("x"), ".m4a", ""},
		{"audio/mpeg", []byte("x"), ".mp3", ""},
		{"audio/ogg; codecs=opus", []byte("x"), ".ogg", ""},
		{"", []byte("ID3\x03\x00\x00\x00\x00\x00\x00"), ".mp3", ""},
		{"", wavBytes, ".wav", ""},
		{"", []byte("fLaC\x00\x00\x00\x22"), ".flac", ""},
		{"", []byte("OggS\x00\x02\x00\x00\x00\x00\x00\x00\x00\x00"), ".ogg", ""},
		{"", []byte("\x00\x00\x00\x20ftypM4A \x00\x00\x00\x00"), ".m4a", ""},
		{"", []byte("\x00\x00\x00\x20ftypisom\x00\x00\x00\x00"), ".mp4", ""},
		{".aac", []byte("x"), "", apperr.KindUnsupportedFormat},
		{"text/plain", []byte("x"), "", apperr.KindUnsupportedFormat},
		{"", []byte("just some text"), "", apperr.KindUnsupportedFormat},
		{".mp3", nil, "", apperr.KindDecodeFailure},
	}
	for _, tc := range cases {
		got, err := DetectFormat(tc.declared, tc.audio)
		if tc.kind != "" {
			assert.Equal(t, tc.kind, apperr.KindOf(err), "%q", tc.declared)
			continue
		}
		if assert.NoError(t, err, "%q", tc.declared) {
			assert.Equal(t, tc.want, got, "%q", tc.declared)
		}
	}
}
