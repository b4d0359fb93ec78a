package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/speakassist/internal/history"
)

func TestJournal_RecordAndRecent(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var want []history.Turn
	for i, c := range []string{"one", "two", "three"} {
		turn := history.Turn{ID: c, Role: history.RoleUser, Content: c, Timestamp: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, j.Record(ctx, turn))
		want = append(want, turn)
	}
	// duplicates are ignored
	require.NoError(t, j.Record(ctx, want[0]))

	got, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	if diff := cmp.Diff(want[1:], got); diff != "" {
		t.Fatalf("recent mismatch (-want +got):\n%s", diff)
	}
}

func TestJournal_BacksHistoryWindow(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer j.Close()

	w := history.NewWindow(j, nil)
	w.Append(history.NewTurn(history.RoleUser, "persist me"))
	w.Append(history.NewTurn(history.RoleAssistant, "and me"))

	got, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "persist me", got[0].Content)
	assert.Equal(t, history.RoleAssistant, got[1].Role)
}

func TestJournal_ClearSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	j, err := OpenJournal(path)
	require.NoError(t, err)

	w := history.NewWindow(j, nil)
	w.Append(history.NewTurn(history.RoleUser, "forget me"))
	w.Clear()
	require.NoError(t, j.Close())

	j, err = OpenJournal(path)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got, "cleared turns must not come back on restart")
}

type fakeUploader struct {
	key  string
	ct   string
	data []byte
	err  error
}

func (f *fakeUploader) Upload(key, contentType string, data []byte) error {
	f.key, f.ct, f.data = key, contentType, data
	return f.err
}

func TestArchive_Save(t *testing.T) {
	up := &fakeUploader{}
	a := NewArchive(up)
	a.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }

	turns := []history.Turn{{ID: "t1", Role: history.RoleUser, Content: "hello there"}}
	key, err := a.Save(context.Background(), "abc", "hello there", turns)
	require.NoError(t, err)
	assert.Equal(t, "transcripts/2026/10/19/abc.json", key)
	assert.Equal(t, key, up.key)
	assert.Equal(t, "application/json", up.ct)

	var rec TranscriptRecord
	require.NoError(t, json.Unmarshal(up.data, &rec))
	assert.Equal(t, "hello there", rec.Transcript)
	assert.Len(t, rec.Turns, 1)
}

func TestArchive_SkipsEmptyAndPropagatesErrors(t *testing.T) {
	up := &fakeUploader{}
	key, err := NewArchive(up).Save(context.Background(), "abc", "", nil)
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Empty(t, up.key)

	up.err = errors.New("bucket not found")
	_, err = NewArchive(up).Save(context.Background(), "abc", "text", nil)
	assert.Error(t, err)
}

func TestNewSupabaseStorage_RequiresConfig(t *testing.T) {
	_, err := NewSupabaseStorage("", "", "bucket")
	assert.Error(t, err)
}

func TestSupabaseStorage_UploadSendsContentType(t *testing.T) {
	var gotPath, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Key":"transcripts/a.txt"}`))
	}))
	defer srv.Close()

	up, err := NewSupabaseStorage(srv.URL, "service-key", "archive")
	require.NoError(t, err)
	require.NoError(t, up.Upload("transcripts/a.txt", "text/plain", []byte("hello")))

	assert.Equal(t, "/storage/v1/object/archive/transcripts/a.txt", gotPath)
	assert.Equal(t, "text/plain", gotType)
	assert.Equal(t, "hello", gotBody)
}
