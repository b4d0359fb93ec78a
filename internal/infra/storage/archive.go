package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"

	"github.com/chadiek/speakassist/internal/history"
)

// Uploader stores an object under key.
type Uploader interface {
	Upload(key, contentType string, data []byte) error
}

// SupabaseStorage uploads objects to a Supabase Storage bucket.
type SupabaseStorage struct {
	client *supabase.Client
	bucket string
}

// NewSupabaseStorage constructs a Supabase storage client.
func NewSupabaseStorage(url, serviceRoleKey, bucket string) (*SupabaseStorage, error) {
	if url == "" || serviceRoleKey == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	client, err := supabase.NewClient(url, serviceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseStorage{client: client, bucket: bucket}, nil
}

func (s *SupabaseStorage) Upload(key, contentType string, data []byte) error {
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data), storage_go.FileOptions{ContentType: &contentType})
	if err != nil {
		return fmt.Errorf("failed to upload to Supabase: %w", err)
	}
	return nil
}

// TranscriptRecord is the archived form of one finished session.
type TranscriptRecord struct {
	SessionID  string         `json:"sessionId"`
	EndedAt    time.Time      `json:"endedAt"`
	Transcript string         `json:"transcript"`
	Turns      []history.Turn `json:"turns"`
}

// Archive writes finished session transcripts as JSON objects.
type Archive struct {
	up  Uploader
	now func() time.Time
}

func NewArchive(up Uploader) *Archive {
	return &Archive{up: up, now: time.Now}
}

// Key returns the object key for a session ended at t.
func Key(sessionID string, t time.Time) string {
	t = t.UTC()
	return path.Join("transcripts", t.Format("2006/01/02"), sessionID+".json")
}

// Save uploads the transcript. Empty transcripts are skipped.
func (a *Archive) Save(ctx context.Context, sessionID, transcript string, turns []history.Turn) (string, error) {
	if transcript == "" {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec := TranscriptRecord{SessionID: sessionID, EndedAt: a.now().UTC(), Transcript: transcript, Turns: turns}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	key := Key(sessionID, rec.EndedAt)
	if err := a.up.Upload(key, "application/json", b); err != nil {
		return "", err
	}
	return key, nil
}
