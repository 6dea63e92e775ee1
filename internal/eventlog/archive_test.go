package eventlog

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/oszuidwest/zwfm-levelmon/internal/types"
)

// fakeStore keeps uploaded objects in memory and serves them back in pages.
type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	bucket   string
	lastKey  string
	err      error
	pageSize int
}

func newFakeStore(keys ...string) *fakeStore {
	f := &fakeStore{objects: map[string][]byte{}, pageSize: 2}
	for _, k := range keys {
		f.objects[k] = []byte("{}")
	}
	return f
}

func (f *fakeStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucket = *in.Bucket
	f.lastKey = *in.Key
	f.objects[*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeStore) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	// The token is the last key of the previous page, so deletions between
	// pages do not shift the listing.
	start := 0
	if in.ContinuationToken != nil {
		start, _ = slices.BinarySearch(keys, *in.ContinuationToken+"\x00")
	}
	end := min(start+f.pageSize, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	return out, nil
}

func (f *fakeStore) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func newTestArchiver(t *testing.T, store *fakeStore) *Archiver {
	t.Helper()
	a, err := NewArchiver(newTestLogger(t), S3Config{
		Bucket:          "station-logs",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Prefix:          "levelmon/",
		RetentionDays:   30,
	})
	if err != nil {
		t.Fatalf("new archiver: %v", err)
	}
	a.client = store
	a.now = func() time.Time { return time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC) }
	return a
}

func TestNewArchiverRequiresConfig(t *testing.T) {
	if _, err := NewArchiver(newTestLogger(t), S3Config{Bucket: "b"}); !errors.Is(err, ErrArchiveNotConfigured) {
		t.Errorf("expected ErrArchiveNotConfigured, got %v", err)
	}
}

func TestArchiveUploadsLog(t *testing.T) {
	store := newFakeStore()
	a := newTestArchiver(t, store)
	a.logger.OnLifecycle(types.LifecycleEvent{Type: types.MonitorStarted, Source: types.SourceSystem, Time: time.Now()})

	key, err := a.Archive(context.Background())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if key != "levelmon/events-2026-05-04T030201Z.jsonl" {
		t.Errorf("unexpected key %q", key)
	}
	if store.bucket != "station-logs" || store.lastKey != key {
		t.Errorf("unexpected upload target %s/%s", store.bucket, store.lastKey)
	}
	if len(store.objects[key]) == 0 {
		t.Error("expected log contents uploaded")
	}

	events, _, err := ReadLast(a.logger.Path(), 1, 0, FilterAll)
	if err != nil || len(events) != 1 || events[0].Type != ArchiveCompleted {
		t.Errorf("expected archive_completed event, got %v %v", events, err)
	}
}

func TestArchiveRecordsFailure(t *testing.T) {
	a := newTestArchiver(t, &fakeStore{objects: map[string][]byte{}, err: errors.New("access denied")})

	if _, err := a.Archive(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
	events, _, err := ReadLast(a.logger.Path(), 1, 0, FilterFailure)
	if err != nil || len(events) != 1 || events[0].Type != ArchiveFailed {
		t.Errorf("expected archive_failed event, got %v %v", events, err)
	}
}

func TestPruneRemovesExpiredArchives(t *testing.T) {
	store := newFakeStore(
		"levelmon/events-2026-01-10T030000Z.jsonl",
		"levelmon/events-2026-03-01T030000Z.jsonl",
		"levelmon/events-2026-04-03T030000Z.jsonl",
		"levelmon/events-2026-05-03T030000Z.jsonl",
		"levelmon/notes.txt",
		"other/events-2020-01-01T000000Z.jsonl",
	)
	a := newTestArchiver(t, store)

	deleted, err := a.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deletions, got %d", deleted)
	}
	for key, want := range map[string]bool{
		"levelmon/events-2026-01-10T030000Z.jsonl": false,
		"levelmon/events-2026-03-01T030000Z.jsonl": false,
		"levelmon/events-2026-04-03T030000Z.jsonl": false,
		"levelmon/events-2026-05-03T030000Z.jsonl": true,
		"levelmon/notes.txt":                       true,
		"other/events-2020-01-01T000000Z.jsonl":    true,
	} {
		if store.has(key) != want {
			t.Errorf("%s: expected present=%v", key, want)
		}
	}
}

func TestPruneKeepsForeverWithoutRetention(t *testing.T) {
	store := newFakeStore("levelmon/events-2000-01-01T000000Z.jsonl")
	a := newTestArchiver(t, store)
	a.cfg.RetentionDays = 0

	if deleted, err := a.Prune(context.Background()); err != nil || deleted != 0 {
		t.Errorf("expected no deletions, got %d %v", deleted, err)
	}
}

func TestNextRun(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		now, want time.Time
	}{
		{time.Date(2026, 5, 4, 1, 0, 0, 0, loc), time.Date(2026, 5, 4, 3, 0, 0, 0, loc)},
		{time.Date(2026, 5, 4, 3, 0, 0, 0, loc), time.Date(2026, 5, 5, 3, 0, 0, 0, loc)},
		{time.Date(2026, 5, 4, 22, 30, 0, 0, loc), time.Date(2026, 5, 5, 3, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		if got := nextRun(tt.now); !got.Equal(tt.want) {
			t.Errorf("nextRun(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestScheduleStop(t *testing.T) {
	a := newTestArchiver(t, newFakeStore())
	a.StartSchedule()
	a.Stop()
	a.Stop()
}
