// Package ingest loads scraped questions into the run pipeline.
//
// Scraping itself happens elsewhere; adapters here read what scrapers
// produced and hand over model.Question values with platform, text,
// engagement counters, external id and timestamps populated.
package ingest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/abelbrown/curiosity/internal/logging"
	"github.com/abelbrown/curiosity/internal/model"
)

// ErrInvalidRecord marks an input record that cannot become a question.
var ErrInvalidRecord = errors.New("ingest: invalid record")

// Source supplies questions created at or after since.
type Source interface {
	Name() string
	Ingest(ctx context.Context, since time.Time) ([]model.Question, error)
}

// record is the on-disk shape. YAML is a superset of JSON, so one decoder
// reads both.
type record struct {
	ID        string `yaml:"id"`
	Platform  string `yaml:"platform"`
	Text      string `yaml:"text"`
	Upvotes   int    `yaml:"upvotes"`
	Comments  int    `yaml:"comments"`
	Views     int    `yaml:"views"`
	CreatedAt string `yaml:"created_at"`
	URL       string `yaml:"url"`
}

// envelope allows {questions: [...]} as well as a bare list.
type envelope struct {
	Questions []record `yaml:"questions"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// LoadFile reads questions from a YAML or JSON file holding either a list
// of records or an object with a "questions" list.
func LoadFile(path string) ([]model.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", path, err)
	}
	qs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("ingest: %s: %w", path, err)
	}
	return qs, nil
}

// Parse decodes questions from YAML or JSON bytes.
func Parse(data []byte) ([]model.Question, error) {
	var records []record
	if err := yaml.Unmarshal(data, &records); err != nil {
		var env envelope
		if envErr := yaml.Unmarshal(data, &env); envErr != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		records = env.Questions
	}

	now := time.Now().UTC()
	out := make([]model.Question, 0, len(records))
	for i, r := range records {
		q, err := r.question(now)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, q)
	}
	return out, nil
}

func (r record) question(now time.Time) (model.Question, error) {
	platform := strings.ToLower(strings.TrimSpace(r.Platform))
	if platform == "" {
		return model.Question{}, fmt.Errorf("%w: missing platform", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Text) == "" {
		return model.Question{}, fmt.Errorf("%w: missing text", ErrInvalidRecord)
	}
	if r.Comments < 0 || r.Views < 0 {
		return model.Question{}, fmt.Errorf("%w: negative engagement", ErrInvalidRecord)
	}

	var created time.Time
	if r.CreatedAt != "" {
		t, err := parseTime(r.CreatedAt)
		if err != nil {
			return model.Question{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		created = t
	}

	id := r.ID
	if id == "" {
		id = generateID(platform, r.URL, r.Text)
	}

	return model.Question{
		ExternalID: id,
		Platform:   model.Platform(platform),
		URL:        r.URL,
		RawText:    r.Text,
		Upvotes:    r.Upvotes,
		Comments:   r.Comments,
		Views:      r.Views,
		CreatedAt:  created,
		IngestedAt: now,
		Status:     model.StatusPending,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// generateID derives a stable id from the URL, or the text when there is
// no URL.
func generateID(platform, url, text string) string {
	key := url
	if key == "" {
		key = text
	}
	sum := sha256.Sum256([]byte(platform + "|" + key))
	return fmt.Sprintf("%x", sum[:8])
}

// FileSource reads questions from a file on every Ingest.
type FileSource struct {
	path string
}

// NewFileSource creates a source for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name returns the file path.
func (s *FileSource) Name() string {
	return s.path
}

// Ingest implements Source. Questions with an unknown creation time are
// always included.
func (s *FileSource) Ingest(ctx context.Context, since time.Time) ([]model.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := LoadFile(s.path)
	if err != nil {
		return nil, err
	}
	return filterSince(all, since), nil
}

func filterSince(qs []model.Question, since time.Time) []model.Question {
	if since.IsZero() {
		return qs
	}
	out := qs[:0]
	for _, q := range qs {
		if q.CreatedAt.IsZero() || !q.CreatedAt.Before(since) {
			out = append(out, q)
		}
	}
	return out
}

// Collect ingests from every source concurrently and concatenates the
// results in source order. A failing source is logged and skipped; Collect
// fails only if every source fails.
func Collect(ctx context.Context, since time.Time, sources ...Source) ([]model.Question, error) {
	results := make([][]model.Question, len(sources))
	errs := make([]error, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			qs, err := src.Ingest(ctx, since)
			if err != nil {
				logging.Warn("ingest: source failed", "source", src.Name(), "error", err)
				errs[i] = err
				return nil
			}
			results[i] = qs
			return nil
		})
	}
	_ = g.Wait()

	var out []model.Question
	failed := 0
	for i := range sources {
		if errs[i] != nil {
			failed++
			continue
		}
		out = append(out, results[i]...)
	}
	if len(sources) > 0 && failed == len(sources) {
		return nil, fmt.Errorf("ingest: all %d sources failed: %w", failed, errors.Join(errs...))
	}
	return out, nil
}
