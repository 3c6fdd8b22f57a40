package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PoshanP/ThinkFolio-sub000/internal/storage"
)

type fakeObjectStore struct {
	objects map[string][]byte
}

func (f *fakeObjectStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	return f.objects[key], nil
}

func (f *fakeObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeObjectStore) Health(ctx context.Context) error { return nil }

func TestLoadText(t *testing.T) {
	objects := &fakeObjectStore{objects: map[string][]byte{
		"notes.txt": []byte("plain text body"),
	}}
	l := New(objects, nil)

	content, err := l.Load(context.Background(), &storage.Document{
		SourceType: storage.SourceText,
		SourceRef:  "notes.txt",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if content.Paginated() {
		t.Error("text sources have no page map")
	}
	if content.Text != "plain text body" {
		t.Errorf("unexpected text: %q", content.Text)
	}
}

func TestLoadTextMissingObject(t *testing.T) {
	l := New(&fakeObjectStore{objects: map[string][]byte{}}, nil)

	_, err := l.Load(context.Background(), &storage.Document{
		SourceType: storage.SourceText,
		SourceRef:  "missing.txt",
	})
	if err == nil {
		t.Error("expected error for empty object")
	}
}

func TestLoadUnsupportedSource(t *testing.T) {
	l := New(nil, nil)

	_, err := l.Load(context.Background(), &storage.Document{SourceType: "docx"})
	if err == nil || !strings.Contains(err.Error(), "unsupported source type") {
		t.Errorf("expected unsupported source error, got %v", err)
	}
}

func TestLoadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><style>p{color:red}</style><script>alert(1)</script></head>
			<body><h1>Title</h1><p>First paragraph with &amp; entity.</p><p>Second paragraph.</p></body></html>`))
	}))
	defer srv.Close()

	l := New(nil, nil)
	content, err := l.Load(context.Background(), &storage.Document{
		SourceType: storage.SourceURL,
		SourceRef:  srv.URL,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	text := content.Text
	if strings.Contains(text, "<") || strings.Contains(text, "alert") || strings.Contains(text, "color:red") {
		t.Errorf("markup leaked into text: %q", text)
	}
	for _, want := range []string{"Title", "First paragraph with & entity.", "Second paragraph."} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in %q", want, text)
		}
	}
}

func TestLoadURLErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	l := New(nil, nil)
	_, err := l.Load(context.Background(), &storage.Document{
		SourceType: storage.SourceURL,
		SourceRef:  srv.URL,
	})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestStripHTMLKeepsParagraphBreaks(t *testing.T) {
	got := StripHTML("<div><p>one</p><p>two</p></div>")
	if !strings.Contains(got, "one") || !strings.Contains(got, "two") {
		t.Fatalf("content lost: %q", got)
	}
	if !strings.Contains(got, "\n") {
		t.Errorf("expected paragraph break, got %q", got)
	}
}
