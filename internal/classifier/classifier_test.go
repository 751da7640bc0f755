package classifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestClassifyParsesPrediction(t *testing.T) {
	var bypassHeader string
	var fileField string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bypassHeader = r.Header.Get("ngrok-skip-browser-warning")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file field: %v", err)
		} else {
			fileField = header.Filename
			file.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"label":"NÉGATIF","confidence":0.87}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, zap.NewNop())
	prediction, err := c.Classify(context.Background(), "scan.jpg", "image/jpeg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if prediction.Label != "NÉGATIF" {
		t.Fatalf("unexpected label: %q", prediction.Label)
	}
	if prediction.Confidence != 0.87 {
		t.Fatalf("unexpected confidence: %v", prediction.Confidence)
	}
	if bypassHeader != "true" {
		t.Fatalf("expected tunnel bypass header, got %q", bypassHeader)
	}
	if fileField != "scan.jpg" {
		t.Fatalf("expected file field with original name, got %q", fileField)
	}
}

func TestClassifyMapsStatusTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		status int
		kind   Kind
	}{
		{"not found", http.StatusNotFound, KindNotFound},
		{"server error", http.StatusInternalServerError, KindServer},
		{"bad gateway", http.StatusBadGateway, KindServer},
		{"other client error", http.StatusTeapot, KindClient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := New(srv.URL, time.Second, zap.NewNop())
			_, err := c.Classify(context.Background(), "scan.jpg", "image/jpeg", []byte("data"))

			var cErr *Error
			if !errors.As(err, &cErr) {
				t.Fatalf("expected *Error, got %T (%v)", err, err)
			}
			if cErr.Kind != tc.kind {
				t.Fatalf("expected kind %d, got %d", tc.kind, cErr.Kind)
			}
			if cErr.Status != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, cErr.Status)
			}
		})
	}
}

func TestClassifyUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	c := New(srv.URL, time.Second, zap.NewNop())
	_, err := c.Classify(context.Background(), "scan.jpg", "image/jpeg", []byte("data"))

	var cErr *Error
	if !errors.As(err, &cErr) {
		t.Fatalf("expected *Error, got %T (%v)", err, err)
	}
	if cErr.Kind != KindUnreachable {
		t.Fatalf("expected KindUnreachable, got %d", cErr.Kind)
	}
}

func TestClassifyRejectsInvalidPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty label", `{"label":"","confidence":0.5}`},
		{"missing confidence", `{"label":"POSITIF"}`},
		{"not json", `<html>warning page</html>`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body)) //nolint:errcheck
			}))
			defer srv.Close()

			c := New(srv.URL, time.Second, zap.NewNop())
			_, err := c.Classify(context.Background(), "scan.jpg", "image/jpeg", []byte("data"))

			var cErr *Error
			if !errors.As(err, &cErr) {
				t.Fatalf("expected *Error, got %T (%v)", err, err)
			}
			if cErr.Kind != KindInvalidResponse {
				t.Fatalf("expected KindInvalidResponse, got %d", cErr.Kind)
			}
		})
	}
}

func TestClassifyZeroConfidenceIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"label":"NÉGATIF","confidence":0}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, zap.NewNop())
	prediction, err := c.Classify(context.Background(), "scan.jpg", "image/jpeg", []byte("data"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if prediction.Confidence != 0 {
		t.Fatalf("expected zero confidence, got %v", prediction.Confidence)
	}
}
