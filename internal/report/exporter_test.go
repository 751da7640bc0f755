package report

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/breastcare/internal/repository"
)

func sampleRecord(label string, confidence float64) *repository.AnalysisRecord {
	return &repository.AnalysisRecord{
		RecordID:        "rec-1",
		UserID:          "doc@example.com",
		FileName:        "biopsy.png",
		ImageDimensions: "50 x 50px",
		PatientID:       "P04217",
		ModelVersion:    "ResNet50 v2.1",
		ImageType:       "Histopathologie",
		Label:           label,
		Confidence:      confidence,
		ProcessingTime:  "2.1s",
		ProcessingMs:    2100,
	}
}

func documentValues(doc document) []string {
	var values []string
	for _, p := range doc.Pages {
		for _, box := range p.Content.Text {
			values = append(values, box.Value)
		}
	}
	return values
}

func containsValue(values []string, want string) bool {
	for _, v := range values {
		if strings.Contains(v, want) {
			return true
		}
	}
	return false
}

func TestFilename(t *testing.T) {
	at := time.Date(2026, 8, 29, 14, 30, 0, 0, time.UTC)
	got := Filename("P04217", at)
	if got != "Rapport_Medical_P04217_2026-08-29.pdf" {
		t.Fatalf("unexpected filename: %s", got)
	}
}

func TestBuildDocumentPositive(t *testing.T) {
	record := sampleRecord("POSITIF (Cancer détecté)", 0.942)
	doc := buildDocument(record, time.Now())
	values := documentValues(doc)

	if !containsValue(values, "POSITIF (Cancer détecté)") {
		t.Fatal("result banner missing")
	}
	if !containsValue(values, "Confiance : 94%") {
		t.Fatalf("confidence line missing, got %v", values)
	}
	if !containsValue(values, "POSITIF - Anomalie détectée") {
		t.Fatal("positive classification missing")
	}
	if !containsValue(values, "tumeur maligne") {
		t.Fatal("positive interpretation missing")
	}
	if !containsValue(values, "Biopsie recommandée pour confirmation") {
		t.Fatal("positive recommendations missing")
	}
	if containsValue(values, "Prochaine mammographie") {
		t.Fatal("negative recommendations must not appear on a positive report")
	}
}

func TestBuildDocumentNegative(t *testing.T) {
	record := sampleRecord("NÉGATIF (Pas de cancer)", 88)
	doc := buildDocument(record, time.Now())
	values := documentValues(doc)

	if !containsValue(values, "NÉGATIF (Pas de cancer)") {
		t.Fatal("result banner missing")
	}
	if !containsValue(values, "Confiance : 88%") {
		t.Fatal("confidence line missing")
	}
	if !containsValue(values, "NÉGATIF - Aucune anomalie") {
		t.Fatal("negative classification missing")
	}
	if !containsValue(values, "motifs bénins") {
		t.Fatal("negative interpretation missing")
	}
	if containsValue(values, "Consulter immédiatement un médecin spécialiste") {
		t.Fatal("positive recommendations must not appear on a negative report")
	}
}

func TestBuildDocumentFallbacks(t *testing.T) {
	record := sampleRecord("NÉGATIF (Pas de cancer)", 88)
	record.FileName = ""
	doc := buildDocument(record, time.Now())

	if !containsValue(documentValues(doc), "N/A") {
		t.Fatal("missing file name should render as N/A")
	}
}

func TestConfidenceLevel(t *testing.T) {
	cases := []struct {
		confidence int
		want       string
	}{
		{95, "Élevé"},
		{90, "Élevé"},
		{89, "Moyen"},
		{75, "Moyen"},
		{74, "Faible"},
		{0, "Faible"},
	}
	for _, tc := range cases {
		if got := confidenceLevel(tc.confidence); got != tc.want {
			t.Errorf("confidenceLevel(%d) = %s, want %s", tc.confidence, got, tc.want)
		}
	}
}

func TestExportWritesPDF(t *testing.T) {
	dir := t.TempDir()
	exporter := NewExporter(dir, zap.NewNop())

	path, err := exporter.Export(sampleRecord("POSITIF (Cancer détecté)", 0.942))
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	pattern := regexp.MustCompile(`^Rapport_Medical_P04217_\d{4}-\d{2}-\d{2}\.pdf$`)
	if !pattern.MatchString(filepath.Base(path)) {
		t.Fatalf("unexpected report name: %s", filepath.Base(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("report file not written: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("report file is empty")
	}
}
