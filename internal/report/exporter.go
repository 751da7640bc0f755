// Package report renders a finalized analysis record into the exportable
// medical report PDF.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"

	"github.com/example/breastcare/internal/repository"
	"github.com/example/breastcare/internal/usecase"
)

// A4 in points, upper-left origin.
const (
	pageWidth  = 595.0
	pageHeight = 842.0
	margin     = 50.0
	labelColX  = margin
	valueColX  = margin + 150
)

const (
	colorHeader   = "#2980B9"
	colorTitle    = "#2C3E50"
	colorPositive = "#E74C3C"
	colorNegative = "#27AE60"
	colorPosText  = "#C0392B"
	colorMuted    = "#666666"
	colorFooter   = "#7F8C8D"
	colorWarning  = "#856404"
	colorBody     = "#333333"
)

const appVersionLine = "BreastCare AI - Version 2.1"

var (
	interpretationPositive = "L'analyse révèle des caractéristiques compatibles avec une tumeur maligne. " +
		"Les motifs cellulaires détectés présentent des similitudes avec les cas confirmés de la base d'entraînement. " +
		"Ce résultat doit impérativement être confirmé par un examen anatomopathologique."
	interpretationNegative = "L'image analysée ne présente pas de caractéristiques suspectes associées au cancer du sein. " +
		"Les structures tissulaires observées correspondent aux motifs bénins de la base d'entraînement. " +
		"Un suivi médical régulier reste recommandé."

	recommendationsPositive = []string{
		"Consulter immédiatement un médecin spécialiste",
		"Biopsie recommandée pour confirmation",
		"Examens complémentaires d'imagerie",
		"Établir un plan de traitement si confirmé",
		"Suivi oncologique régulier",
	}
	recommendationsNegative = []string{
		"Suivi médical régulier",
		"Contrôles recommandés selon le calendrier habituel",
		"Maintenir des habitudes de vie saines",
		"Consulter en cas de nouveaux symptômes",
		"Prochaine mammographie dans 12 à 24 mois",
	}

	modelPerformance = [][2]string{
		{"Architecture", "Réseau de neurones convolutifs (CNN)"},
		{"Base d'entraînement", "50,000+ images histopathologiques"},
		{"Précision globale", "94.2%"},
		{"Sensibilité", "92.8%"},
		{"Spécificité", "95.1%"},
	}
)

// Exporter writes report PDFs into a fixed export directory.
type Exporter struct {
	dir    string
	logger *zap.Logger
}

// NewExporter constructs an Exporter rooted at dir.
func NewExporter(dir string, logger *zap.Logger) *Exporter {
	return &Exporter{dir: dir, logger: logger.Named("report_exporter")}
}

// Filename returns the export name for a patient and report date.
func Filename(patientID string, at time.Time) string {
	return fmt.Sprintf("Rapport_Medical_%s_%s.pdf", patientID, at.Format("2006-01-02"))
}

// Export renders the record into a PDF and saves it under the export
// directory, returning the written path.
func (e *Exporter) Export(record *repository.AnalysisRecord) (string, error) {
	now := time.Now()
	doc := buildDocument(record, now)

	spec, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal report spec: %w", err)
	}

	var buf bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(spec), &buf, nil); err != nil {
		return "", fmt.Errorf("render report pdf: %w", err)
	}
	if count, err := api.PageCount(bytes.NewReader(buf.Bytes()), nil); err != nil || count < 1 {
		return "", fmt.Errorf("rendered report is not a readable pdf: %w", err)
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	path := filepath.Join(e.dir, Filename(record.PatientID, now))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}

	e.logger.Info("report exported",
		zap.String("path", path),
		zap.String("patient_id", record.PatientID),
	)
	return path, nil
}

// pdfcpu create-JSON subset used by the report layout.
type document struct {
	PaperSize string          `json:"paperSize"`
	Origin    string          `json:"origin"`
	Pages     map[string]page `json:"pages"`
}

type page struct {
	Content content `json:"content"`
}

type content struct {
	Text []textBox `json:"text"`
}

type textBox struct {
	Value           string     `json:"value"`
	Position        [2]float64 `json:"position"`
	Width           float64    `json:"width,omitempty"`
	Alignment       string     `json:"alignment,omitempty"`
	Font            fontSpec   `json:"font"`
	BackgroundColor string     `json:"bgCol,omitempty"`
}

type fontSpec struct {
	Name  string `json:"name"`
	Size  int    `json:"size"`
	Color string `json:"color"`
}

type builder struct {
	boxes []textBox
	y     float64
}

func (b *builder) add(box textBox) {
	b.boxes = append(b.boxes, box)
}

func (b *builder) line(value string, size int, bold bool, color string) {
	name := "Helvetica"
	if bold {
		name = "Helvetica-Bold"
	}
	b.add(textBox{
		Value:    value,
		Position: [2]float64{margin, b.y},
		Width:    pageWidth - 2*margin,
		Font:     fontSpec{Name: name, Size: size, Color: color},
	})
	b.y += float64(size) * 1.3
}

func (b *builder) space(points float64) {
	b.y += points
}

func (b *builder) section(title string) {
	b.space(15)
	b.add(textBox{
		Value:           title,
		Position:        [2]float64{margin, b.y},
		Width:           pageWidth - 2*margin,
		Font:            fontSpec{Name: "Helvetica-Bold", Size: 14, Color: colorTitle},
		BackgroundColor: "#F0F0F0",
	})
	b.y += 30
}

func (b *builder) pair(label, value string) {
	b.add(textBox{
		Value:    label + " :",
		Position: [2]float64{labelColX, b.y},
		Font:     fontSpec{Name: "Helvetica", Size: 10, Color: colorMuted},
	})
	b.add(textBox{
		Value:    value,
		Position: [2]float64{valueColX, b.y},
		Font:     fontSpec{Name: "Helvetica-Bold", Size: 10, Color: "#000000"},
	})
	b.y += 20
}

func (b *builder) banner(value string, size int, bgCol string) {
	b.add(textBox{
		Value:           value,
		Position:        [2]float64{margin, b.y},
		Width:           pageWidth - 2*margin,
		Alignment:       "center",
		Font:            fontSpec{Name: "Helvetica-Bold", Size: size, Color: "#FFFFFF"},
		BackgroundColor: bgCol,
	})
	b.y += float64(size) * 1.8
}

func buildDocument(record *repository.AnalysisRecord, now time.Time) document {
	positive := usecase.IsPositiveLabel(record.Label)
	confidence := usecase.DisplayConfidence(record.Confidence)

	b := &builder{y: margin}

	// Header
	b.banner("RAPPORT D'ANALYSE MÉDICALE", 24, colorHeader)
	b.banner("Détection du Cancer du Sein - Intelligence Artificielle", 12, colorHeader)
	b.space(10)

	// Patient
	b.section("INFORMATIONS DU PATIENT")
	b.pair("Identifiant Patient", record.PatientID)
	b.pair("Date d'analyse", now.Format("02/01/2006"))
	b.pair("Heure", now.Format("15:04:05"))
	b.pair("Type d'examen", record.ImageType)

	// Result banner
	b.section("RÉSULTAT DU DIAGNOSTIC")
	resultColor := colorNegative
	if positive {
		resultColor = colorPositive
	}
	b.banner(record.Label, 16, resultColor)
	b.banner(fmt.Sprintf("Confiance : %d%%", confidence), 12, resultColor)

	// Details
	b.section("DÉTAILS DE L'ANALYSE")
	classification := "NÉGATIF - Aucune anomalie"
	if positive {
		classification = "POSITIF - Anomalie détectée"
	}
	fileName := record.FileName
	if fileName == "" {
		fileName = "N/A"
	}
	b.pair("Modèle IA", fmt.Sprintf("CNN (%s)", record.ModelVersion))
	b.pair("Dimensions image", record.ImageDimensions)
	b.pair("Nom du fichier", fileName)
	b.pair("Temps de traitement", record.ProcessingTime)
	b.pair("Niveau de confiance", confidenceLevel(confidence))
	b.pair("Classification", classification)

	// Interpretation
	b.section("INTERPRÉTATION CLINIQUE")
	interpretation := interpretationNegative
	if positive {
		interpretation = interpretationPositive
	}
	b.line(interpretation, 10, false, colorBody)
	b.space(30)

	// Recommendations
	b.section("RECOMMANDATIONS MÉDICALES")
	recColor := colorNegative
	recommendations := recommendationsNegative
	if positive {
		recColor = colorPosText
		recommendations = recommendationsPositive
	}
	for _, rec := range recommendations {
		b.line("- "+rec, 10, false, recColor)
	}

	// Disclaimer
	b.section("AVERTISSEMENT LÉGAL")
	b.line("IMPORTANT : Ce système est un outil d'aide à la décision médicale et ne remplace pas un professionnel.", 10, true, colorWarning)
	b.line("Le diagnostic final doit être interprété par un médecin.", 9, false, colorWarning)

	// Model performance
	b.section("PERFORMANCES DU MODÈLE")
	for _, entry := range modelPerformance {
		b.line(fmt.Sprintf("%s : %s", entry[0], entry[1]), 9, false, "#000000")
	}

	// Footer
	b.add(textBox{
		Value:    appVersionLine,
		Position: [2]float64{margin, pageHeight - 45},
		Font:     fontSpec{Name: "Helvetica", Size: 8, Color: colorFooter},
	})
	b.add(textBox{
		Value:    fmt.Sprintf("Rapport généré le %s", now.Format("02/01/2006 15:04:05")),
		Position: [2]float64{margin, pageHeight - 32},
		Font:     fontSpec{Name: "Helvetica", Size: 8, Color: colorFooter},
	})

	return document{
		PaperSize: "A4",
		Origin:    "upperLeft",
		Pages: map[string]page{
			"1": {Content: content{Text: b.boxes}},
		},
	}
}

func confidenceLevel(confidence int) string {
	switch {
	case confidence >= 90:
		return "Élevé"
	case confidence >= 75:
		return "Moyen"
	default:
		return "Faible"
	}
}
