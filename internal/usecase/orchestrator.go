package usecase

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/breastcare/internal/classifier"
	"github.com/example/breastcare/internal/logging"
	"github.com/example/breastcare/internal/normalizer"
	"github.com/example/breastcare/internal/progress"
	"github.com/example/breastcare/internal/repository"
)

// User-facing messages, kept in French as shipped to the app.
const (
	msgNoImageSelected = "Veuillez sélectionner une image"
	msgNotAnImage      = "Veuillez sélectionner un fichier image"
	msgUnreachable     = "Impossible de se connecter à l'API. Vérifiez que le service de prédiction fonctionne."
	msgNotFound        = "Endpoint non trouvé. Vérifiez que l'API expose /predict"
	msgServerError     = "Erreur serveur. Vérifiez les logs de l'API."
	msgClientErrorFmt  = "Erreur d'analyse (%d). Réessayez."
	msgInvalidResponse = "Données invalides reçues du serveur"
	msgCompressionFmt  = "Erreur de compression: %s"
	msgInterrupted     = "Analyse interrompue. Réessayez."

	msgAnalyzingFmt = "Analyse en cours... %d%%"
	msgFinalizing   = "Finalisation 100%"
	msgDone         = "Analyse terminée"

	// A label containing this marker is a positive (malignant) result.
	positiveMarker = "POSITIF"

	initialProcessingTime = "< 2s"
)

// ErrNoImageSelected is returned by Submit when nothing has been selected.
// ErrNoResult is returned by CurrentRecord before a successful completion.
var (
	ErrNoImageSelected = errors.New("no image selected")
	ErrNoResult        = errors.New("no completed analysis available")
)

// TooLargeError reports a selection above the configured maximum size.
type TooLargeError struct {
	Size int64
	Max  int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("Fichier trop volumineux (%.2fMB). Maximum : %.0fMB",
		float64(e.Size)/1024/1024, float64(e.Max)/1024/1024)
}

// NotAnImageError reports a selection whose declared type is not image/*.
type NotAnImageError struct {
	MIMEType string
}

func (e *NotAnImageError) Error() string {
	return msgNotAnImage
}

// UploadState enumerates the orchestration states of one upload session.
type UploadState int

const (
	StateIdle UploadState = iota
	StateValidating
	StateNormalizing
	StateSubmitting
	StateAnimating
	StateFinalizing
	StateCompleted
	StateFailed
)

func (s UploadState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateNormalizing:
		return "normalizing"
	case StateSubmitting:
		return "submitting"
	case StateAnimating:
		return "animating"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OutcomeKind tags the resolution of one Submit call.
type OutcomeKind int

const (
	// OutcomeSuperseded means a newer Submit or Reset invalidated this
	// attempt; nothing was written to the session state.
	OutcomeSuperseded OutcomeKind = iota + 1
	// OutcomeSucceeded means the prediction arrived and was finalized.
	OutcomeSucceeded
	// OutcomeFailed means the attempt ended with a user-visible error.
	OutcomeFailed
)

// Outcome is the tagged result of a Submit call.
type Outcome struct {
	Kind       OutcomeKind
	Prediction *classifier.Prediction
	Message    string
}

// Normalizer produces the fixed-size transfer encoding of a selection.
type Normalizer interface {
	Normalize(ctx context.Context, img normalizer.SelectedImage) (*normalizer.NormalizedImage, error)
}

// Classifier submits a normalized image to the prediction endpoint.
type Classifier interface {
	Classify(ctx context.Context, name, mimeType string, data []byte) (*classifier.Prediction, error)
}

// Recorder receives finalized analysis records for persistence.
type Recorder interface {
	SaveAnalysis(ctx context.Context, record *repository.AnalysisRecord) error
}

// OrchestratorConfig tunes one session's validation and animation behavior.
// Zero values fall back to production defaults.
type OrchestratorConfig struct {
	MaxFileSize  int64
	MinProgress  time.Duration
	TickInterval time.Duration
	ModelVersion string
	ImageType    string
}

// Orchestrator is the upload state machine for one user session. It owns the
// selected image, the current attempt's animator and the submission token
// that discards stale completions.
type Orchestrator struct {
	normalizer Normalizer
	classifier Classifier
	history    Recorder
	logger     *zap.Logger

	maxFileSize  int64
	minProgress  time.Duration
	tickInterval time.Duration
	modelVersion string
	imageType    string

	mu             sync.Mutex
	token          uint64
	state          UploadState
	selected       *normalizer.SelectedImage
	previewURI     string
	dimensions     string
	selectionGen   uint64
	prediction     *classifier.Prediction
	errMessage     string
	patientID      string
	processingTime string
	processingMs   int64
	animator       *progress.Animator
	startedAt      time.Time
}

// NewOrchestrator constructs a session state machine. The recorder may be nil
// when history persistence is unavailable.
func NewOrchestrator(n Normalizer, c Classifier, history Recorder, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 << 20
	}
	if cfg.MinProgress <= 0 {
		cfg.MinProgress = 2 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = progress.DefaultTick
	}
	if cfg.ModelVersion == "" {
		cfg.ModelVersion = "ResNet50 v2.1"
	}
	if cfg.ImageType == "" {
		cfg.ImageType = "Histopathologie"
	}
	return &Orchestrator{
		normalizer:     n,
		classifier:     c,
		history:        history,
		logger:         logger.Named("upload_orchestrator"),
		maxFileSize:    cfg.MaxFileSize,
		minProgress:    cfg.MinProgress,
		tickInterval:   cfg.TickInterval,
		modelVersion:   cfg.ModelVersion,
		imageType:      cfg.ImageType,
		state:          StateIdle,
		patientID:      newPatientID(),
		processingTime: initialProcessingTime,
	}
}

// SelectImage validates the candidate and, on success, replaces the current
// selection and clears any prior result or error. Pixel dimensions are
// decoded asynchronously; a failed validation leaves the prior selection
// untouched.
func (o *Orchestrator) SelectImage(img normalizer.SelectedImage) error {
	if img.Size > o.maxFileSize {
		return &TooLargeError{Size: img.Size, Max: o.maxFileSize}
	}
	if !strings.HasPrefix(img.MIMEType, "image/") {
		return &NotAnImageError{MIMEType: img.MIMEType}
	}

	o.mu.Lock()
	o.selected = &img
	o.previewURI = "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
	o.prediction = nil
	o.errMessage = ""
	o.dimensions = ""
	o.selectionGen++
	gen := o.selectionGen
	data := img.Data
	o.mu.Unlock()

	go o.decodeDimensions(gen, data)
	return nil
}

// decodeDimensions computes display metadata off the selection path. The
// generation guard keeps a slow decode of an old selection from labeling a
// newer one.
func (o *Orchestrator) decodeDimensions(gen uint64, data []byte) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		o.logger.Debug("selection dimensions unavailable", zap.Error(err))
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selectionGen == gen {
		o.dimensions = fmt.Sprintf("%d x %dpx", cfg.Width, cfg.Height)
	}
}

// Submit runs one full analysis attempt: normalization, the prediction call
// racing the progress animator, and reconciliation behind the submission
// token. A Submit issued while an earlier attempt is still in flight
// supersedes it; the stale attempt resolves to OutcomeSuperseded and writes
// nothing. The returned error is non-nil only when the attempt could not
// start at all.
func (o *Orchestrator) Submit(ctx context.Context, userID string) (Outcome, error) {
	o.mu.Lock()
	if o.selected == nil {
		o.errMessage = msgNoImageSelected
		o.mu.Unlock()
		return Outcome{}, ErrNoImageSelected
	}

	o.token++
	token := o.token
	if o.animator != nil {
		o.animator.Stop()
	}
	anim := progress.New(o.tickInterval)
	o.animator = anim
	o.state = StateValidating
	o.errMessage = ""
	o.prediction = nil
	o.startedAt = time.Now()
	sel := *o.selected
	o.state = StateNormalizing
	o.mu.Unlock()

	opLogger := logging.WithOperation(o.logger, "orchestrator.submit", strconv.FormatUint(token, 10))

	normalized, err := o.normalizer.Normalize(ctx, sel)
	if err != nil {
		opLogger.Warn("normalization failed", zap.Error(err))
		return o.fail(token, err), nil
	}

	// Visual feedback and the real network call run concurrently from here.
	if !o.beginAnimation(token, anim) {
		return Outcome{Kind: OutcomeSuperseded}, nil
	}

	prediction, err := o.classifier.Classify(ctx, sel.Name, normalized.MIMEType, normalized.Data)
	if err != nil {
		// Failure feedback is immediate: no minimum-duration wait.
		anim.Stop()
		opLogger.Warn("classification failed", zap.Error(err))
		return o.fail(token, err), nil
	}

	if !o.setState(token, StateFinalizing) {
		anim.Stop()
		return Outcome{Kind: OutcomeSuperseded}, nil
	}
	if err := anim.Finalize(ctx, o.minProgress); err != nil {
		anim.Stop()
		return o.fail(token, err), nil
	}

	o.mu.Lock()
	if token != o.token {
		o.mu.Unlock()
		return Outcome{Kind: OutcomeSuperseded}, nil
	}
	elapsed := time.Since(o.startedAt)
	o.processingMs = elapsed.Milliseconds()
	o.processingTime = fmt.Sprintf("%.1fs", elapsed.Seconds())
	o.prediction = prediction
	o.state = StateCompleted
	record := o.buildRecordLocked(userID)
	o.mu.Unlock()

	opLogger.Info("analysis completed",
		zap.String("label", prediction.Label),
		zap.Float64("confidence", prediction.Confidence),
		zap.Duration("elapsed", elapsed),
	)

	o.recordHistory(ctx, userID, record, opLogger)

	return Outcome{Kind: OutcomeSucceeded, Prediction: prediction}, nil
}

// recordHistory requests the history write for a completed attempt. With no
// authenticated user the write is skipped silently; a recorder failure is a
// secondary notice, never a state machine fault.
func (o *Orchestrator) recordHistory(ctx context.Context, userID string, record *repository.AnalysisRecord, opLogger *zap.Logger) {
	if userID == "" || record == nil {
		opLogger.Debug("history write skipped, no active user")
		return
	}
	if o.history == nil {
		return
	}
	if err := o.history.SaveAnalysis(ctx, record); err != nil {
		opLogger.Warn("history write failed", zap.Error(err))
	}
}

// beginAnimation transitions into the submitting/animating phase and starts
// the attempt's animator, unless the attempt is already stale.
func (o *Orchestrator) beginAnimation(token uint64, anim *progress.Animator) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if token != o.token {
		return false
	}
	o.state = StateSubmitting
	anim.Start()
	o.state = StateAnimating
	return true
}

func (o *Orchestrator) setState(token uint64, state UploadState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if token != o.token {
		return false
	}
	o.state = state
	return true
}

// fail records a taxonomy-mapped error message, unless the attempt is stale.
func (o *Orchestrator) fail(token uint64, err error) Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	if token != o.token {
		return Outcome{Kind: OutcomeSuperseded}
	}
	message := mapErrorMessage(err)
	o.state = StateFailed
	o.errMessage = message
	return Outcome{Kind: OutcomeFailed, Message: message}
}

func mapErrorMessage(err error) string {
	var cErr *classifier.Error
	if errors.As(err, &cErr) {
		switch cErr.Kind {
		case classifier.KindUnreachable:
			return msgUnreachable
		case classifier.KindNotFound:
			return msgNotFound
		case classifier.KindServer:
			return msgServerError
		case classifier.KindInvalidResponse:
			return msgInvalidResponse
		default:
			return fmt.Sprintf(msgClientErrorFmt, cErr.Status)
		}
	}
	if errors.Is(err, normalizer.ErrDecode) || errors.Is(err, normalizer.ErrEncode) {
		return fmt.Sprintf(msgCompressionFmt, err.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return msgInterrupted
	}
	return err.Error()
}

// Reset unconditionally returns the session to Idle: selection, result and
// error are discarded, any running animator is stopped and a fresh patient
// identifier is generated. In-flight attempts become stale.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.token++
	if o.animator != nil {
		o.animator.Stop()
		o.animator = nil
	}
	o.state = StateIdle
	o.selected = nil
	o.previewURI = ""
	o.dimensions = ""
	o.selectionGen++
	o.prediction = nil
	o.errMessage = ""
	o.processingTime = initialProcessingTime
	o.processingMs = 0
	o.startedAt = time.Time{}
	o.patientID = newPatientID()
}

// Close releases the session's timer resources. The session is unusable
// afterwards except through Reset.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.token++
	if o.animator != nil {
		o.animator.Stop()
		o.animator = nil
	}
}

// Snapshot is a point-in-time view of the session for display.
type Snapshot struct {
	State             string  `json:"state"`
	ProgressPercent   float64 `json:"progress_percent"`
	ElapsedMs         int64   `json:"elapsed_ms"`
	Message           string  `json:"message"`
	ErrorMessage      string  `json:"error_message,omitempty"`
	PatientID         string  `json:"patient_id"`
	FileName          string  `json:"file_name,omitempty"`
	ImageDimensions   string  `json:"image_dimensions,omitempty"`
	Label             string  `json:"label,omitempty"`
	ConfidencePercent int     `json:"confidence_percent"`
	Positive          bool    `json:"positive"`
	ProcessingTime    string  `json:"processing_time"`
}

// Snapshot returns the current display state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		State:          o.state.String(),
		PatientID:      o.patientID,
		ErrorMessage:   o.errMessage,
		ProcessingTime: o.processingTime,
	}
	if o.animator != nil {
		snap.ProgressPercent = o.animator.Percent()
	}
	if !o.startedAt.IsZero() {
		snap.ElapsedMs = time.Since(o.startedAt).Milliseconds()
	}
	if o.state == StateCompleted {
		snap.ElapsedMs = o.processingMs
	}
	if o.selected != nil {
		snap.FileName = o.selected.Name
		snap.ImageDimensions = o.dimensions
	}
	if o.prediction != nil {
		snap.Label = o.prediction.Label
		snap.ConfidencePercent = DisplayConfidence(o.prediction.Confidence)
		snap.Positive = IsPositiveLabel(o.prediction.Label)
	}
	snap.Message = o.messageLocked(snap.ProgressPercent)
	return snap
}

func (o *Orchestrator) messageLocked(percent float64) string {
	switch o.state {
	case StateValidating, StateNormalizing, StateSubmitting, StateAnimating:
		return fmt.Sprintf(msgAnalyzingFmt, int(percent))
	case StateFinalizing:
		return msgFinalizing
	case StateCompleted:
		return msgDone
	case StateFailed:
		return o.errMessage
	default:
		return ""
	}
}

// CurrentRecord builds the immutable analysis record for the last completed
// attempt, for history or report export. ErrNoResult before completion.
func (o *Orchestrator) CurrentRecord(userID string) (*repository.AnalysisRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateCompleted || o.prediction == nil {
		return nil, ErrNoResult
	}
	return o.buildRecordLocked(userID), nil
}

func (o *Orchestrator) buildRecordLocked(userID string) *repository.AnalysisRecord {
	if o.selected == nil || o.prediction == nil {
		return nil
	}
	return &repository.AnalysisRecord{
		RecordID:        uuid.NewString(),
		UserID:          userID,
		FileName:        o.selected.Name,
		ImageData:       o.previewURI,
		ImageDimensions: o.dimensions,
		PatientID:       o.patientID,
		ModelVersion:    o.modelVersion,
		ImageType:       o.imageType,
		Label:           o.prediction.Label,
		Confidence:      o.prediction.Confidence,
		ProcessingTime:  o.processingTime,
		ProcessingMs:    o.processingMs,
		CreatedAt:       time.Now().UTC(),
	}
}

// IsPositive reports whether the current result label carries the positive
// marker. False while no result is present.
func (o *Orchestrator) IsPositive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.prediction != nil && IsPositiveLabel(o.prediction.Label)
}

// ConfidencePercentage normalizes the current result's confidence into a
// [0,100] integer percentage. Zero while no result is present.
func (o *Orchestrator) ConfidencePercentage() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.prediction == nil {
		return 0
	}
	return DisplayConfidence(o.prediction.Confidence)
}

// PatientID returns the session's current display identifier.
func (o *Orchestrator) PatientID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.patientID
}

// IsPositiveLabel reports whether a result label carries the positive marker.
func IsPositiveLabel(label string) bool {
	return strings.Contains(label, positiveMarker)
}

// DisplayConfidence folds the confidence duality (fraction in [0,1] or
// percentage in (1,100]) into one integer percentage.
func DisplayConfidence(confidence float64) int {
	if confidence > 1 {
		return int(math.Round(confidence))
	}
	return int(math.Round(confidence * 100))
}

// FormatFileSize renders a byte count for display, one decimal, B/KB/MB units.
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB"}
	size := float64(bytes)
	idx := 0
	for size >= 1024 && idx < len(units)-1 {
		size /= 1024
		idx++
	}
	return fmt.Sprintf("%.1f %s", size, units[idx])
}
