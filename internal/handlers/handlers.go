package handlers

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/flower-identifier/internal/catalog"
	"github.com/Brownie44l1/flower-identifier/internal/feedback"
	"github.com/Brownie44l1/flower-identifier/internal/metrics"
	"github.com/Brownie44l1/flower-identifier/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	thumbnailSide = 480
	// maxFeedbackBytes caps feedback form and JSON bodies.
	maxFeedbackBytes = 16 << 10
)

var errBadAnswer = errors.New(`answer must be "yes" or "no"`)

type Options struct {
	MaxUploadBytes int64
	PredictionTTL  time.Duration
}

type Handler struct {
	modelServer model.Classifier
	flowers     *catalog.Store
	recorder    feedback.Recorder
	predictions *PredictionStore
	maxUpload   int64
	templates   *template.Template
}

func NewHandler(modelServer model.Classifier, flowers *catalog.Store, recorder feedback.Recorder, opts Options) (*Handler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.PredictionTTL <= 0 {
		opts.PredictionTTL = 30 * time.Minute
	}
	return &Handler{
		modelServer: modelServer,
		flowers:     flowers,
		recorder:    recorder,
		predictions: NewPredictionStore(opts.PredictionTTL),
		maxUpload:   opts.MaxUploadBytes,
		templates:   tmpl,
	}, nil
}

func apiCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		MaxAge:          12 * time.Hour,
	})
}

// Register mounts the UI and the JSON API on r.
func (h *Handler) Register(r *gin.Engine) {
	r.SetHTMLTemplate(h.templates)

	r.GET("/", h.Index)
	r.POST("/", h.Classify)
	r.POST("/feedback", h.SubmitFeedback)

	api := r.Group("", apiCORS())
	api.GET("/health", h.Health)
	api.POST("/predict", h.Predict)
	api.POST("/predict/image", h.PredictFromImage)
	api.POST("/api/feedback", h.FeedbackAPI)
	// Group middleware only runs on matched routes, so preflights need one.
	for _, path := range []string{"/health", "/predict", "/predict/image", "/api/feedback"} {
		api.OPTIONS(path, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "flowers": h.flowers.Catalog().Len()})
}

func (h *Handler) Predict(c *gin.Context) {
	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	expectedSize := h.modelServer.Info().InputSize()
	if len(req.Image) != expectedSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unexpected input size", "expected": expectedSize, "got": len(req.Image)})
		return
	}

	start := time.Now()
	result, err := h.modelServer.Predict(req.Image)
	if err != nil {
		log.Error().Err(err).Msg("prediction failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Prediction failed"})
		return
	}
	_, known := h.flowers.Lookup(result.ClassID)
	metrics.RecordPrediction("api", known, time.Since(start))

	c.JSON(http.StatusOK, result)
}

type imagePrediction struct {
	*model.PredictionResponse
	PredictionID string          `json:"prediction_id"`
	Flower       *catalog.Flower `json:"flower"`
}

func (h *Handler) PredictFromImage(c *gin.Context) {
	img, uerr := h.readUpload(c)
	if uerr != nil {
		c.JSON(uerr.status, gin.H{"error": uerr.msg})
		return
	}

	result, flower, err := h.classify(img, "api")
	if err != nil {
		log.Error().Err(err).Msg("prediction failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Prediction failed"})
		return
	}
	stored := h.predictions.Put(result)

	c.JSON(http.StatusOK, imagePrediction{PredictionResponse: result, PredictionID: stored.ID, Flower: flower})
}

type feedbackRequest struct {
	PredictionID string `json:"prediction_id" binding:"required"`
	Correct      bool   `json:"correct"`
	Correction   string `json:"correction"`
}

func (h *Handler) FeedbackAPI(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFeedbackBytes)

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.recordFeedback(c.Request.Context(), req.PredictionID, req.Correct, req.Correction)
	switch {
	case errors.Is(err, ErrPredictionNotFound):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case isInvalidCorrection(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record feedback"})
	default:
		c.JSON(http.StatusOK, gin.H{"predicted": rec.Predicted, "correction": rec.Correction})
	}
}

type pageView struct {
	Error         string
	PredictionID  string
	Thumbnail     template.URL
	Flower        *catalog.Flower
	ConfidencePct float32
	ChoseNo       bool
	Correction    string
}

func (h *Handler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", pageView{})
}

func (h *Handler) Classify(c *gin.Context) {
	img, uerr := h.readUpload(c)
	if uerr != nil {
		c.HTML(uerr.status, "index.html", pageView{Error: uerr.msg})
		return
	}

	result, flower, err := h.classify(img, "web")
	if err != nil {
		log.Error().Err(err).Msg("prediction failed")
		c.HTML(http.StatusInternalServerError, "error.html", pageView{Error: "Prediction failed. Please try another image."})
		return
	}

	thumb, err := thumbnailURI(img, thumbnailSide)
	if err != nil {
		log.Warn().Err(err).Msg("thumbnail failed")
	}
	stored := h.predictions.Put(result)

	c.HTML(http.StatusOK, "result.html", pageView{
		PredictionID:  stored.ID,
		Thumbnail:     thumb,
		Flower:        flower,
		ConfidencePct: result.Confidence * 100,
	})
}

func (h *Handler) SubmitFeedback(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFeedbackBytes)
	if err := c.Request.ParseForm(); err != nil {
		c.HTML(http.StatusRequestEntityTooLarge, "error.html", pageView{Error: "Your feedback could not be read. Please try again."})
		return
	}

	id := c.PostForm("prediction_id")
	correction := c.PostForm("correction")

	var (
		confirmed bool
		err       error
	)
	switch c.PostForm("correct") {
	case "yes":
		confirmed = true
	case "no":
	default:
		err = errBadAnswer
	}
	if err == nil {
		_, err = h.recordFeedback(c.Request.Context(), id, confirmed, correction)
	}

	switch {
	case errors.Is(err, ErrPredictionNotFound):
		c.HTML(http.StatusGone, "error.html", pageView{Error: "This prediction has expired. Please upload the image again."})
	case errors.Is(err, errBadAnswer), isInvalidCorrection(err):
		view := pageView{PredictionID: id, ChoseNo: !errors.Is(err, errBadAnswer), Correction: correction, Error: correctionMessage(err)}
		if stored, err := h.predictions.Get(id); err == nil {
			view.ConfidencePct = stored.Confidence * 100
			if f, ok := h.flowers.Lookup(stored.ClassID); ok {
				view.Flower = &f
			}
		}
		c.HTML(http.StatusBadRequest, "result.html", view)
	case err != nil:
		log.Error().Err(err).Msg("record feedback failed")
		c.HTML(http.StatusInternalServerError, "error.html", pageView{Error: "Could not save your feedback. Please try again."})
	default:
		c.HTML(http.StatusOK, "thanks.html", pageView{})
	}
}

// uploadError carries the status and user-facing message for a rejected upload.
type uploadError struct {
	status int
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

// readUpload pulls the "image" form field and decodes it.
func (h *Handler) readUpload(c *gin.Context) (image.Image, *uploadError) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	header, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &uploadError{http.StatusRequestEntityTooLarge, "Image is too large."}
		}
		return nil, &uploadError{http.StatusBadRequest, "No image file provided. Use 'image' as the form field name."}
	}

	file, err := header.Open()
	if err != nil {
		return nil, &uploadError{http.StatusBadRequest, "Failed to read the uploaded file."}
	}
	defer file.Close()

	log.Debug().Str("file", header.Filename).Int64("size", header.Size).Msg("received upload")

	img, format, err := decodeUpload(file)
	if err != nil {
		log.Debug().Err(err).Str("file", header.Filename).Msg("rejected upload")
		return nil, &uploadError{http.StatusBadRequest, "Invalid image format. Supported: JPEG, PNG, WEBP."}
	}

	log.Debug().Str("format", format).Int("width", img.Bounds().Dx()).Int("height", img.Bounds().Dy()).Msg("decoded upload")
	return img, nil
}

func (h *Handler) classify(img image.Image, source string) (*model.PredictionResponse, *catalog.Flower, error) {
	start := time.Now()
	result, err := h.modelServer.PredictImage(img)
	if err != nil {
		return nil, nil, err
	}

	var flower *catalog.Flower
	if f, ok := h.flowers.Lookup(result.ClassID); ok {
		flower = &f
	}
	took := time.Since(start)
	metrics.RecordPrediction(source, flower != nil, took)

	log.Info().Int("class_id", result.ClassID).Str("class", result.Class).
		Float32("confidence", result.Confidence).Dur("took", took).Str("source", source).Msg("prediction")
	return result, flower, nil
}

func isInvalidCorrection(err error) bool {
	return errors.Is(err, feedback.ErrEmptyCorrection) ||
		errors.Is(err, feedback.ErrCorrectionTooLong) ||
		errors.Is(err, feedback.ErrReservedCorrection)
}

func correctionMessage(err error) string {
	switch {
	case errors.Is(err, errBadAnswer):
		return "Please choose Yes or No."
	case errors.Is(err, feedback.ErrCorrectionTooLong):
		return fmt.Sprintf("Please keep the flower name under %d characters.", feedback.MaxCorrectionLen)
	case errors.Is(err, feedback.ErrReservedCorrection):
		return "Please enter the name of the flower."
	default:
		return "Please enter a valid correction."
	}
}

func (h *Handler) recordFeedback(ctx context.Context, predictionID string, confirmed bool, correction string) (feedback.Record, error) {
	correction = strings.TrimSpace(correction)
	if !confirmed {
		if invalid := feedback.ValidateCorrection(correction); invalid != nil {
			// Leave the token usable so the user can fix the name.
			if _, err := h.predictions.Get(predictionID); err != nil {
				return feedback.Record{}, err
			}
			return feedback.Record{}, invalid
		}
	}

	stored, err := h.predictions.Take(predictionID)
	if err != nil {
		return feedback.Record{}, err
	}

	rec := feedback.Record{PredictionID: stored.ID, Predicted: stored.ClassID, Correction: correction}
	if confirmed {
		rec.Correction = feedback.Confirmed
	}
	if err := h.recorder.Record(ctx, rec); err != nil {
		h.predictions.Restore(stored)
		return rec, err
	}
	metrics.RecordFeedback(confirmed)

	log.Info().Str("prediction_id", stored.ID).Int("predicted", rec.Predicted).Str("correction", rec.Correction).Msg("feedback recorded")
	return rec, nil
}
