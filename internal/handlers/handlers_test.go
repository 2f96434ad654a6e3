package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/flower-identifier/internal/catalog"
	"github.com/Brownie44l1/flower-identifier/internal/feedback"
	"github.com/Brownie44l1/flower-identifier/internal/model"
)

type fakeClassifier struct {
	meta    model.Metadata
	classID int
	labels  []string
}

func (f *fakeClassifier) Info() model.Metadata { return f.meta }

func (f *fakeClassifier) Predict(input []float32) (*model.PredictionResponse, error) {
	logits := make([]float32, f.meta.NumClasses())
	logits[f.classID] = 10
	return model.NewPrediction(logits, f.labels, 3)
}

func (f *fakeClassifier) PredictImage(img image.Image) (*model.PredictionResponse, error) {
	return f.Predict(model.Preprocess(img, f.meta))
}

type testServer struct {
	router  *gin.Engine
	handler *Handler
	logPath string
	model   *fakeClassifier
}

func setupTestServer(t *testing.T, classID int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	meta := model.DefaultMetadata()
	meta.ImageSize = 4
	meta.InputShape = []int64{1, 3, 4, 4}
	meta.OutputShape = []int64{1, 10}

	c, err := catalog.New([]catalog.Flower{{
		ID: 5, Name: "english marigold", ScientificName: "Calendula officinalis", Genus: "Calendula",
		FunFact: "Petals are edible.", WhereFound: "Southern Europe",
	}})
	require.NoError(t, err)

	logPath := filepath.Join(t.TempDir(), "feedback.log")
	fbLog, err := feedback.OpenLog(logPath)
	require.NoError(t, err)
	t.Cleanup(func() { fbLog.Close() })

	clf := &fakeClassifier{meta: meta, classID: classID, labels: c.Labels(10)}
	h, err := NewHandler(clf, catalog.NewStore(c), fbLog, Options{MaxUploadBytes: 1 << 20, PredictionTTL: time.Minute})
	require.NoError(t, err)

	r := gin.New()
	h.Register(r)
	return &testServer{router: r, handler: h, logPath: logPath, model: clf}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.NRGBA{R: 240, G: 180, B: 20, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, path, field string, body []byte) *http.Request {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	w, err := mw.CreateFormFile(field, "flower.png")
	require.NoError(t, err)
	_, err = w.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func formRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

var predictionIDRE = regexp.MustCompile(`name="prediction_id" value="([^"]+)"`)

func readLog(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}

func TestIndex(t *testing.T) {
	s := setupTestServer(t, 5)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Flower Classification")
	require.Contains(t, rec.Body.String(), "Upload a flower image to identify it.")
}

func TestUploadPredictCorrectFlow(t *testing.T) {
	s := setupTestServer(t, 5)

	rec := s.do(uploadRequest(t, "/", "image", pngBytes(t)))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "English Marigold")
	require.Contains(t, body, "Calendula officinalis")
	require.Contains(t, body, "data:image/jpeg;base64,")

	m := predictionIDRE.FindStringSubmatch(body)
	require.Len(t, m, 2)
	id := m[1]

	// "No" without a name keeps the user on the result page
	rec = s.do(formRequest(url.Values{"prediction_id": {id}, "correct": {"no"}, "correction": {"   "}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Please enter a valid correction.")
	require.Empty(t, readLog(t, s.logPath))

	rec = s.do(formRequest(url.Values{"prediction_id": {id}, "correct": {"no"}, "correction": {"  pot marigold "}}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Thank you for your feedback!")

	logged := readLog(t, s.logPath)
	require.Contains(t, logged, "Predicted: 5, Correction: pot marigold\n")
	recs, err := feedback.ReadAll(strings.NewReader(logged))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	// the token is spent once feedback is stored
	rec = s.do(formRequest(url.Values{"prediction_id": {id}, "correct": {"yes"}}))
	require.Equal(t, http.StatusGone, rec.Code)
}

func TestConfirmLogsCorrect(t *testing.T) {
	s := setupTestServer(t, 5)
	rec := s.do(uploadRequest(t, "/", "image", pngBytes(t)))
	id := predictionIDRE.FindStringSubmatch(rec.Body.String())[1]

	rec = s.do(formRequest(url.Values{"prediction_id": {id}, "correct": {"yes"}, "correction": {"ignored"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, readLog(t, s.logPath), "Predicted: 5, Correction: correct\n")
}

func TestUnknownFlower(t *testing.T) {
	s := setupTestServer(t, 7)
	rec := s.do(uploadRequest(t, "/", "image", pngBytes(t)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "This flower is not in our database.")
}

func TestUploadRejectsNonImage(t *testing.T) {
	s := setupTestServer(t, 5)

	rec := s.do(uploadRequest(t, "/", "image", []byte("definitely not an image")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid image format")

	rec = s.do(uploadRequest(t, "/predict/image", "file", pngBytes(t)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadTooLarge(t *testing.T) {
	s := setupTestServer(t, 5)
	s.handler.maxUpload = 64

	rec := s.do(uploadRequest(t, "/predict/image", "image", bytes.Repeat([]byte{0xff}, 4096)))
	require.GreaterOrEqual(t, rec.Code, 400)
	require.Less(t, rec.Code, 500)
}

func TestExpiredPrediction(t *testing.T) {
	s := setupTestServer(t, 5)
	rec := s.do(formRequest(url.Values{"prediction_id": {"nope"}, "correct": {"yes"}}))
	require.Equal(t, http.StatusGone, rec.Code)
}

func TestJSONPredictAndFeedback(t *testing.T) {
	s := setupTestServer(t, 5)

	req := uploadRequest(t, "/predict/image", "image", pngBytes(t))
	req.Header.Set("Origin", "http://localhost:3000")
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var resp struct {
		ClassID      int             `json:"class_id"`
		Class        string          `json:"class"`
		PredictionID string          `json:"prediction_id"`
		Flower       *catalog.Flower `json:"flower"`
		Top          []model.Score   `json:"top"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 5, resp.ClassID)
	require.Equal(t, "english marigold", resp.Class)
	require.NotNil(t, resp.Flower)
	require.Len(t, resp.Top, 3)
	require.NotEmpty(t, resp.PredictionID)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/feedback", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return s.do(req)
	}

	rec = post(`{"prediction_id":"` + resp.PredictionID + `","correct":false,"correction":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(`{"prediction_id":"` + resp.PredictionID + `","correct":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, readLog(t, s.logPath), "Predicted: 5, Correction: correct")

	rec = post(`{"prediction_id":"` + resp.PredictionID + `","correct":true}`)
	require.Equal(t, http.StatusGone, rec.Code)

	rec = post(`{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRawPredict(t *testing.T) {
	s := setupTestServer(t, 2)

	body, err := json.Marshal(model.PredictionRequest{Image: make([]float32, 48)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.ClassID)
	require.Less(t, resp.ClassID, s.model.meta.NumClasses())

	req = httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"image":[1,2,3]}`))
	req.Header.Set("Content-Type", "application/json")
	rec = s.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{`))
	rec = s.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndPreflight(t *testing.T) {
	s := setupTestServer(t, 5)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	raw, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"healthy","flowers":1}`, string(raw))

	req := httptest.NewRequest(http.MethodOptions, "/predict/image", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = s.do(req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestPredictionStoreExpiry(t *testing.T) {
	store := NewPredictionStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	p := store.Put(&model.PredictionResponse{ClassID: 4, Class: "x"})
	got, err := store.Get(p.ID)
	require.NoError(t, err)
	require.Equal(t, 4, got.ClassID)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(p.ID)
	require.ErrorIs(t, err, ErrPredictionNotFound)

	store.Put(&model.PredictionResponse{ClassID: 1})
	require.Equal(t, 1, store.Len())
}

func uploadForID(t *testing.T, s *testServer) string {
	t.Helper()
	rec := s.do(uploadRequest(t, "/", "image", pngBytes(t)))
	require.Equal(t, http.StatusOK, rec.Code)
	m := predictionIDRE.FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 2)
	return m[1]
}

func TestFeedbackRequiresYesOrNo(t *testing.T) {
	s := setupTestServer(t, 5)
	id := uploadForID(t, s)

	for _, answer := range []string{"maybe", "", "YES!"} {
		rec := s.do(formRequest(url.Values{"prediction_id": {id}, "correct": {answer}, "correction": {"tulip"}}))
		require.Equal(t, http.StatusBadRequest, rec.Code, answer)
		require.Contains(t, rec.Body.String(), "Please choose Yes or No.")
	}
	require.Empty(t, readLog(t, s.logPath))

	// the token survives a rejected answer
	rec := s.do(formRequest(url.Values{"prediction_id": {id}, "correct": {"no"}, "correction": {"tulip"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, readLog(t, s.logPath), "Predicted: 5, Correction: tulip\n")
}

func TestFeedbackRejectsBadCorrections(t *testing.T) {
	s := setupTestServer(t, 5)
	id := uploadForID(t, s)

	rec := s.do(formRequest(url.Values{"prediction_id": {id}, "correct": {"no"}, "correction": {strings.Repeat("a", feedback.MaxCorrectionLen+1)}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Please keep the flower name under")

	rec = s.do(formRequest(url.Values{"prediction_id": {id}, "correct": {"no"}, "correction": {"Correct"}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Please enter the name of the flower.")

	rec = s.do(formRequest(url.Values{"prediction_id": {id}, "correct": {"no"}, "correction": {strings.Repeat("a", 2<<20)}}))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	require.Empty(t, readLog(t, s.logPath))
}

func TestFeedbackAPIBodyLimits(t *testing.T) {
	s := setupTestServer(t, 5)
	rec := s.do(uploadRequest(t, "/predict/image", "image", pngBytes(t)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		PredictionID string `json:"prediction_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/feedback", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return s.do(req)
	}

	rec = post(`{"prediction_id":"` + resp.PredictionID + `","correction":"` + strings.Repeat("a", feedback.MaxCorrectionLen+1) + `"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(`{"prediction_id":"` + resp.PredictionID + `","correction":"` + strings.Repeat("a", 2<<20) + `"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = post(`{"prediction_id":"` + resp.PredictionID + `","correction":"correct"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Empty(t, readLog(t, s.logPath))
}

func TestConcurrentFeedbackRecordsOnce(t *testing.T) {
	s := setupTestServer(t, 5)
	id := uploadForID(t, s)

	const n = 8
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- s.do(formRequest(url.Values{"prediction_id": {id}, "correct": {"yes"}})).Code
		}()
	}
	wg.Wait()
	close(codes)

	ok := 0
	for code := range codes {
		if code == http.StatusOK {
			ok++
		} else {
			require.Equal(t, http.StatusGone, code)
		}
	}
	require.Equal(t, 1, ok)

	recs, err := feedback.ReadFile(s.logPath)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, feedback.Record) error {
	return errors.New("disk full")
}

func TestFailedRecordKeepsToken(t *testing.T) {
	s := setupTestServer(t, 5)
	id := uploadForID(t, s)

	working := s.handler.recorder
	s.handler.recorder = failingRecorder{}
	rec := s.do(formRequest(url.Values{"prediction_id": {id}, "correct": {"yes"}}))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	s.handler.recorder = working
	rec = s.do(formRequest(url.Values{"prediction_id": {id}, "correct": {"yes"}}))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPredictionStoreTake(t *testing.T) {
	store := NewPredictionStore(time.Minute)
	p := store.Put(&model.PredictionResponse{ClassID: 4})

	got, err := store.Take(p.ID)
	require.NoError(t, err)
	require.Equal(t, 4, got.ClassID)

	_, err = store.Take(p.ID)
	require.ErrorIs(t, err, ErrPredictionNotFound)

	store.Restore(got)
	_, err = store.Get(p.ID)
	require.NoError(t, err)
}
