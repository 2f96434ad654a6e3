package model

import (
	"errors"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ErrInputSize = errors.New("unexpected input size")

type Options struct {
	ModelPath    string
	MetadataPath string
	// SharedLibrary points at libonnxruntime when it is not on the default
	// loader path.
	SharedLibrary string
	// Labels overrides Metadata.Classes, typically with the flower catalog names.
	Labels []string
	TopK   int
}

type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	labels       []string
	topK         int
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func NewServer(opts Options) (*Server, error) {
	metadata, err := LoadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	if opts.SharedLibrary != "" {
		ort.SetSharedLibraryPath(opts.SharedLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	labels := opts.Labels
	if len(labels) == 0 {
		labels = metadata.Classes
	}

	return &Server{
		session:      session,
		Metadata:     metadata,
		labels:       labels,
		topK:         opts.TopK,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (s *Server) Info() Metadata {
	return s.Metadata
}

// SetLabels swaps the class names, e.g. after the flower catalog reloads.
func (s *Server) SetLabels(labels []string) {
	s.mu.Lock()
	s.labels = labels
	s.mu.Unlock()
}

func (s *Server) Predict(inputData []float32) (*PredictionResponse, error) {
	if want := s.Metadata.InputSize(); len(inputData) != want {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInputSize, want, len(inputData))
	}

	// The session reuses its bound tensors, so one inference at a time.
	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.inputTensor.GetData(), inputData)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	outputData := s.outputTensor.GetData()
	logits := make([]float32, s.Metadata.NumClasses())
	copy(logits, outputData)

	return NewPrediction(logits, s.labels, s.topK)
}

func (s *Server) PredictImage(img image.Image) (*PredictionResponse, error) {
	return s.Predict(Preprocess(img, s.Metadata))
}

func (s *Server) Close() {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
	ort.DestroyEnvironment()
}

var _ Classifier = (*Server)(nil)
