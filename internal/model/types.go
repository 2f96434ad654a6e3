package model

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
)

var (
	defaultMean = []float32{0.485, 0.456, 0.406}
	defaultStd  = []float32{0.229, 0.224, 0.225}
)

type Metadata struct {
	InputShape  []int64   `json:"input_shape"`
	OutputShape []int64   `json:"output_shape"`
	Classes     []string  `json:"classes,omitempty"`
	ImageSize   int       `json:"image_size"`
	Mean        []float32 `json:"mean,omitempty"`
	Std         []float32 `json:"std,omitempty"`
	InputName   string    `json:"input_name,omitempty"`
	OutputName  string    `json:"output_name,omitempty"`
}

// DefaultMetadata describes a ResNet-50 fine-tuned on the 102 flower categories.
func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  []int64{1, 3, 224, 224},
		OutputShape: []int64{1, 102},
		ImageSize:   224,
		Mean:        append([]float32(nil), defaultMean...),
		Std:         append([]float32(nil), defaultStd...),
		InputName:   "input",
		OutputName:  "output",
	}
}

// LoadMetadata reads model_metadata.json and fills any field it leaves out
// from DefaultMetadata.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	meta.applyDefaults()
	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (m *Metadata) applyDefaults() {
	def := DefaultMetadata()
	if len(m.InputShape) == 0 {
		m.InputShape = def.InputShape
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = def.OutputShape
	}
	if m.ImageSize <= 0 {
		m.ImageSize = def.ImageSize
	}
	if len(m.Mean) == 0 {
		m.Mean = def.Mean
	}
	if len(m.Std) == 0 {
		m.Std = def.Std
	}
	if m.InputName == "" {
		m.InputName = def.InputName
	}
	if m.OutputName == "" {
		m.OutputName = def.OutputName
	}
}

func (m Metadata) Validate() error {
	if len(m.Mean) != 3 || len(m.Std) != 3 {
		return fmt.Errorf("metadata: mean and std need 3 channels, got %d and %d", len(m.Mean), len(m.Std))
	}
	for i, s := range m.Std {
		if s == 0 {
			return fmt.Errorf("metadata: std[%d] is zero", i)
		}
	}
	if m.InputSize() != 3*m.ImageSize*m.ImageSize {
		return fmt.Errorf("metadata: input shape %v does not hold a 3x%dx%d image", m.InputShape, m.ImageSize, m.ImageSize)
	}
	if m.NumClasses() <= 0 {
		return fmt.Errorf("metadata: output shape %v has no classes", m.OutputShape)
	}
	if len(m.Classes) > 0 && len(m.Classes) != m.NumClasses() {
		return fmt.Errorf("metadata: %d class names for %d outputs", len(m.Classes), m.NumClasses())
	}
	return nil
}

// InputSize is the number of float32 values one prediction consumes.
func (m Metadata) InputSize() int {
	return shapeSize(m.InputShape)
}

// NumClasses is the output dimensionality of the classifier head.
func (m Metadata) NumClasses() int {
	return shapeSize(m.OutputShape)
}

func shapeSize(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range shape {
		n *= int(dim)
	}
	return n
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type Score struct {
	ClassID     int     `json:"class_id"`
	Class       string  `json:"class"`
	Probability float32 `json:"probability"`
}

type PredictionResponse struct {
	ClassID    int     `json:"class_id"`
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	Top        []Score `json:"top"`
}

// Classifier is what the web and chat front-ends need from a model.
type Classifier interface {
	Predict(input []float32) (*PredictionResponse, error)
	PredictImage(img image.Image) (*PredictionResponse, error)
	Info() Metadata
}
