package model

import (
	"fmt"
	"math"
	"sort"
)

// Argmax returns the index of the first maximal logit, or -1 for no logits.
func Argmax(logits []float32) int {
	if len(logits) == 0 {
		return -1
	}
	maxIdx := 0
	maxVal := logits[0]
	for i, val := range logits[1:] {
		if val > maxVal {
			maxVal = val
			maxIdx = i + 1
		}
	}
	return maxIdx
}

// Softmax converts logits to probabilities, shifting by the max first so
// large logits do not overflow.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[Argmax(logits)]
	out := make([]float32, len(logits))
	var sum float64
	for i, val := range logits {
		e := math.Exp(float64(val - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// Label names class id, falling back to class_<id> when labels has no entry.
func Label(labels []string, id int) string {
	if id >= 0 && id < len(labels) && labels[id] != "" {
		return labels[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// NewPrediction turns raw logits into a response carrying the argmax and the
// topK most probable classes.
func NewPrediction(logits []float32, labels []string, topK int) (*PredictionResponse, error) {
	if len(logits) == 0 {
		return nil, fmt.Errorf("empty model output")
	}
	probs := Softmax(logits)
	best := Argmax(logits)

	if topK <= 0 || topK > len(probs) {
		topK = len(probs)
	}
	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return probs[order[a]] > probs[order[b]]
	})

	top := make([]Score, 0, topK)
	for _, id := range order[:topK] {
		top = append(top, Score{ClassID: id, Class: Label(labels, id), Probability: probs[id]})
	}

	return &PredictionResponse{
		ClassID:    best,
		Class:      Label(labels, best),
		Confidence: probs[best],
		Top:        top,
	}, nil
}
