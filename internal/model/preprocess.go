package model

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

// Preprocess converts an image to the NCHW float32 layout the classifier
// expects: RGB, resized to ImageSize x ImageSize, scaled to [0,1] and
// normalized per channel with the metadata mean and std. Alpha is dropped.
func Preprocess(img image.Image, meta Metadata) []float32 {
	targetSize := uint(meta.ImageSize)
	resized := resize.Resize(targetSize, targetSize, img, resize.Bilinear)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	inputData := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)

			pixelIndex := y*width + x
			inputData[pixelIndex] = normalize(c.R, meta.Mean[0], meta.Std[0])
			inputData[plane+pixelIndex] = normalize(c.G, meta.Mean[1], meta.Std[1])
			inputData[2*plane+pixelIndex] = normalize(c.B, meta.Mean[2], meta.Std[2])
		}
	}
	return inputData
}

func normalize(v uint8, mean, std float32) float32 {
	return (float32(v)/255.0 - mean) / std
}
