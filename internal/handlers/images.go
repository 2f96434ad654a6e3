package handlers

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

var supportedFormats = map[string]bool{"jpeg": true, "png": true, "webp": true}

// decodeUpload reads an uploaded image, honouring EXIF orientation the way a
// phone camera intends it to be viewed.
func decodeUpload(r io.Reader) (image.Image, string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("unrecognised image: %w", err)
	}
	if !supportedFormats[format] {
		return nil, format, fmt.Errorf("unsupported image format %q", format)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, format, fmt.Errorf("decode %s: %w", format, err)
	}
	return img, format, nil
}

// thumbnailURI renders a small JPEG preview as a data URI for the result page.
func thumbnailURI(img image.Image, maxSide int) (template.URL, error) {
	thumb := imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return template.URL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}
