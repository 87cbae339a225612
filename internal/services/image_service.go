package services

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
	"github.com/rwcarlsen/goexif/exif"
)

// VariantSize is one rendition of an uploaded photo
type VariantSize struct {
	Name    string
	MaxDim  int // Maximum dimension (width or height)
	Quality int // JPEG quality (1-100)
}

var (
	// VariantOriginal caps the full-size rendition for panorama viewers
	VariantOriginal = VariantSize{Name: "original", MaxDim: 4000, Quality: 90}
	// VariantMobile is the rendition served to tablets and phones
	VariantMobile = VariantSize{Name: "mobile", MaxDim: 1920, Quality: 85}
	// VariantThumbnail is the grid preview rendition
	VariantThumbnail = VariantSize{Name: "thumbnail", MaxDim: 400, Quality: 80}
)

// ImageVariants holds the three JPEG renditions uploaded for each photo
type ImageVariants struct {
	Original  []byte
	Mobile    []byte
	Thumbnail []byte
	Width     int
	Height    int
}

// ImageService produces upload-ready JPEG renditions from raw captures.
// Everything stays in memory; the queue is the only place raw bytes persist.
type ImageService struct{}

// NewImageService creates a new ImageService
func NewImageService() *ImageService {
	return &ImageService{}
}

// CreateVariants decodes a capture, corrects its orientation and renders the
// three upload sizes
func (s *ImageService) CreateVariants(data []byte, filename string) (*ImageVariants, error) {
	img, err := decodeImage(data, filename)
	if err != nil {
		return nil, err
	}

	img = applyOrientation(img, readOrientation(data))

	bounds := img.Bounds()
	result := &ImageVariants{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	variants := []struct {
		size VariantSize
		out  *[]byte
	}{
		{VariantOriginal, &result.Original},
		{VariantMobile, &result.Mobile},
		{VariantThumbnail, &result.Thumbnail},
	}

	for _, v := range variants {
		encoded, err := encodeVariant(img, v.size)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s variant: %w", v.size.Name, err)
		}
		*v.out = encoded
	}

	return result, nil
}

// CaptureDate reads the EXIF capture timestamp, nil when absent
func (s *ImageService) CaptureDate(data []byte) *time.Time {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	if tm, err := x.DateTime(); err == nil {
		return &tm
	}
	return nil
}

func decodeImage(data []byte, filename string) (image.Image, error) {
	if IsHEIC(filename) {
		img, err := goheif.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode HEIC image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// Filename extensions lie; fall back to HEIC before giving up
		if heicImg, heicErr := goheif.Decode(bytes.NewReader(data)); heicErr == nil {
			return heicImg, nil
		}
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

func encodeVariant(img image.Image, size VariantSize) ([]byte, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	var newWidth, newHeight int
	if width > height {
		if width > size.MaxDim {
			newWidth = size.MaxDim
			newHeight = height * size.MaxDim / width
		} else {
			newWidth = width
			newHeight = height
		}
	} else {
		if height > size.MaxDim {
			newHeight = size.MaxDim
			newWidth = width * size.MaxDim / height
		} else {
			newWidth = width
			newHeight = height
		}
	}

	resized := imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)

	var buf bytes.Buffer
	opts := &jpeg.Options{Quality: size.Quality}
	if err := jpeg.Encode(&buf, resized, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readOrientation returns the EXIF orientation tag, 1 when absent
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	val, err := tag.Int(0)
	if err != nil || val < 1 || val > 8 {
		return 1
	}
	return val
}

// applyOrientation corrects image orientation based on EXIF data
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Rotate270(imaging.FlipH(img))
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Rotate90(imaging.FlipH(img))
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// IsHEIC checks if the file is HEIC/HEIF format (requires special handling)
func IsHEIC(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".heic" || ext == ".heif"
}
