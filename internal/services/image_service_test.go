package services

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageService_CreateVariants(t *testing.T) {
	svc := NewImageService()

	t.Run("renders three jpeg renditions", func(t *testing.T) {
		variants, err := svc.CreateVariants(testImageBytes(t), "pano.png")
		require.NoError(t, err)

		assert.Equal(t, 16, variants.Width)
		assert.Equal(t, 8, variants.Height)

		for _, data := range [][]byte{variants.Original, variants.Mobile, variants.Thumbnail} {
			img, err := jpeg.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.NotNil(t, img)
		}
	})

	t.Run("small images are not upscaled", func(t *testing.T) {
		variants, err := svc.CreateVariants(testImageBytes(t), "pano.png")
		require.NoError(t, err)

		img, err := jpeg.Decode(bytes.NewReader(variants.Original))
		require.NoError(t, err)
		assert.Equal(t, 16, img.Bounds().Dx())
		assert.Equal(t, 8, img.Bounds().Dy())
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := svc.CreateVariants([]byte("not an image"), "pano.jpg")
		assert.Error(t, err)
	})
}

func TestImageService_CaptureDate(t *testing.T) {
	svc := NewImageService()

	t.Run("nil when the image has no metadata", func(t *testing.T) {
		assert.Nil(t, svc.CaptureDate(testImageBytes(t)))
	})
}

func TestIsHEIC(t *testing.T) {
	assert.True(t, IsHEIC("photo.heic"))
	assert.True(t, IsHEIC("photo.HEIF"))
	assert.False(t, IsHEIC("photo.jpg"))
	assert.False(t, IsHEIC("photo"))
}
