package utils

import (
	"fmt"
	"image"
	"os"
	"strings"

	// Registered decoders for decodability checks.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// IsValidImageType checks if the content type is a valid image type
func IsValidImageType(contentType string) bool {
	validTypes := []string{
		"image/jpeg",
		"image/jpg",
		"image/png",
		"image/gif",
		"image/webp",
	}

	for _, validType := range validTypes {
		if strings.EqualFold(contentType, validType) {
			return true
		}
	}

	return false
}

// ValidateImageFile checks that the file at path exists and holds a
// decodable image. Only the header is read; the pixel data is not
// decoded.
func ValidateImageFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image %s: %v", path, err)
	}
	defer file.Close()

	if _, _, err := image.DecodeConfig(file); err != nil {
		return fmt.Errorf("file %s is not a decodable image: %v", path, err)
	}
	return nil
}
