package main

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"aichat/internal/domain"
)

// maxImageSize bounds a single attachment.
const maxImageSize = 20 << 20

// loadImage reads an image file into an attachment. Only image/* content is
// accepted.
func loadImage(path string) (domain.Image, error) {
	const op = "loadImage"
	if strings.TrimSpace(path) == "" {
		return domain.Image{}, domain.NewDomainError(op, domain.ErrValidation, "Usage: /image <path>")
	}
	info, err := os.Stat(path)
	if err != nil {
		return domain.Image{}, domain.NewDomainError(op, domain.ErrValidation, fmt.Sprintf("Cannot read %s.", path))
	}
	if info.Size() > maxImageSize {
		return domain.Image{}, domain.NewDomainError(op, domain.ErrValidation,
			fmt.Sprintf("%s is larger than %d MB.", filepath.Base(path), maxImageSize>>20))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Image{}, domain.NewDomainError(op, domain.ErrValidation, fmt.Sprintf("Cannot read %s.", path))
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	}
	mimeType, _, _ = strings.Cut(mimeType, ";")
	if !strings.HasPrefix(mimeType, "image/") {
		return domain.Image{}, domain.NewDomainError(op, domain.ErrValidation,
			fmt.Sprintf("%s is not an image.", filepath.Base(path)))
	}
	return domain.Image{
		Name:     filepath.Base(path),
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}
