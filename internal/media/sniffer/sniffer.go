package sniffer

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type MediaType string

const (
	TypeJPEG MediaType = "jpeg"
	TypePNG  MediaType = "png"
	TypeGIF  MediaType = "gif"
	TypeWEBP MediaType = "webp"
	TypeAVIF MediaType = "avif"
	TypeBMP  MediaType = "bmp"
	TypeTIFF MediaType = "tiff"
)

// HeadSize is how many leading bytes DetectHead needs.
const HeadSize = 512

var (
	ErrUnknownType  = errors.New("unknown media type")
	ErrTypeMismatch = errors.New("content type mismatch")
)

type Result struct {
	Type MediaType
	MIME string
}

// DetectHead identifies an image from its magic bytes.
func DetectHead(head []byte) (Result, error) {
	switch {
	case len(head) == 0:
		return Result{}, ErrUnknownType
	case isJPEG(head):
		return Result{Type: TypeJPEG, MIME: "image/jpeg"}, nil
	case isPNG(head):
		return Result{Type: TypePNG, MIME: "image/png"}, nil
	case isGIF(head):
		return Result{Type: TypeGIF, MIME: "image/gif"}, nil
	case isWEBP(head):
		return Result{Type: TypeWEBP, MIME: "image/webp"}, nil
	case isAVIF(head):
		return Result{Type: TypeAVIF, MIME: "image/avif"}, nil
	case isBMP(head):
		return Result{Type: TypeBMP, MIME: "image/bmp"}, nil
	case isTIFF(head):
		return Result{Type: TypeTIFF, MIME: "image/tiff"}, nil
	}
	return Result{}, ErrUnknownType
}

// IsImage reports whether a declared content type is in the image family.
func IsImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// CheckDeclared fails only when the bytes are a recognised image of a
// different type than declared. Unrecognised bytes pass.
func CheckDeclared(declared string, head []byte) error {
	result, err := DetectHead(head)
	if errors.Is(err, ErrUnknownType) {
		return nil
	}
	if normalize(declared) == result.MIME {
		return nil
	}
	if result.Type == TypeJPEG && normalize(declared) == "image/jpg" {
		return nil
	}
	return fmt.Errorf("%w: declared %s, actual %s", ErrTypeMismatch, declared, result.MIME)
}

func isJPEG(head []byte) bool {
	return len(head) > 3 &&
		head[0] == 0xff &&
		head[1] == 0xd8 &&
		head[2] == 0xff
}

func isPNG(head []byte) bool {
	pngMagic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	return bytes.HasPrefix(head, pngMagic)
}

func isGIF(head []byte) bool {
	return bytes.HasPrefix(head, []byte("GIF87a")) || bytes.HasPrefix(head, []byte("GIF89a"))
}

func isWEBP(head []byte) bool {
	return len(head) >= 12 &&
		bytes.Equal(head[:4], []byte("RIFF")) &&
		bytes.Equal(head[8:12], []byte("WEBP"))
}

func isAVIF(head []byte) bool {
	if len(head) < 12 {
		return false
	}
	boxType := string(head[4:8])
	return boxType == "ftyp" && bytes.Contains(head[8:], []byte("avif"))
}

func isBMP(head []byte) bool {
	return len(head) >= 14 && head[0] == 'B' && head[1] == 'M'
}

func isTIFF(head []byte) bool {
	return bytes.HasPrefix(head, []byte{'I', 'I', 0x2a, 0x00}) ||
		bytes.HasPrefix(head, []byte{'M', 'M', 0x00, 0x2a})
}

func normalize(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// MimeTypeFromHTTP returns the media type of a part header without params.
func MimeTypeFromHTTP(header http.Header) string {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		return ""
	}
	return normalize(contentType)
}
