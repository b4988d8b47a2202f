package translator

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
)

// Image is a generated image, either inline bytes or a URL.
type Image struct {
	Data        []byte
	ContentType string
	URL         string
}

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegMagic = []byte{0xff, 0xd8, 0xff}
)

// SniffImage returns the MIME type of raw PNG or JPEG bytes, or "".
func SniffImage(body []byte) string {
	switch {
	case bytes.HasPrefix(body, pngMagic):
		return "image/png"
	case bytes.HasPrefix(body, jpegMagic):
		return "image/jpeg"
	}
	return ""
}

// ParseImage decodes an image generation response, which is raw image
// bytes or a JSON envelope whose result is a URL, a data URL or an object
// carrying one.
func ParseImage(body []byte) (*Image, error) {
	if mime := SniffImage(body); mime != "" {
		return &Image{Data: body, ContentType: mime}, nil
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &domain.UpstreamError{Message: "empty upstream response"}
	}
	if trimmed[0] != '{' {
		return nil, &domain.UpstreamError{Message: "unrecognized image response"}
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode image envelope: %w", err)
	}
	if env.Success != nil && !*env.Success {
		return nil, &domain.UpstreamError{Message: ErrorMessage(env.Error)}
	}

	result := bytes.TrimSpace(env.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, &domain.UpstreamError{Message: "image response without result"}
	}

	var ref string
	if result[0] == '"' {
		if err := json.Unmarshal(result, &ref); err != nil {
			return nil, fmt.Errorf("decode image result: %w", err)
		}
	} else {
		var obj struct {
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
			Data    []struct {
				URL     string `json:"url"`
				B64JSON string `json:"b64_json"`
			} `json:"data"`
		}
		if err := json.Unmarshal(result, &obj); err != nil {
			return nil, fmt.Errorf("decode image result: %w", err)
		}
		if obj.URL == "" && obj.B64JSON == "" && len(obj.Data) > 0 {
			obj.URL, obj.B64JSON = obj.Data[0].URL, obj.Data[0].B64JSON
		}
		ref = obj.URL
		if ref == "" && obj.B64JSON != "" {
			ref = "data:image/png;base64," + obj.B64JSON
		}
	}

	if ref == "" {
		return nil, &domain.UpstreamError{Message: "image response without url"}
	}
	if strings.HasPrefix(ref, "data:") {
		mime, data, err := DecodeDataURL(ref)
		if err != nil {
			return nil, err
		}
		return &Image{Data: data, ContentType: mime}, nil
	}
	return &Image{URL: ref}, nil
}

// DecodeDataURL decodes a base64 data URL.
func DecodeDataURL(ref string) (string, []byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "", nil, fmt.Errorf("unsupported data url")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data url: %w", err)
	}
	mime := strings.TrimSuffix(header, ";base64")
	if mime == "" {
		mime = "image/png"
	}
	return mime, data, nil
}

// ToImageResponse renders img in the requested response_format. A URL
// result is returned as-is; inline data is returned as b64_json unless the
// client asked for url, in which case a data URL is used.
func ToImageResponse(img *Image, format string, created int64) *domain.ImageResponse {
	var d domain.ImageData
	switch {
	case img.URL != "":
		d.URL = img.URL
	case format == "url":
		d.URL = "data:" + img.ContentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
	default:
		d.B64JSON = base64.StdEncoding.EncodeToString(img.Data)
	}
	return &domain.ImageResponse{Created: created, Data: []domain.ImageData{d}}
}
