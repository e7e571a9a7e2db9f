// Package imagestore turns the image fields of an event request into bytes
// plus a MIME type, either by decoding inline data or by downloading a URL.
package imagestore

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/iliyamo/event-reservation/internal/model"
)

const (
	// MaxBytes caps a stored picture.
	MaxBytes = 2 << 20
	// DownloadTimeout bounds fetching an image_url.
	DownloadTimeout = 8 * time.Second
)

// ErrInvalidImage is returned for undecodable, oversized or non-image input.
var ErrInvalidImage = errors.New("invalid image")

// Input mirrors the accepted request fields.  The first non-empty source
// wins in this order: DataURL, Base64, Hex, URL.
type Input struct {
	DataURL string `json:"image_data_url"`
	Base64  string `json:"image_data_base64"`
	Hex     string `json:"image_hex"`
	MIME    string `json:"image_mime"`
	URL     string `json:"image_url"`
}

// HasInline reports whether the input carries image bytes directly.
func (in Input) HasInline() bool {
	return in.DataURL != "" || in.Base64 != "" || in.Hex != ""
}

// Empty reports whether no image source was given at all.
func (in Input) Empty() bool { return !in.HasInline() && strings.TrimSpace(in.URL) == "" }

// Resolver decodes or downloads images.
type Resolver struct {
	client   *http.Client
	maxBytes int
}

// NewResolver returns a Resolver using client for downloads; nil means a
// client with DownloadTimeout.
func NewResolver(client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: DownloadTimeout}
	}
	return &Resolver{client: client, maxBytes: MaxBytes}
}

// Resolve returns nil, nil for an empty input.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*model.Image, error) {
	switch {
	case in.DataURL != "":
		return r.fromDataURL(in.DataURL)
	case in.Base64 != "":
		data, err := base64.StdEncoding.DecodeString(stripSpace(in.Base64))
		if err != nil {
			return nil, fmt.Errorf("%w: bad base64: %v", ErrInvalidImage, err)
		}
		return r.check(data, in.MIME, "")
	case in.Hex != "":
		data, err := hex.DecodeString(strings.TrimPrefix(stripSpace(in.Hex), "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: bad hex: %v", ErrInvalidImage, err)
		}
		return r.check(data, in.MIME, "")
	case strings.TrimSpace(in.URL) != "":
		return r.Download(ctx, strings.TrimSpace(in.URL))
	}
	return nil, nil
}

func (r *Resolver) fromDataURL(s string) (*model.Image, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return nil, fmt.Errorf("%w: data url must start with data:", ErrInvalidImage)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("%w: only base64 data urls are accepted", ErrInvalidImage)
	}
	data, err := base64.StdEncoding.DecodeString(stripSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64: %v", ErrInvalidImage, err)
	}
	return r.check(data, strings.TrimSuffix(meta, ";base64"), "")
}

// Download fetches url and validates the response as an image.
func (r *Resolver) Download(ctx context.Context, url string) (*model.Image, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("%w: image_url must be http(s)", ErrInvalidImage)
	}
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download failed: %v", ErrInvalidImage, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: download returned %d", ErrInvalidImage, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(r.maxBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrInvalidImage, err)
	}
	return r.check(data, resp.Header.Get("Content-Type"), url)
}

func (r *Resolver) check(data []byte, contentType, url string) (*model.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	if len(data) > r.maxBytes {
		return nil, fmt.Errorf("%w: image larger than %d bytes", ErrInvalidImage, r.maxBytes)
	}
	mt := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mt = parsed
	}
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mt, "image/") {
		return nil, fmt.Errorf("%w: content type %q is not an image", ErrInvalidImage, mt)
	}
	return &model.Image{URL: url, Data: data, MIME: mt}, nil
}

// DataURL renders stored bytes as a data: URL.
func DataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}
