package imagestore

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var png = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestResolveInline(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()
	b64 := base64.StdEncoding.EncodeToString(png)

	t.Run("data url", func(t *testing.T) {
		img, err := r.Resolve(ctx, Input{DataURL: "data:image/png;base64," + b64})
		require.NoError(t, err)
		assert.Equal(t, "image/png", img.MIME)
		assert.Equal(t, png, img.Data)
		assert.Empty(t, img.URL)
	})

	t.Run("base64 with mime", func(t *testing.T) {
		img, err := r.Resolve(ctx, Input{Base64: b64, MIME: "image/webp"})
		require.NoError(t, err)
		assert.Equal(t, "image/webp", img.MIME)
	})

	t.Run("hex sniffs mime", func(t *testing.T) {
		img, err := r.Resolve(ctx, Input{Hex: "0x89504e470d0a1a0a0000000d49484452"})
		require.NoError(t, err)
		assert.Equal(t, "image/png", img.MIME)
	})

	t.Run("data url wins over url", func(t *testing.T) {
		img, err := r.Resolve(ctx, Input{DataURL: "data:image/png;base64," + b64, URL: "http://unused.invalid/x.png"})
		require.NoError(t, err)
		assert.Empty(t, img.URL)
	})

	t.Run("empty", func(t *testing.T) {
		img, err := r.Resolve(ctx, Input{})
		assert.NoError(t, err)
		assert.Nil(t, img)
	})
}

func TestResolveRejects(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()

	cases := map[string]Input{
		"not base64":     {Base64: "%%%", MIME: "image/png"},
		"not an image":   {Base64: base64.StdEncoding.EncodeToString([]byte("hello")), MIME: "text/plain"},
		"plain data url": {DataURL: "data:image/png,raw"},
		"ftp url":        {URL: "ftp://example.com/a.png"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(ctx, in)
			assert.ErrorIs(t, err, ErrInvalidImage)
		})
	}

	t.Run("too large", func(t *testing.T) {
		big := make([]byte, MaxBytes+1)
		copy(big, png)
		_, err := r.Resolve(ctx, Input{Base64: base64.StdEncoding.EncodeToString(big), MIME: "image/png"})
		assert.ErrorIs(t, err, ErrInvalidImage)
	})
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png; charset=binary")
			_, _ = w.Write(png)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, req)
		}
	}))
	defer srv.Close()

	r := NewResolver(srv.Client())

	img, err := r.Resolve(context.Background(), Input{URL: srv.URL + "/ok.png"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIME)
	assert.Equal(t, srv.URL+"/ok.png", img.URL)

	_, err = r.Download(context.Background(), srv.URL+"/page")
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = r.Download(context.Background(), srv.URL+"/missing")
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestDataURL(t *testing.T) {
	assert.True(t, strings.HasPrefix(DataURL("image/gif", []byte{1}), "data:image/gif;base64,"))
	assert.True(t, strings.HasPrefix(DataURL("", []byte{1}), "data:application/octet-stream;base64,"))
}
