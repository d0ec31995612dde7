package tiles

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPFetcher(t *testing.T) {
	var tilePNG bytes.Buffer
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	src.Set(1, 1, color.RGBA{R: 255, A: 255})
	if err := png.Encode(&tilePNG, src); err != nil {
		t.Fatalf("encode: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ok.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(tilePNG.Bytes())
	})
	mux.HandleFunc("/missing.png", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no tile", http.StatusNotFound)
	})
	mux.HandleFunc("/garbage.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("definitely not an image"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewHTTPFetcher(5 * time.Second)
	ctx := context.Background()

	img, err := f.Fetch(ctx, srv.URL+"/ok.png")
	if err != nil {
		t.Fatalf("Fetch ok: %v", err)
	}
	if img.Bounds().Dx() != 4 {
		t.Fatalf("decoded width = %d", img.Bounds().Dx())
	}
	if r, _, _, _ := img.At(1, 1).RGBA(); r>>8 != 255 {
		t.Fatalf("decoded pixel lost")
	}

	tests := []struct {
		path string
		want error
	}{
		{"/missing.png", ErrFetchStatus},
		{"/garbage.png", ErrDecode},
	}
	for _, tc := range tests {
		if _, err := f.Fetch(ctx, srv.URL+tc.path); !errors.Is(err, tc.want) {
			t.Fatalf("Fetch %s err = %v, want %v", tc.path, err, tc.want)
		}
	}
}
