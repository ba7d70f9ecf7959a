package encode

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"testing"
)

// noisyImage compresses badly under PNG, which is what pushes the
// encoder down the JPEG ladder.
func noisyImage(w, h int) *image.RGBA {
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func flatImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 40, G: 80, B: 120, A: 255})
		}
	}
	return img
}

func TestEncode_PNGWhenUnlimited(t *testing.T) {
	res, err := Encode(noisyImage(64, 64), Options{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.MIME != MIMEPNG || res.Quality != 0 {
		t.Fatalf("unlimited budget: got %s q%d, want png", res.MIME, res.Quality)
	}
	if len(res.Data) == 0 {
		t.Fatalf("empty output")
	}
}

func TestEncode_PNGWhenItFits(t *testing.T) {
	// A flat image PNG-compresses to almost nothing; lossless must
	// win over the ladder.
	res, err := Encode(flatImage(200, 200), Options{MaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.MIME != MIMEPNG {
		t.Fatalf("got %s, want png", res.MIME)
	}
	if len(res.Data) > 1<<20 {
		t.Fatalf("png output %d over budget", len(res.Data))
	}
}

func TestEncode_FallsBackToFirstFittingQuality(t *testing.T) {
	img := noisyImage(200, 200)

	// Learn the top-of-ladder JPEG size, then budget exactly that:
	// PNG (always bigger for noise) misses, quality 85 fits first.
	var jb bytes.Buffer
	if err := jpeg.Encode(&jb, img, &jpeg.Options{Quality: 85}); err != nil {
		t.Fatalf("jpeg: %v", err)
	}
	budget := jb.Len()

	res, err := Encode(img, Options{MaxBytes: budget})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.MIME != MIMEJPEG || res.Quality != 85 {
		t.Fatalf("got %s q%d, want jpeg q85", res.MIME, res.Quality)
	}
	if len(res.Data) > budget {
		t.Fatalf("output %d over budget %d", len(res.Data), budget)
	}
}

func TestEncode_OverLimitCarriesBestAttempt(t *testing.T) {
	_, err := Encode(noisyImage(200, 200), Options{MaxBytes: 16})
	if err == nil {
		t.Fatalf("expected over-limit error")
	}
	var over *OverLimitError
	if !errors.As(err, &over) {
		t.Fatalf("got %T, want *OverLimitError", err)
	}
	if len(over.Best.Data) == 0 {
		t.Fatalf("best attempt missing from error")
	}
	if over.Best.MIME != MIMEPNG && over.Best.MIME != MIMEJPEG {
		t.Fatalf("best attempt MIME %q", over.Best.MIME)
	}
	if over.Limit != 16 {
		t.Fatalf("limit %d, want 16", over.Limit)
	}
}

func TestEncode_CustomLadder(t *testing.T) {
	img := noisyImage(200, 200)

	var jb bytes.Buffer
	if err := jpeg.Encode(&jb, img, &jpeg.Options{Quality: 30}); err != nil {
		t.Fatalf("jpeg: %v", err)
	}

	res, err := Encode(img, Options{MaxBytes: jb.Len(), Qualities: []int{30}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.Quality != 30 {
		t.Fatalf("got q%d, want q30", res.Quality)
	}
}
