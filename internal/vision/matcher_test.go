package vision

import (
	"bytes"
	"image"
	"image/color"
	"math/rand"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"
)

func solidMat(t *testing.T, rows, cols int, c color.RGBA) gocv.Mat {
	t.Helper()
	mat := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&mat, image.Rect(0, 0, cols, rows), c, -1)
	return mat
}

func writeTemp(t *testing.T, name string, mat gocv.Mat) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if ok := gocv.IMWrite(path, mat); !ok {
		t.Fatalf("failed to write %s", path)
	}
	return path
}

func TestHashMatcherExact(t *testing.T) {
	ref := solidMat(t, 40, 60, color.RGBA{10, 20, 30, 0})
	defer ref.Close()
	path := writeTemp(t, "ref.png", ref)

	m, err := NewHashMatcher(path)
	if err != nil {
		t.Fatalf("NewHashMatcher: %v", err)
	}

	if !m.Match(ref) {
		t.Error("expected identical frame to match")
	}

	// One differing pixel must break the match.
	altered := ref.Clone()
	defer altered.Close()
	altered.SetUCharAt(0, 0, 255)
	if m.Match(altered) {
		t.Error("expected altered frame not to match")
	}
}

func TestHashMatcherMissingAsset(t *testing.T) {
	if _, err := NewHashMatcher(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatal("expected error for missing reference image")
	}
}

func TestMatcherPurity(t *testing.T) {
	frame := solidMat(t, 40, 60, color.RGBA{200, 200, 200, 0})
	defer frame.Close()
	path := writeTemp(t, "ref.png", frame)

	hash, err := NewHashMatcher(path)
	if err != nil {
		t.Fatalf("NewHashMatcher: %v", err)
	}
	hsv, err := NewHSVMatcher(HSV{0, 0, 150}, HSV{179, 30, 255}, "", 0)
	if err != nil {
		t.Fatalf("NewHSVMatcher: %v", err)
	}
	defer hsv.Close()
	uniform, err := NewUniformColorMatcher("", 0)
	if err != nil {
		t.Fatalf("NewUniformColorMatcher: %v", err)
	}
	defer uniform.Close()
	rgb, err := NewRGBMatcher(RGB{200, 200, 200}, "", 0)
	if err != nil {
		t.Fatalf("NewRGBMatcher: %v", err)
	}
	defer rgb.Close()

	before := frame.ToBytes()
	for _, m := range []Matcher{hash, hsv, uniform, rgb} {
		first := m.Match(frame)
		second := m.Match(frame)
		if first != second {
			t.Errorf("%T: result changed between identical calls", m)
		}
	}
	if !bytes.Equal(before, frame.ToBytes()) {
		t.Error("frame mutated by matching")
	}
}

func TestTemplateMatcherOffsetInvariance(t *testing.T) {
	template := gocv.NewMatWithSize(20, 20, gocv.MatTypeCV8UC3)
	defer template.Close()
	gocv.Rectangle(&template, image.Rect(0, 0, 20, 20), color.RGBA{0, 0, 0, 0}, -1)
	gocv.Rectangle(&template, image.Rect(4, 4, 16, 16), color.RGBA{255, 255, 255, 0}, -1)
	path := writeTemp(t, "template.png", template)

	m, err := NewTemplateMatcher(path, "", 0.9)
	if err != nil {
		t.Fatalf("NewTemplateMatcher: %v", err)
	}
	defer m.Close()

	offsets := []image.Point{{0, 0}, {37, 12}, {100, 60}, {140, 80}}
	var scores []float32
	for _, off := range offsets {
		frame := solidMat(t, 120, 160, color.RGBA{0, 0, 0, 0})
		gocv.Rectangle(&frame, image.Rect(off.X+4, off.Y+4, off.X+16, off.Y+16), color.RGBA{255, 255, 255, 0}, -1)
		if !m.Match(frame) {
			t.Errorf("template embedded at %v not found", off)
		}
		scores = append(scores, m.Score(frame))
		frame.Close()
	}
	for i := 1; i < len(scores); i++ {
		if diff := scores[i] - scores[0]; diff > 0.01 || diff < -0.01 {
			t.Errorf("score varies with offset: %v vs %v", scores[i], scores[0])
		}
	}
}

func TestTemplateMatcherNoiseDegradesScore(t *testing.T) {
	template := gocv.NewMatWithSize(20, 20, gocv.MatTypeCV8UC3)
	defer template.Close()
	gocv.Rectangle(&template, image.Rect(0, 0, 20, 20), color.RGBA{0, 0, 0, 0}, -1)
	gocv.Rectangle(&template, image.Rect(4, 4, 16, 16), color.RGBA{255, 255, 255, 0}, -1)
	path := writeTemp(t, "template.png", template)

	m, err := NewTemplateMatcher(path, "", 0.9)
	if err != nil {
		t.Fatalf("NewTemplateMatcher: %v", err)
	}
	defer m.Close()

	rng := rand.New(rand.NewSource(1))
	prev := float32(2.0)
	for _, noisePixels := range []int{0, 400, 2000, 8000} {
		frame := solidMat(t, 120, 160, color.RGBA{0, 0, 0, 0})
		gocv.Rectangle(&frame, image.Rect(44, 24, 56, 36), color.RGBA{255, 255, 255, 0}, -1)
		for i := 0; i < noisePixels; i++ {
			row := rng.Intn(120)
			col := rng.Intn(160)
			v := uint8(rng.Intn(2) * 255)
			for ch := 0; ch < 3; ch++ {
				frame.SetUCharAt(row, col*3+ch, v)
			}
		}
		score := m.Score(frame)
		if score > prev+0.02 {
			t.Errorf("score increased with noise: %v pixels gave %v (previous %v)", noisePixels, score, prev)
		}
		prev = score
		frame.Close()
	}
}

func TestHSVMatcherRatio(t *testing.T) {
	m, err := NewHSVMatcher(HSV{0, 0, 200}, HSV{179, 20, 255}, "", 0.9)
	if err != nil {
		t.Fatalf("NewHSVMatcher: %v", err)
	}
	defer m.Close()

	white := solidMat(t, 40, 60, color.RGBA{255, 255, 255, 0})
	defer white.Close()
	if !m.Match(white) {
		t.Error("expected near-white frame to match")
	}

	black := solidMat(t, 40, 60, color.RGBA{0, 0, 0, 0})
	defer black.Close()
	if m.Match(black) {
		t.Error("expected black frame not to match")
	}

	// 50/50 split stays below the 0.9 ratio.
	half := solidMat(t, 40, 60, color.RGBA{255, 255, 255, 0})
	defer half.Close()
	gocv.Rectangle(&half, image.Rect(0, 0, 30, 40), color.RGBA{0, 0, 0, 0}, -1)
	if m.Match(half) {
		t.Error("expected half-covered frame not to match")
	}
}

func TestUniformColorMatcher(t *testing.T) {
	m, err := NewUniformColorMatcher("", 0)
	if err != nil {
		t.Fatalf("NewUniformColorMatcher: %v", err)
	}
	defer m.Close()

	flat := solidMat(t, 40, 60, color.RGBA{30, 90, 200, 0})
	defer flat.Close()
	if !m.Match(flat) {
		t.Error("expected flat color region to match")
	}

	split := solidMat(t, 40, 60, color.RGBA{255, 0, 0, 0})
	defer split.Close()
	gocv.Rectangle(&split, image.Rect(30, 0, 60, 40), color.RGBA{0, 0, 255, 0}, -1)
	if m.Match(split) {
		t.Error("expected two-tone region not to match")
	}
}

func TestRGBMatcherExactTriple(t *testing.T) {
	m, err := NewRGBMatcher(RGB{R: 12, G: 34, B: 56}, "", 0.9)
	if err != nil {
		t.Fatalf("NewRGBMatcher: %v", err)
	}
	defer m.Close()

	exact := solidMat(t, 40, 60, color.RGBA{12, 34, 56, 0})
	defer exact.Close()
	if !m.Match(exact) {
		t.Error("expected exact-color frame to match")
	}

	off := solidMat(t, 40, 60, color.RGBA{12, 34, 57, 0})
	defer off.Close()
	if m.Match(off) {
		t.Error("expected off-by-one color not to match")
	}
}

func TestRectValidate(t *testing.T) {
	tests := []struct {
		name    string
		rect    Rect
		wantErr bool
	}{
		{"valid", Rect{10, 10, 20, 20}, false},
		{"inverted x", Rect{20, 10, 10, 20}, true},
		{"inverted y", Rect{10, 20, 20, 10}, true},
		{"outside frame", Rect{10, 10, 2000, 20}, true},
		{"negative", Rect{-1, 10, 20, 20}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rect.Validate(1920, 1080)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
