package analyzer

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"

	"github.com/splatrec/splatrec/internal/vision"
)

func frame(t *testing.T, c color.RGBA) gocv.Mat {
	t.Helper()
	mat := gocv.NewMatWithSize(1080, 1920, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&mat, image.Rect(0, 0, 1920, 1080), c, -1)
	return mat
}

func TestBlackScreen(t *testing.T) {
	a := &Analyzer{}

	tests := []struct {
		name string
		c    color.RGBA
		want bool
	}{
		{"pure black", color.RGBA{0, 0, 0, 0}, true},
		{"near black", color.RGBA{20, 20, 20, 0}, true},
		{"just above threshold", color.RGBA{21, 21, 21, 0}, false},
		{"content", color.RGBA{120, 80, 40, 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := frame(t, tt.c)
			defer img.Close()
			if got := a.BlackScreen(img); got != tt.want {
				t.Errorf("BlackScreen() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBlackScreenSingleBrightChannel(t *testing.T) {
	a := &Analyzer{}
	img := frame(t, color.RGBA{0, 0, 0, 0})
	defer img.Close()
	// One saturated blue pixel; a grayscale max would miss it.
	img.SetUCharAt(500, 500*3, 255)
	if a.BlackScreen(img) {
		t.Error("a single bright channel must defeat BlackScreen")
	}
}

func TestLoading(t *testing.T) {
	a := &Analyzer{}

	loading := frame(t, color.RGBA{0, 0, 0, 0})
	defer loading.Close()
	// Loading screens are black on top with an animation at the bottom.
	gocv.Rectangle(&loading, image.Rect(0, 900, 1920, 1080), color.RGBA{200, 200, 200, 0}, -1)
	if !a.Loading(loading) {
		t.Error("top-black bottom-lit frame should read as loading")
	}

	blackout := frame(t, color.RGBA{0, 0, 0, 0})
	defer blackout.Close()
	if a.Loading(blackout) {
		t.Error("a full blackout is power-off, not loading")
	}

	content := frame(t, color.RGBA{150, 150, 150, 0})
	defer content.Close()
	if a.Loading(content) {
		t.Error("a lit frame is not loading")
	}
}

type stubMatcher struct{ hit bool }

func (s stubMatcher) Match(gocv.Mat) bool { return s.hit }

func TestFindFirstMatchWins(t *testing.T) {
	img := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer img.Close()

	table := []labeled{
		{name: "first", matcher: stubMatcher{false}},
		{name: "second", matcher: stubMatcher{true}},
		{name: "third", matcher: stubMatcher{true}},
	}
	if got := find(img, table); got != "second" {
		t.Errorf("find() = %q, want first firing entry %q", got, "second")
	}

	none := []labeled{
		{name: "first", matcher: stubMatcher{false}},
	}
	if got := find(img, none); got != "" {
		t.Errorf("find() = %q, want \"\" when nothing fires", got)
	}
}

func TestKillRecordRects(t *testing.T) {
	standard := killRecordRects("Splat Zones")
	tricolor := killRecordRects("Tricolor")

	if standard[0] == tricolor[0] {
		t.Error("tricolor must use shifted kill counter positions")
	}
	if standard[2] != tricolor[2] {
		t.Error("special counter position is shared between layouts")
	}
	for _, rects := range [][3]vision.Rect{standard, tricolor} {
		for _, r := range rects {
			if err := r.Validate(1920, 1080); err != nil {
				t.Errorf("counter rect invalid: %v", err)
			}
		}
	}
}

func TestOCRBackedExtractorsDisabledWithoutEngine(t *testing.T) {
	a := &Analyzer{}
	img := frame(t, color.RGBA{90, 90, 90, 0})
	defer img.Close()

	if _, _, ok := a.xPower(img); ok {
		t.Error("xPower must report not-available without an OCR engine")
	}
	if _, _, _, ok := a.KillRecord(img); ok {
		t.Error("KillRecord must report not-available without an OCR engine")
	}
}
