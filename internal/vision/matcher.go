// Package vision provides single-purpose visual predicates over BGR frames.
// Every matcher is loaded once at startup and is immutable afterwards, so a
// single instance can be shared across goroutines.
package vision

import (
	"crypto/sha1"
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// Matcher reports whether a frame satisfies one visual condition. Match never
// mutates the frame or the matcher.
type Matcher interface {
	Match(img gocv.Mat) bool
}

func loadMask(path string) (gocv.Mat, error) {
	mask := gocv.IMRead(path, gocv.IMReadGrayScale)
	if mask.Empty() {
		return mask, fmt.Errorf("failed to load mask image: %s", path)
	}
	return mask, nil
}

// HashMatcher detects an exact reproduction of a reference image. A single
// differing bit is a non-match; it is only useful against fully static
// synthetic frames such as the virtual-camera placeholder.
type HashMatcher struct {
	hash [sha1.Size]byte
}

func NewHashMatcher(imagePath string) (*HashMatcher, error) {
	ref := gocv.IMRead(imagePath, gocv.IMReadColor)
	if ref.Empty() {
		return nil, fmt.Errorf("failed to load reference image: %s", imagePath)
	}
	defer ref.Close()

	return &HashMatcher{hash: sha1.Sum(ref.ToBytes())}, nil
}

func (m *HashMatcher) Match(img gocv.Mat) bool {
	work := img.Clone()
	defer work.Close()
	return sha1.Sum(work.ToBytes()) == m.hash
}

// TemplateMatcher searches the frame for a grayscale template by normalized
// cross-correlation. The search covers translation only.
type TemplateMatcher struct {
	template  gocv.Mat
	mask      gocv.Mat
	hasMask   bool
	threshold float32
}

// NewTemplateMatcher loads the template (and, when maskPath is non-empty, a
// binary mask of the same size). A threshold of 0 means the default 0.9.
func NewTemplateMatcher(templatePath, maskPath string, threshold float32) (*TemplateMatcher, error) {
	template := gocv.IMRead(templatePath, gocv.IMReadGrayScale)
	if template.Empty() {
		return nil, fmt.Errorf("failed to load template image: %s", templatePath)
	}

	m := &TemplateMatcher{template: template, threshold: threshold}
	if m.threshold == 0 {
		m.threshold = 0.9
	}
	if maskPath != "" {
		mask, err := loadMask(maskPath)
		if err != nil {
			template.Close()
			return nil, err
		}
		m.mask = mask
		m.hasMask = true
	}
	return m, nil
}

func (m *TemplateMatcher) Match(img gocv.Mat) bool {
	return m.Score(img) >= m.threshold
}

// Score returns the best cross-correlation over all template positions.
func (m *TemplateMatcher) Score(img gocv.Mat) float32 {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	result := gocv.NewMat()
	defer result.Close()
	mask := m.mask
	if !m.hasMask {
		mask = gocv.NewMat()
		defer mask.Close()
	}
	gocv.MatchTemplate(gray, m.template, &result, gocv.TmCcoeffNormed, mask)

	_, maxVal, _, _ := gocv.MinMaxLoc(result)
	return maxVal
}

func (m *TemplateMatcher) Close() {
	m.template.Close()
	if m.hasMask {
		m.mask.Close()
	}
}

// HSV is an inclusive hue/saturation/value bound in OpenCV ranges
// (H 0-179, S and V 0-255).
type HSV struct {
	H, S, V uint8
}

// HSVMatcher matches when the ratio of pixels inside [lower, upper] reaches
// the threshold. With a mask, the ratio is relative to the mask area.
type HSVMatcher struct {
	lower, upper gocv.Scalar
	mask         gocv.Mat
	hasMask      bool
	maskArea     int
	threshold    float64
}

func NewHSVMatcher(lower, upper HSV, maskPath string, threshold float64) (*HSVMatcher, error) {
	m := &HSVMatcher{
		lower:     gocv.NewScalar(float64(lower.H), float64(lower.S), float64(lower.V), 0),
		upper:     gocv.NewScalar(float64(upper.H), float64(upper.S), float64(upper.V), 0),
		threshold: threshold,
	}
	if m.threshold == 0 {
		m.threshold = 0.9
	}
	if maskPath != "" {
		mask, err := loadMask(maskPath)
		if err != nil {
			return nil, err
		}
		m.mask = mask
		m.hasMask = true
		m.maskArea = gocv.CountNonZero(mask)
	}
	return m, nil
}

func (m *HSVMatcher) Match(img gocv.Mat) bool {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	inRange := gocv.NewMat()
	defer inRange.Close()
	gocv.InRangeWithScalar(hsv, m.lower, m.upper, &inRange)

	var count, total int
	if m.hasMask {
		combined := gocv.NewMat()
		defer combined.Close()
		gocv.BitwiseAnd(inRange, m.mask, &combined)
		count = gocv.CountNonZero(combined)
		total = m.maskArea
	} else {
		count = gocv.CountNonZero(inRange)
		total = img.Rows() * img.Cols()
	}
	if total == 0 {
		return false
	}
	return float64(count)/float64(total) >= m.threshold
}

func (m *HSVMatcher) Close() {
	if m.hasMask {
		m.mask.Close()
	}
}

// UniformColorMatcher matches when the hue spread of a region is small, i.e.
// the region is a single flat color regardless of which color it is.
type UniformColorMatcher struct {
	mask         gocv.Mat
	hasMask      bool
	hueThreshold float64
}

// NewUniformColorMatcher builds a flat-color detector. A hueThreshold of 0
// means the default 10.0 (hue standard deviation on the 0-179 scale).
func NewUniformColorMatcher(maskPath string, hueThreshold float64) (*UniformColorMatcher, error) {
	m := &UniformColorMatcher{hueThreshold: hueThreshold}
	if m.hueThreshold == 0 {
		m.hueThreshold = 10.0
	}
	if maskPath != "" {
		mask, err := loadMask(maskPath)
		if err != nil {
			return nil, err
		}
		m.mask = mask
		m.hasMask = true
	}
	return m, nil
}

func (m *UniformColorMatcher) Match(img gocv.Mat) bool {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	channels := gocv.Split(hsv)
	for _, c := range channels {
		defer c.Close()
	}
	hues := channels[0].ToBytes()

	var maskBytes []byte
	if m.hasMask {
		maskBytes = m.mask.ToBytes()
	}

	var sum, count float64
	for i, h := range hues {
		if maskBytes != nil && maskBytes[i] != 255 {
			continue
		}
		sum += float64(h)
		count++
	}
	if count == 0 {
		return false
	}
	mean := sum / count

	var variance float64
	for i, h := range hues {
		if maskBytes != nil && maskBytes[i] != 255 {
			continue
		}
		d := float64(h) - mean
		variance += d * d
	}
	return math.Sqrt(variance/count) <= m.hueThreshold
}

func (m *UniformColorMatcher) Close() {
	if m.hasMask {
		m.mask.Close()
	}
}

// RGB is an exact red/green/blue triple.
type RGB struct {
	R, G, B uint8
}

// RGBMatcher matches when the ratio of pixels exactly equal to the target
// color reaches the threshold.
type RGBMatcher struct {
	target    RGB
	mask      gocv.Mat
	hasMask   bool
	threshold float64
}

func NewRGBMatcher(target RGB, maskPath string, threshold float64) (*RGBMatcher, error) {
	m := &RGBMatcher{target: target, threshold: threshold}
	if m.threshold == 0 {
		m.threshold = 0.9
	}
	if maskPath != "" {
		mask, err := loadMask(maskPath)
		if err != nil {
			return nil, err
		}
		m.mask = mask
		m.hasMask = true
	}
	return m, nil
}

func (m *RGBMatcher) Match(img gocv.Mat) bool {
	work := img.Clone()
	defer work.Close()
	data := work.ToBytes() // interleaved BGR

	var maskBytes []byte
	if m.hasMask {
		maskBytes = m.mask.ToBytes()
	}

	var count, total int
	for i := 0; i+2 < len(data); i += 3 {
		if maskBytes != nil && maskBytes[i/3] != 255 {
			continue
		}
		total++
		if data[i] == m.target.B && data[i+1] == m.target.G && data[i+2] == m.target.R {
			count++
		}
	}
	if total == 0 {
		return false
	}
	return float64(count)/float64(total) >= m.threshold
}

func (m *RGBMatcher) Close() {
	if m.hasMask {
		m.mask.Close()
	}
}
