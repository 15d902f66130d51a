// Package analyzer composes matcher primitives, region crops and OCR into
// the named frame predicates the recorder drives its state machine with.
// Every predicate is a pure function of the frame it is given.
package analyzer

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gocv.io/x/gocv"

	"github.com/splatrec/splatrec/internal/battle"
	"github.com/splatrec/splatrec/internal/ocr"
	"github.com/splatrec/splatrec/internal/vision"
)

// labeled pairs a category label with its matcher. Slice order encodes
// priority: the first matcher that fires wins.
type labeled struct {
	name    string
	matcher vision.Matcher
}

type powerRegion struct {
	rect  vision.Rect
	rules []labeled
}

type Analyzer struct {
	ocr *ocr.Engine // nil disables OCR-backed extractors

	matching       *vision.TemplateMatcher
	matchingGate   *vision.HSVMatcher
	changeSchedule *vision.TemplateMatcher
	start          *vision.TemplateMatcher
	stop           *vision.TemplateMatcher
	stopMessage    *vision.HSVMatcher
	stopIcon       *vision.HSVMatcher
	stopGear       *vision.HSVMatcher
	stopBackground *vision.HSVMatcher
	abortGate      *vision.HSVMatcher
	abort          *vision.TemplateMatcher

	outcomes []labeled
	matches  []labeled
	rules    []labeled
	stages   []labeled

	powerRegions []powerRegion
	selectXMatch *vision.HSVMatcher
	selectRanked *vision.HSVMatcher
	rankTiers    []labeled

	finishText *vision.HSVMatcher
	finishBand *vision.HSVMatcher

	virtualCamOff *vision.HashMatcher
	powerOff      *vision.TemplateMatcher // optional, device-dependent

	uniform *vision.UniformColorMatcher
}

// New loads every reference asset from assetsDir/templates. A missing or
// unreadable asset is a startup error; nothing is loaded lazily at match
// time. engine may be nil, which disables the power-score and kill-record
// extractors.
func New(assetsDir string, engine *ocr.Engine) (*Analyzer, error) {
	dir := filepath.Join(assetsDir, "templates")
	full := func(name string) string { return filepath.Join(dir, name) }

	a := &Analyzer{ocr: engine}

	var err error
	fail := func(e error) (*Analyzer, error) { return nil, fmt.Errorf("loading matcher assets: %w", e) }

	if a.matching, err = vision.NewTemplateMatcher(full("matching.png"), "", 0); err != nil {
		return fail(err)
	}
	if a.matchingGate, err = vision.NewHSVMatcher(vision.HSV{0, 0, 200}, vision.HSV{179, 20, 255}, full("matching_mask.png"), 0); err != nil {
		return fail(err)
	}
	if a.changeSchedule, err = vision.NewTemplateMatcher(full("change_schedule.png"), "", 0); err != nil {
		return fail(err)
	}
	if a.start, err = vision.NewTemplateMatcher(full("start.png"), "", 0); err != nil {
		return fail(err)
	}
	// The result screen becomes the thumbnail, so the stop template runs at a
	// stricter threshold than the rest.
	if a.stop, err = vision.NewTemplateMatcher(full("stop.png"), "", 0.95); err != nil {
		return fail(err)
	}
	if a.stopMessage, err = vision.NewHSVMatcher(vision.HSV{0, 0, 200}, vision.HSV{179, 20, 255}, full("stop_mask.png"), 0); err != nil {
		return fail(err)
	}
	if a.stopIcon, err = vision.NewHSVMatcher(vision.HSV{0, 0, 200}, vision.HSV{179, 20, 255}, full("stop_icon_mask.png"), 0); err != nil {
		return fail(err)
	}
	if a.stopGear, err = vision.NewHSVMatcher(vision.HSV{0, 0, 0}, vision.HSV{179, 255, 50}, full("stop_gear_mask.png"), 0); err != nil {
		return fail(err)
	}
	if a.stopBackground, err = vision.NewHSVMatcher(vision.HSV{0, 0, 25}, vision.HSV{179, 30, 40}, full("stop_background_mask.png"), 0); err != nil {
		return fail(err)
	}
	if a.abortGate, err = vision.NewHSVMatcher(vision.HSV{0, 0, 25}, vision.HSV{0, 0, 35}, "", 0); err != nil {
		return fail(err)
	}
	if a.abort, err = vision.NewTemplateMatcher(full("abort.png"), "", 0); err != nil {
		return fail(err)
	}
	if a.finishText, err = vision.NewHSVMatcher(vision.HSV{0, 0, 0}, vision.HSV{179, 255, 50}, full("finish_text_mask.png"), 0); err != nil {
		return fail(err)
	}
	if a.finishBand, err = vision.NewHSVMatcher(vision.HSV{0, 0, 50}, vision.HSV{179, 255, 255}, full("finish_band_mask.png"), 0); err != nil {
		return fail(err)
	}
	if a.virtualCamOff, err = vision.NewHashMatcher(full("virtual_camera_off.png")); err != nil {
		return fail(err)
	}
	if a.selectXMatch, err = vision.NewHSVMatcher(vision.HSV{80, 230, 230}, vision.HSV{90, 255, 255}, "", 0); err != nil {
		return fail(err)
	}
	if a.selectRanked, err = vision.NewHSVMatcher(vision.HSV{13, 230, 230}, vision.HSV{15, 255, 255}, "", 0); err != nil {
		return fail(err)
	}
	if a.uniform, err = vision.NewUniformColorMatcher("", 0); err != nil {
		return fail(err)
	}

	// Some capture devices show a console logo instead of a black frame when
	// powered down; the template is optional.
	powerOffPath := full("power_off.png")
	if _, statErr := os.Stat(powerOffPath); statErr == nil {
		if a.powerOff, err = vision.NewTemplateMatcher(powerOffPath, "", 0); err != nil {
			return fail(err)
		}
	}

	templates := func(pairs [][2]string) ([]labeled, error) {
		out := make([]labeled, 0, len(pairs))
		for _, p := range pairs {
			m, err := vision.NewTemplateMatcher(full(p[1]), "", 0)
			if err != nil {
				return nil, err
			}
			out = append(out, labeled{name: p[0], matcher: m})
		}
		return out, nil
	}

	if a.outcomes, err = templates([][2]string{
		{"WIN", "win.png"},
		{"LOSE", "lose.png"},
	}); err != nil {
		return fail(err)
	}
	if a.matches, err = templates([][2]string{
		{"Regular Battle", "regular.png"},
		{"Anarchy Battle (Series)", "bankara_challenge.png"},
		{"Anarchy Battle (Open)", "bankara_open.png"},
		{"X Battle", "x.png"},
		{"Splatfest Battle (Pro)", "fes_challenge.png"},
		{"Splatfest Battle (Open)", "fes_open.png"},
		{"Tricolor Battle", "torikara_match.png"},
	}); err != nil {
		return fail(err)
	}
	if a.rules, err = templates([][2]string{
		{"Turf War", "nawabari.png"},
		{"Rainmaker", "hoko.png"},
		{"Splat Zones", "area.png"},
		{"Tower Control", "yagura.png"},
		{"Clam Blitz", "asari.png"},
		{"Tricolor", "torikara_battle.png"},
	}); err != nil {
		return fail(err)
	}
	if a.stages, err = templates([][2]string{
		{"Inkblot Art Academy", "amabi.png"},
		{"Robo ROM-en", "baigai.png"},
		{"Eeltail Alley", "gonzui.png"},
		{"Flounder Heights", "hirame.png"},
		{"Marlin Airport", "kajiki.png"},
		{"Museum d'Alfonsino", "kinme.png"},
		{"Humpback Pump Track", "konbu.png"},
		{"Brinewater Springs", "kusaya.png"},
		{"Mahi-Mahi Resort", "mahimahi.png"},
		{"Manta Maria", "manta.png"},
		{"Hammerhead Bridge", "masaba.png"},
		{"Undertow Spillway", "mategai.png"},
		{"Mincemeat Metalworks", "namero.png"},
		{"Um'ami Ruins", "nanpura-.png"},
		{"Bluefin Depot", "negitoro.png"},
		{"Shipshape Cargo Co.", "ohyo.png"},
		{"Lemuria Hub", "ryugu.png"},
		{"Wahoo World", "sume-shi-.png"},
		{"Crableg Capital", "takaashi.png"},
		{"Barnacle & Dime", "tarapo.png"},
		{"Sturgeon Shipyard", "chouzame.png"},
		{"Hagglefish Market", "yagara.png"},
		{"Scorch Gorge", "yunohana.png"},
		{"MakoMart", "zatou.png"},
	}); err != nil {
		return fail(err)
	}

	// The power score shows up on several screens with the number in
	// different places; each region carries its own rule templates.
	xpRules, err := templates([][2]string{
		{"Rainmaker", "xp_hoko1.png"},
		{"Splat Zones", "xp_area1.png"},
		{"Tower Control", "xp_yagura1.png"},
		{"Clam Blitz", "xp_asari1.png"},
	})
	if err != nil {
		return fail(err)
	}
	a.powerRegions = []powerRegion{
		{rect: vision.Rect{X1: 1730, Y1: 190, X2: 1880, Y2: 240}, rules: xpRules},
	}

	sPlus, err := vision.NewTemplateMatcher(full("s_plus.png"), "", 0)
	if err != nil {
		return fail(err)
	}
	s, err := vision.NewTemplateMatcher(full("s.png"), full("s_mask.png"), 0)
	if err != nil {
		return fail(err)
	}
	a.rankTiers = []labeled{
		{name: "S+", matcher: sPlus},
		{name: "S", matcher: s},
	}

	return a, nil
}

// maxChannelValue is the brightest value across all BGR channels.
func maxChannelValue(img gocv.Mat) float32 {
	channels := gocv.Split(img)
	var max float32
	for _, c := range channels {
		_, v, _, _ := gocv.MinMaxLoc(c)
		if v > max {
			max = v
		}
		c.Close()
	}
	return max
}

// BlackScreen reports a fully dark frame or region.
func (a *Analyzer) BlackScreen(img gocv.Mat) bool {
	return maxChannelValue(img) <= 20
}

// PowerOff reports the console looking powered down: full black, or the
// device's standby logo when one is configured.
func (a *Analyzer) PowerOff(img gocv.Mat) bool {
	if a.BlackScreen(img) {
		return true
	}
	return a.powerOff != nil && a.powerOff.Match(img)
}

// VirtualCameraOff detects the passthrough's static disconnect placeholder.
func (a *Analyzer) VirtualCameraOff(img gocv.Mat) bool {
	return a.virtualCamOff.Match(img)
}

// Loading detects the loading screen: the top 800 rows are black while the
// bottom is not, which separates it from a full blackout.
func (a *Analyzer) Loading(img gocv.Mat) bool {
	top := img.Region(image.Rect(0, 0, img.Cols(), 800))
	defer top.Close()
	bottom := img.Region(image.Rect(0, 800, img.Cols(), img.Rows()))
	defer bottom.Close()
	return a.BlackScreen(top) && !a.BlackScreen(bottom)
}

// MatchingStart detects the matchmaking screen. The cheap HSV check gates
// the expensive template search.
func (a *Analyzer) MatchingStart(img gocv.Mat) bool {
	if !a.matchingGate.Match(img) {
		return false
	}
	return a.matching.Match(img)
}

// ChangeSchedule detects the schedule-rotation notice.
func (a *Analyzer) ChangeSchedule(img gocv.Mat) bool {
	crop := vision.Rect{X1: 555, Y1: 444, X2: 666, Y2: 555}.Crop(img)
	defer crop.Close()
	if !a.BlackScreen(crop) {
		return false
	}
	return a.changeSchedule.Match(img)
}

// BattleStart detects the battle intro. A local blackness check rejects
// similarly colored unrelated UI before the template runs.
func (a *Analyzer) BattleStart(img gocv.Mat) bool {
	crop := vision.Rect{X1: 900, Y1: 360, X2: 1040, Y2: 380}.Crop(img)
	defer crop.Close()
	if !a.BlackScreen(crop) {
		return false
	}
	return a.start.Match(img)
}

// BattleFinish detects the finish banner. A full-black frame would satisfy
// either HSV profile alone, so a flat-but-not-black sentinel region plus
// both color profiles are required together.
func (a *Analyzer) BattleFinish(img gocv.Mat) bool {
	crop := vision.Rect{X1: 810, Y1: 400, X2: 840, Y2: 440}.Crop(img)
	defer crop.Close()
	if !a.uniform.Match(crop) || a.BlackScreen(crop) {
		return false
	}
	return a.finishText.Match(img) && a.finishBand.Match(img)
}

// BattleStop identifies the post-battle result screen: award text visible,
// character icons and gear names not yet overlaid, result-screen background
// color present. The combination keeps precision high because this frame
// becomes the video thumbnail.
func (a *Analyzer) BattleStop(img gocv.Mat) bool {
	return a.stopMessage.Match(img) &&
		!a.stopIcon.Match(img) &&
		!a.stopGear.Match(img) &&
		a.stopBackground.Match(img)
}

// BattleAbort detects the connection-lost / battle-interrupted dialog.
func (a *Analyzer) BattleAbort(img gocv.Mat) bool {
	crop := vision.Rect{X1: 800, Y1: 220, X2: 1100, Y2: 300}.Crop(img)
	defer crop.Close()
	if !a.abortGate.Match(crop) {
		return false
	}
	return a.abort.Match(img)
}

func find(img gocv.Mat, table []labeled) string {
	for _, entry := range table {
		if entry.matcher.Match(img) {
			return entry.name
		}
	}
	return ""
}

// BattleOutcome reads the WIN/LOSE banner, "" while it is not readable.
func (a *Analyzer) BattleOutcome(img gocv.Mat) string {
	crop := vision.Rect{X1: 0, Y1: 0, X2: 230, Y2: 40}.Crop(img)
	defer crop.Close()
	if !a.BlackScreen(crop) || a.Loading(img) {
		return ""
	}
	return find(img, a.outcomes)
}

// OutcomeLatterHalf reports the second half of the outcome banner, when the
// top-right corner has gone black and the outcome text is readable.
func (a *Analyzer) OutcomeLatterHalf(img gocv.Mat) bool {
	crop := vision.Rect{X1: 1820, Y1: 0, X2: 1920, Y2: 100}.Crop(img)
	defer crop.Close()
	if !a.BlackScreen(crop) {
		return false
	}
	return a.BattleOutcome(img) != ""
}

// MatchName returns the battle-type label visible on the result screen,
// "" when none of the known types match.
func (a *Analyzer) MatchName(img gocv.Mat) string { return find(img, a.matches) }

// RuleName returns the rule label, "" when unknown.
func (a *Analyzer) RuleName(img gocv.Mat) string { return find(img, a.rules) }

// StageName returns the stage label, "" when unknown.
func (a *Analyzer) StageName(img gocv.Mat) string { return find(img, a.stages) }

func rotate(img gocv.Mat, angle float64) gocv.Mat {
	cols, rows := img.Cols(), img.Rows()
	m := gocv.GetRotationMatrix2D(image.Pt(cols/2, rows/2), angle, 1)
	defer m.Close()
	dst := gocv.NewMat()
	gocv.WarpAffine(img, &dst, m, image.Pt(cols, rows))
	return dst
}

// Rating reads the player's rating from the mode-select screen. A coarse
// color swatch identifies which rating system is active before the expensive
// extraction runs; nil means no rating is readable on this frame.
func (a *Analyzer) Rating(img gocv.Mat) battle.Rating {
	crop := vision.Rect{X1: 280, Y1: 390, X2: 300, Y2: 410}.Crop(img)
	defer crop.Close()
	if !a.uniform.Match(crop) {
		return nil
	}

	switch {
	case a.selectXMatch.Match(crop):
		if _, xp, ok := a.xPower(img); ok {
			return xp
		}
	case a.selectRanked.Match(crop):
		if tier := find(img, a.rankTiers); tier != "" {
			rank, err := battle.NewRankTier(tier)
			if err != nil {
				log.Printf("Unexpected rank tier %q: %v", tier, err)
				return nil
			}
			return rank
		}
	}
	return nil
}

// xPower OCRs the numeric power score. Failures are soft: logged and
// reported as not available, never fatal.
func (a *Analyzer) xPower(img gocv.Mat) (rule string, xp battle.XPower, ok bool) {
	if a.ocr == nil {
		return "", battle.XPower{}, false
	}

	for _, region := range a.powerRegions {
		name := find(img, region.rules)
		if name == "" {
			continue
		}

		crop := region.rect.Crop(img)
		// The score is rendered in italics; rotating a few degrees
		// straightens the digits for OCR.
		straightened := rotate(crop, -4)
		crop.Close()
		text, err := a.ocr.ReadText(straightened, "", "")
		straightened.Close()
		if err != nil {
			log.Printf("X-power OCR failed: %v", err)
			return "", battle.XPower{}, false
		}

		value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			log.Printf("X-power is not numeric: %q", strings.TrimSpace(text))
			return "", battle.XPower{}, false
		}
		power, err := battle.NewXPower(value)
		if err != nil {
			log.Printf("X-power out of range: %v", err)
			return "", battle.XPower{}, false
		}
		return name, power, true
	}
	return "", battle.XPower{}, false
}

// killRecordRects gives the kill/death/special crop positions; the tricolor
// rule lays the result table out differently.
func killRecordRects(rule string) [3]vision.Rect {
	if rule == "Tricolor" {
		return [3]vision.Rect{
			{X1: 1556, Y1: 293, X2: 1585, Y2: 316},
			{X1: 1616, Y1: 293, X2: 1644, Y2: 316},
			{X1: 1674, Y1: 293, X2: 1703, Y2: 316},
		}
	}
	return [3]vision.Rect{
		{X1: 1519, Y1: 293, X2: 1548, Y2: 316},
		{X1: 1597, Y1: 293, X2: 1626, Y2: 316},
		{X1: 1674, Y1: 293, X2: 1703, Y2: 316},
	}
}

// KillRecord reads the kill/death/special counters from the result screen.
// All three must parse or nothing is reported; a partial record would be
// misleading downstream.
func (a *Analyzer) KillRecord(img gocv.Mat) (kill, death, special int, ok bool) {
	if a.ocr == nil {
		return 0, 0, 0, false
	}
	rule := a.RuleName(img)
	if rule == "" {
		return 0, 0, 0, false
	}

	names := [3]string{"kill", "death", "special"}
	var counts [3]int
	for i, rect := range killRecordRects(rule) {
		count, err := a.readCounter(img, rect)
		if err != nil {
			log.Printf("Reading %s count failed: %v", names[i], err)
			return 0, 0, 0, false
		}
		counts[i] = count
	}
	return counts[0], counts[1], counts[2], true
}

// readCounter OCRs one short digit string. The crops are tiny, so the image
// is upscaled, padded, binarized, eroded and inverted first.
func (a *Analyzer) readCounter(img gocv.Mat, rect vision.Rect) (int, error) {
	crop := rect.Crop(img)
	defer crop.Close()

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(crop, &scaled, image.Point{}, 3.5, 3.5, gocv.InterpolationLinear)

	padded := gocv.NewMat()
	defer padded.Close()
	gocv.CopyMakeBorder(scaled, &padded, 50, 50, 50, 50, gocv.BorderConstant, color.RGBA{})

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(padded, &gray, gocv.ColorBGRToGray)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(2, 2))
	defer kernel.Close()
	eroded := gocv.NewMat()
	defer eroded.Close()
	gocv.ErodeWithParams(binary, &eroded, kernel, image.Pt(-1, -1), 5, int(gocv.BorderConstant))

	inverted := gocv.NewMat()
	defer inverted.Close()
	gocv.BitwiseNot(eroded, &inverted)

	text, err := a.ocr.ReadText(inverted, ocr.PSMSingleLine, "0123456789")
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("counter is not numeric: %q", strings.TrimSpace(text))
	}
	return count, nil
}

func closeLabeled(set []labeled) {
	for _, l := range set {
		if c, ok := l.matcher.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Close releases the reference images held by the matchers.
func (a *Analyzer) Close() {
	for _, m := range []interface{ Close() }{
		a.matching, a.matchingGate, a.changeSchedule, a.start, a.stop,
		a.stopMessage, a.stopIcon, a.stopGear, a.stopBackground,
		a.abortGate, a.abort, a.finishText, a.finishBand,
		a.selectXMatch, a.selectRanked, a.uniform,
	} {
		m.Close()
	}
	if a.powerOff != nil {
		a.powerOff.Close()
	}
	for _, set := range [][]labeled{a.outcomes, a.matches, a.rules, a.stages, a.rankTiers} {
		closeLabeled(set)
	}
	for _, region := range a.powerRegions {
		closeLabeled(region.rules)
	}
}
