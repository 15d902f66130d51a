// Command analyze-frame runs the frame classifier against a single image or
// the frames of a video file and prints what each predicate sees. Useful
// for tuning templates and crop regions against captured footage.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gocv.io/x/gocv"

	"github.com/splatrec/splatrec/internal/analyzer"
	"github.com/splatrec/splatrec/internal/capture"
	"github.com/splatrec/splatrec/internal/ocr"
)

func main() {
	var (
		imagePath = flag.String("image", "", "Path to a single frame image")
		videoPath = flag.String("video", "", "Path to a video file")
		assetsDir = flag.String("assets", "./assets", "Directory holding the template assets")
		step      = flag.Int("step", 60, "Analyze every Nth video frame")
	)
	flag.Parse()

	if (*imagePath == "") == (*videoPath == "") {
		log.Fatal("Provide exactly one of -image or -video")
	}

	engine, err := ocr.NewEngine(os.Getenv("TESSERACT_PATH"))
	if err != nil {
		log.Printf("OCR disabled: %v", err)
		engine = nil
	} else {
		defer engine.Cleanup()
	}

	an, err := analyzer.New(*assetsDir, engine)
	if err != nil {
		log.Fatal("Failed to load analyzer assets:", err)
	}
	defer an.Close()

	if *imagePath != "" {
		frame := gocv.IMRead(*imagePath, gocv.IMReadColor)
		if frame.Empty() {
			log.Fatalf("Failed to read image %s", *imagePath)
		}
		defer frame.Close()
		analyze(an, frame, 0)
		return
	}

	source, err := capture.OpenFile(*videoPath)
	if err != nil {
		log.Fatal("Failed to open video:", err)
	}
	defer source.Close()

	for n := 0; ; n++ {
		frame, elapsed, err := source.Read()
		if err != nil {
			return
		}
		if n%*step == 0 {
			analyze(an, frame, elapsed)
		}
		frame.Close()
	}
}

func analyze(an *analyzer.Analyzer, frame gocv.Mat, elapsed float64) {
	fmt.Printf("--- frame at %.1fs ---\n", elapsed)
	fmt.Printf("power off:        %v\n", an.PowerOff(frame))
	fmt.Printf("virtual cam off:  %v\n", an.VirtualCameraOff(frame))
	fmt.Printf("loading:          %v\n", an.Loading(frame))
	fmt.Printf("matching start:   %v\n", an.MatchingStart(frame))
	fmt.Printf("schedule change:  %v\n", an.ChangeSchedule(frame))
	fmt.Printf("battle start:     %v\n", an.BattleStart(frame))
	fmt.Printf("battle finish:    %v\n", an.BattleFinish(frame))
	fmt.Printf("battle stop:      %v\n", an.BattleStop(frame))
	fmt.Printf("battle abort:     %v\n", an.BattleAbort(frame))
	fmt.Printf("outcome:          %q\n", an.BattleOutcome(frame))
	fmt.Printf("match:            %q\n", an.MatchName(frame))
	fmt.Printf("rule:             %q\n", an.RuleName(frame))
	fmt.Printf("stage:            %q\n", an.StageName(frame))
	if rating := an.Rating(frame); rating != nil {
		fmt.Printf("rating:           %s %s\n", rating.Label(), rating)
	}
	if kill, death, special, ok := an.KillRecord(frame); ok {
		fmt.Printf("kill record:      %d/%d/%d\n", kill, death, special)
	}
}
