package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/splatrec/splatrec/internal/analyzer"
	"github.com/splatrec/splatrec/internal/api"
	"github.com/splatrec/splatrec/internal/capture"
	"github.com/splatrec/splatrec/internal/database"
	"github.com/splatrec/splatrec/internal/obs"
	"github.com/splatrec/splatrec/internal/ocr"
	"github.com/splatrec/splatrec/internal/recorder"
	"github.com/splatrec/splatrec/internal/storage"
	"github.com/splatrec/splatrec/internal/transcribe"
	"github.com/splatrec/splatrec/internal/upload"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Invalid %s: %v", key, err)
	}
	return n
}

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	// Database
	dbConfig := database.Config{Type: getEnv("DB_TYPE", "sqlite")}
	if dbConfig.Type == "postgres" {
		dbConfig.Host = getEnv("DB_HOST", "localhost")
		dbConfig.Port = getEnvInt("DB_PORT", 5432)
		dbConfig.User = getEnv("DB_USER", "splatrec")
		dbConfig.Password = getEnv("DB_PASSWORD", "splatrec_dev")
		dbConfig.Name = getEnv("DB_NAME", "splatrec")
	} else {
		dbConfig.SQLitePath = getEnv("DB_PATH", "./splatrec.db")
	}

	db, err := database.NewDB(dbConfig)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer db.Close()

	if err := db.RunMigrations(getEnv("MIGRATIONS_PATH", "./migrations")); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	// Artifact storage and upload queue
	artifactStore, err := storage.NewLocalStorage(getEnv("ARTIFACT_DIR", "./artifacts"))
	if err != nil {
		log.Fatal("Failed to initialize artifact storage:", err)
	}
	queue := upload.NewQueue(database.NewBattleRepository(db), artifactStore)

	// OCR is optional; without it ratings and kill records are skipped.
	var engine *ocr.Engine
	engine, err = ocr.NewEngine(os.Getenv("TESSERACT_PATH"))
	if err != nil {
		log.Printf("OCR disabled: %v", err)
		engine = nil
	} else {
		defer engine.Cleanup()
	}

	// Frame classifier; a missing or corrupt asset is a startup error.
	an, err := analyzer.New(getEnv("ASSETS_DIR", "./assets"), engine)
	if err != nil {
		log.Fatal("Failed to load analyzer assets:", err)
	}
	defer an.Close()

	// Recording backend
	var rec *recorder.Recorder
	client, err := obs.Dial(
		getEnv("OBS_WS_HOST", "localhost"),
		getEnvInt("OBS_WS_PORT", 4455),
		os.Getenv("OBS_WS_PASSWORD"),
		func(err error) {
			log.Printf("Recording backend disconnected: %v", err)
			if rec != nil {
				rec.Stop()
			}
		},
	)
	if err != nil {
		log.Fatal("Failed to connect to OBS:", err)
	}
	defer client.Close()

	if err := client.StartVirtualCam(); err != nil {
		log.Fatal("Failed to start virtual camera:", err)
	}

	// Frame source: a capture device, or a pre-recorded file
	var source *capture.Source
	fileMode := false
	if file := os.Getenv("CAPTURE_FILE"); file != "" {
		source, err = capture.OpenFile(file)
		fileMode = true
		log.Printf("Analyzing pre-recorded file %s", file)
	} else {
		source, err = capture.OpenDevice(
			getEnvInt("CAPTURE_DEVICE", 0),
			getEnvInt("CAPTURE_WIDTH", 1920),
			getEnvInt("CAPTURE_HEIGHT", 1080),
		)
	}
	if err != nil {
		log.Fatal("Failed to open frame source:", err)
	}

	// Transcription is optional, enabled when both a microphone and a
	// recognition endpoint are configured.
	var transcriber recorder.Transcriber
	if mic, whisperURL := os.Getenv("MIC_DEVICE"), os.Getenv("WHISPER_URL"); mic != "" && whisperURL != "" {
		micSource, err := transcribe.NewMicrophoneSource(mic)
		if err != nil {
			log.Printf("Transcription disabled: %v", err)
		} else {
			defer micSource.Close()
			rc := transcribe.NewWhisperRecognizer(
				whisperURL,
				os.Getenv("WHISPER_API_KEY"),
				os.Getenv("WHISPER_MODEL"),
				getEnv("WHISPER_LANGUAGE", "en"),
			)
			transcriber = transcribe.New(micSource, rc)
		}
	}

	rec = recorder.New(source, client, an, queue, recorder.Options{
		Transcriber: transcriber,
		FileMode:    fileMode,
	})
	rec.RegisterPowerOffCallback(func() {
		log.Print("Console powered off, recording cycle idle")
	})

	// Status API
	app := &api.App{Recorder: rec, Queue: queue, Storage: artifactStore}
	port := getEnv("PORT", "8080")
	go func() {
		log.Printf("Status API listening on port %s", port)
		if err := http.ListenAndServe(":"+port, api.NewRouter(app)); err != nil {
			log.Printf("Status API stopped: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Printf("Received %s, shutting down", sig)
		rec.Stop()
	}()

	if err := rec.Run(); err != nil {
		log.Fatal("Recorder stopped:", err)
	}
	log.Print("Recorder shut down")
}
