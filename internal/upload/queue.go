// Package upload queues finished recordings for the editing and upload
// stages. Each entry persists the battle metadata together with the
// artifacts derived from the final frame and the transcript, so the queue
// survives restarts.
package upload

import (
	"context"
	"fmt"
	"log"

	"gocv.io/x/gocv"

	"github.com/splatrec/splatrec/internal/battle"
	"github.com/splatrec/splatrec/internal/database"
	"github.com/splatrec/splatrec/internal/storage"
)

type Queue struct {
	repo  *database.BattleRepository
	store storage.Storage
}

func NewQueue(repo *database.BattleRepository, store storage.Storage) *Queue {
	return &Queue{repo: repo, store: store}
}

// Enqueue persists one finished recording. Artifact failures are logged and
// leave the corresponding path empty; the record itself is still queued, a
// recording without a thumbnail is still worth uploading.
func (q *Queue) Enqueue(path string, result *battle.Result, frame gocv.Mat, subtitles string) error {
	record := &database.BattleRecord{
		VideoPath:     path,
		StartTime:     result.Start,
		BattleType:    result.Match,
		Rule:          result.Rule,
		Stage:         result.Stage,
		Outcome:       result.Outcome,
		Kill:          result.Kill,
		Death:         result.Death,
		Special:       result.Special,
		HasKillRecord: result.HasRecord,
		Rating:        result.RatingString(),
	}

	if !frame.Closed() && !frame.Empty() {
		thumb, err := q.store.SaveThumbnail(frame)
		if err != nil {
			log.Printf("Failed to save thumbnail for %s: %v", path, err)
		} else {
			record.ThumbnailPath = thumb
		}
	}

	if subtitles != "" {
		subs, err := q.store.SaveSubtitles(subtitles)
		if err != nil {
			log.Printf("Failed to save subtitles for %s: %v", path, err)
		} else {
			record.SubtitlePath = subs
		}
	}

	if err := q.repo.Insert(context.Background(), record); err != nil {
		return fmt.Errorf("failed to queue recording %s: %w", path, err)
	}
	log.Printf("Queued recording %s as %s", path, record.ID)
	return nil
}

// Pending lists the recordings still waiting for upload, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]*database.BattleRecord, error) {
	return q.repo.Pending(ctx)
}

// MarkUploaded flags a queued recording as handled by the upload stage.
func (q *Queue) MarkUploaded(ctx context.Context, id string) error {
	return q.repo.MarkUploaded(ctx, id)
}
