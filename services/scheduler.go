// services/scheduler.go
package services

import (
	"context"
	"encoding/json"
	"time"

	"gamified-lms/logger"

	"github.com/go-co-op/gocron/v2"
)

// SnapshotUploader stores a rendered leaderboard snapshot and returns its URL.
type SnapshotUploader interface {
	UploadBytes(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// LeaderboardSnapshot is the document written by ExportSnapshot.
type LeaderboardSnapshot struct {
	GeneratedAt time.Time          `json:"generated_at"`
	TotalUsers  int                `json:"total_users"`
	Entries     []LeaderboardEntry `json:"entries"`
}

// SnapshotKey is the object key for the snapshot of day.
func SnapshotKey(day time.Time) string {
	return "leaderboard/" + day.Format("2006-01-02") + ".json"
}

// ExportSnapshot uploads the full ranked board as JSON.
func (s *LeaderboardService) ExportSnapshot(ctx context.Context, store SnapshotUploader, now time.Time) (string, error) {
	board, err := s.query(ctx)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(LeaderboardSnapshot{GeneratedAt: now.UTC(), TotalUsers: len(board), Entries: board})
	if err != nil {
		return "", err
	}
	return store.UploadBytes(ctx, SnapshotKey(now), body, "application/json")
}

// Scheduler runs the nightly maintenance jobs.
type Scheduler struct {
	sched       gocron.Scheduler
	log         *logger.Logger
	progression *ProgressionService
	leaderboard *LeaderboardService
	snapshots   SnapshotUploader
	loc         *time.Location
}

// NewScheduler builds the job set. snapshots may be nil to skip the export job.
func NewScheduler(log *logger.Logger, loc *time.Location, progression *ProgressionService, leaderboard *LeaderboardService, snapshots SnapshotUploader) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		sched:       sched,
		log:         log.With("component", "Scheduler"),
		progression: progression,
		leaderboard: leaderboard,
		snapshots:   snapshots,
		loc:         loc,
	}

	if _, err := sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(s.repairProfiles),
		gocron.WithName("repair-profiles"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, err
	}

	if snapshots != nil {
		if _, err := sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 5, 0))),
			gocron.NewTask(s.exportSnapshot),
			gocron.WithName("leaderboard-snapshot"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
	s.log.Info("scheduler started", "jobs", len(s.sched.Jobs()))
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

func (s *Scheduler) repairProfiles() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	n, err := s.progression.RepairProfiles(ctx)
	if err != nil {
		s.log.Error("profile repair job failed", "error", err)
		return
	}
	s.log.Info("profile repair job done", "fixed", n)
}

func (s *Scheduler) exportSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	url, err := s.leaderboard.ExportSnapshot(ctx, s.snapshots, time.Now().In(s.loc))
	if err != nil {
		s.log.Error("leaderboard snapshot export failed", "error", err)
		return
	}
	s.log.Info("leaderboard snapshot exported", "url", url)
}
