// workers/user_sync_worker.go
package workers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gamified-lms/logger"
	"gamified-lms/models"
	"gamified-lms/services"
	"gamified-lms/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultProfilesPath is the identity service endpoint that lists changed users.
const DefaultProfilesPath = "/api/v1/public/profiles"

// UserChangesResponse is the top-level structure of the sync service response.
type UserChangesResponse struct {
	Users []models.RemoteUser `json:"users"`
}

// UserSyncWorker mirrors users and their roles from the identity service into
// the local users/user_roles tables the leaderboard and role checks read.
// Every mirrored user gets a progression profile in the same transaction.
type UserSyncWorker struct {
	db           *gorm.DB
	log          *logger.Logger
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
	progression  *services.ProgressionService
	cache        services.Invalidator
}

func NewUserSyncWorker(db *gorm.DB, log *logger.Logger, baseURL, serviceToken string, interval time.Duration, progression *services.ProgressionService, cache services.Invalidator) *UserSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &UserSyncWorker{
		db:           db,
		log:          log.With("worker", "UserSync"),
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: DefaultProfilesPath,
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
		progression:  progression,
		cache:        cache,
	}
}

func (w *UserSyncWorker) Start(ctx context.Context) {
	w.log.Info("starting user sync worker", "interval", w.interval.String())
	go w.run(ctx)
}

func (w *UserSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx, time.Time{}); err != nil {
		w.log.Warn("initial user sync failed", "error", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx, w.lastSyncTime(ctx)); err != nil {
				w.log.Error("user sync batch failed", "error", err)
			}
		case <-ctx.Done():
			w.log.Info("user sync worker stopped")
			return
		}
	}
}

// lastSyncTime is the newest updated_at among mirrored users.
func (w *UserSyncWorker) lastSyncTime(ctx context.Context) time.Time {
	var users []models.User
	err := w.db.WithContext(ctx).Select("updated_at").Order("updated_at DESC").Limit(1).Find(&users).Error
	if err != nil || len(users) == 0 {
		return time.Unix(0, 0)
	}
	return users[0].UpdatedAt
}

func (w *UserSyncWorker) endpoint(since time.Time) (string, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid sync service URL %q: %w", w.baseURL, err)
	}
	u := base.JoinPath(w.endpointPath)
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SyncOnce pulls users changed since the given time and upserts them.
// It returns how many users were written.
func (w *UserSyncWorker) SyncOnce(ctx context.Context, since time.Time) (int, error) {
	endpoint, err := w.endpoint(since)
	if err != nil {
		return 0, err
	}

	var resp UserChangesResponse
	if err := utils.GetJSON(ctx, w.httpClient, endpoint, map[string]string{
		"X-Service-Token": w.serviceToken,
	}, &resp); err != nil {
		return 0, err
	}
	if len(resp.Users) == 0 {
		w.log.Debug("no user changes", "since", since)
		return 0, nil
	}

	upserted, failed := 0, 0
	for _, remote := range resp.Users {
		if err := w.upsert(ctx, remote); err != nil {
			failed++
			w.log.Warn("failed to upsert user", "external_id", remote.ID, "username", remote.Username, "error", err)
			continue
		}
		upserted++
	}

	if upserted > 0 && w.cache != nil {
		if err := w.cache.Invalidate(ctx); err != nil {
			w.log.Warn("leaderboard cache invalidation failed", "error", err)
		}
	}
	w.log.Info("user sync batch done", "received", len(resp.Users), "upserted", upserted, "failed", failed)
	return upserted, nil
}

func normaliseRoles(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func (w *UserSyncWorker) upsert(ctx context.Context, remote models.RemoteUser) error {
	if remote.ID == "" {
		return fmt.Errorf("remote user %q has no external_id", remote.Username)
	}
	roles := normaliseRoles(remote.Roles)

	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := models.User{
			ID:        remote.ID,
			Name:      remote.DisplayName(),
			Email:     remote.Email,
			CreatedAt: remote.CreatedAt,
			UpdatedAt: remote.UpdatedAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email", "updated_at"}),
		}).Create(&user).Error; err != nil {
			return err
		}
		if _, err := w.progression.EnsureProfile(ctx, tx, remote.ID); err != nil {
			return fmt.Errorf("create profile: %w", err)
		}

		stale := tx.Where("user_id = ?", remote.ID)
		if len(roles) > 0 {
			stale = stale.Where("role NOT IN ?", roles)
		}
		if err := stale.Delete(&models.UserRole{}).Error; err != nil {
			return err
		}
		if len(roles) == 0 {
			return nil
		}

		rows := make([]models.UserRole, len(roles))
		for i, r := range roles {
			rows[i] = models.UserRole{UserID: remote.ID, Role: r}
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
}
