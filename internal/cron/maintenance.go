package cron

import (
	"context"
	"fmt"
	"time"
)

const (
	JobMediaSweep   = "media-sweep"
	JobMediaCleanup = "media-temp-cleanup"
)

// MediaMaintainer 媒体缓存的维护操作
type MediaMaintainer interface {
	Sweep(olderThan time.Duration) int
	CleanupTemp(olderThan time.Duration) (int, error)
}

// RegisterMediaMaintenance adds the two media jobs on the same schedule.
// Records and temp files younger than retention are left alone.
func RegisterMediaMaintenance(s *Service, m MediaMaintainer, schedule string, retention time.Duration) error {
	if err := s.AddJob(Job{
		Name:     JobMediaSweep,
		Schedule: schedule,
		Run: func(context.Context) (string, error) {
			return fmt.Sprintf("forgot %d records", m.Sweep(retention)), nil
		},
	}); err != nil {
		return err
	}

	return s.AddJob(Job{
		Name:     JobMediaCleanup,
		Schedule: schedule,
		Run: func(context.Context) (string, error) {
			n, err := m.CleanupTemp(retention)
			if err != nil {
				return "", fmt.Errorf("cleanup temp files: %w", err)
			}
			return fmt.Sprintf("removed %d temp files", n), nil
		},
	})
}
