package eventlog

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-levelmon/internal/util"
)

const (
	// scheduleHour is the local hour at which the daily archive runs.
	scheduleHour = 3
	pruneTimeout = 5 * time.Minute
)

// nextRun returns the next occurrence of scheduleHour after now.
func nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), scheduleHour, 0, 0, 0, now.Location())
	if !now.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// StartSchedule archives the event log every day at 03:00 and prunes
// archives older than the retention period. Stop ends the schedule.
func (a *Archiver) StartSchedule() {
	if a.done != nil {
		return
	}
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)
		for {
			now := a.now()
			next := nextRun(now)
			slog.Info("event log archive scheduled", "at", next.Format(time.DateTime))

			select {
			case <-time.After(next.Sub(now)):
				a.runScheduled()
			case <-a.stopCh:
				return
			}
		}
	}()
}

// Stop ends the daily schedule and waits for a running pass to finish.
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
	})
	if a.done != nil {
		<-a.done
	}
}

func (a *Archiver) runScheduled() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Archive records its own outcome in the event log.
	_, _ = a.Archive(ctx)
	if _, err := a.Prune(ctx); err != nil {
		slog.Warn("event log archive pruning failed", "error", err)
	}
}

// Prune deletes archives under the prefix whose key date is older than the
// retention period and returns how many were removed.
func (a *Archiver) Prune(ctx context.Context) (int, error) {
	if a.cfg.RetentionDays <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeoutCause(ctx, pruneTimeout, errors.New("archive pruning timeout"))
	defer cancel()

	cutoff := a.now().AddDate(0, 0, -a.cfg.RetentionDays)

	var deleted int
	var continuationToken *string
	for {
		output, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.cfg.Bucket),
			Prefix:            aws.String(a.cfg.Prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return deleted, util.WrapError("list archived event logs", err)
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			date, ok := util.ExtractDateFromFilename(path.Base(key))
			if !ok || !date.Before(cutoff) {
				continue
			}
			if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(a.cfg.Bucket),
				Key:    obj.Key,
			}); err != nil {
				slog.Warn("failed to delete archived event log", "key", key, "error", err)
				continue
			}
			deleted++
			slog.Debug("deleted archived event log", "key", key)
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}

	if deleted > 0 {
		slog.Info("pruned archived event logs", "count", deleted, "retention_days", a.cfg.RetentionDays)
	}
	return deleted, nil
}
