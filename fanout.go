package fanline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/haileyok/fanline/models"
)

type fanoutOp int

const (
	opInsert fanoutOp = iota
	opRemove
)

type fanoutJob struct {
	op         fanoutOp
	followerID int64
	entry      models.TimelineEntry
	event      *models.Event
	result     *FanoutResult
}

// FanoutResult reports how a post was dispatched. Application is
// asynchronous; Wait blocks until every queued follower insert has either
// landed or exhausted its retries.
type FanoutResult struct {
	Class  models.FanoutClass
	Queued int

	wg    sync.WaitGroup
	start time.Time
}

func (r *FanoutResult) Wait() {
	r.wg.Wait()
}

// Dispatch classifies the author fresh and either queues a cache insert
// per follower or parks the ref in the author window for read-time pull.
// The post must already be durably stored.
func (e *Engine) Dispatch(ctx context.Context, ref models.PostRef) (*FanoutResult, error) {
	count, err := e.graph.FollowerCount(ctx, ref.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("counting followers for author %d: %w", ref.AuthorID, err)
	}

	class := models.Classify(count, e.cfg.PushThreshold)
	dispatchCounter.WithLabelValues(string(class)).Inc()

	res := &FanoutResult{Class: class, start: time.Now()}

	if class == models.ClassPull {
		// High-follower account: no per-follower pushes. The author
		// window keeps the read-side pull off the durable store.
		if err := e.cache.InsertAuthor(ctx, ref); err != nil {
			e.logger.Warn("author window insert failed, pull will hit the post store",
				"author", ref.AuthorID, "post", ref.PostID, "error", err)
		}
		return res, nil
	}

	followers, err := e.graph.Followers(ctx, ref.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("listing followers for author %d: %w", ref.AuthorID, err)
	}

	entry := models.TimelineEntry{PostRef: ref, Reason: models.ReasonPushed}
	ev := &models.Event{
		ID:       uuid.NewString(),
		Type:     models.EventPostCreated,
		PostID:   ref.PostID,
		AuthorID: ref.AuthorID,
	}

	for _, f := range followers {
		res.wg.Add(1)
		if !e.enqueue(fanoutJob{op: opInsert, followerID: f, entry: entry, event: ev, result: res}) {
			res.wg.Done()
			return res, fmt.Errorf("engine is closed")
		}
		res.Queued++
	}

	return res, nil
}

func (e *Engine) fanoutWorker() {
	defer e.workerWG.Done()

	for job := range e.jobs {
		e.applyJob(job)
	}
}

func (e *Engine) applyJob(job fanoutJob) {
	defer job.result.wg.Done()
	defer func() {
		fanoutDuration.Observe(time.Since(job.result.start).Seconds())
	}()

	e.limiter.Take()

	switch job.op {
	case opInsert:
		if err := e.withRetry(func() error {
			return e.cache.Insert(e.baseCtx, job.followerID, job.entry)
		}); err != nil {
			// The pull path is the safety net for this follower; log and
			// move on without failing the rest of the fan-out.
			fanoutInserts.WithLabelValues("failed").Inc()
			e.logger.Error("follower insert abandoned",
				"follower", job.followerID, "post", job.entry.PostID, "error", err)
			return
		}

		fanoutInserts.WithLabelValues("ok").Inc()

		if job.event != nil {
			e.notifier.publish(job.followerID, *job.event)
		}
	case opRemove:
		if err := e.withRetry(func() error {
			return e.cache.Remove(e.baseCtx, job.followerID, job.entry.PostID, job.entry.AuthorID)
		}); err != nil {
			fanoutInserts.WithLabelValues("remove_failed").Inc()
			e.logger.Error("follower removal abandoned",
				"follower", job.followerID, "post", job.entry.PostID, "error", err)
			return
		}

		fanoutInserts.WithLabelValues("removed").Inc()

		if job.event != nil {
			e.notifier.publish(job.followerID, *job.event)
		}
	}
}

func (e *Engine) withRetry(op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.FanoutRetryBase
	bo.MaxInterval = e.cfg.FanoutRetryBase * 10

	attempts := uint64(e.cfg.FanoutRetryMax) - 1

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, attempts), e.baseCtx))
}
