package fanline

import (
	"log/slog"
	"sync"

	"github.com/haileyok/fanline/models"
)

type notifyJob struct {
	userID int64
	event  models.Event
}

// notifier is the bounded-concurrency queue between fan-out and the
// realtime transport. Publication is fire-and-forget: a full queue drops
// the event rather than stalling a cache insert, because followers catch
// up through the reader anyway.
type notifier struct {
	logger    *slog.Logger
	transport RealtimeTransport
	queue     chan notifyJob
	wg        sync.WaitGroup
}

type notifierArgs struct {
	Logger    *slog.Logger
	Transport RealtimeTransport
	Workers   int
	QueueSize int
}

func newNotifier(args *notifierArgs) *notifier {
	n := &notifier{
		logger:    args.Logger,
		transport: args.Transport,
		queue:     make(chan notifyJob, args.QueueSize),
	}

	for i := 0; i < args.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}

	return n
}

func (n *notifier) publish(userID int64, ev models.Event) {
	if n.transport == nil {
		return
	}

	select {
	case n.queue <- notifyJob{userID: userID, event: ev}:
	default:
		notifyEvents.WithLabelValues("dropped").Inc()
		n.logger.Warn("notification queue full, dropping event",
			"user", userID, "post", ev.PostID)
	}
}

func (n *notifier) worker() {
	defer n.wg.Done()

	for job := range n.queue {
		// Offline followers are skipped outright; they see the post via
		// the reader on their next poll.
		if !n.transport.IsConnected(job.userID) {
			notifyEvents.WithLabelValues("offline").Inc()
			continue
		}

		if err := n.transport.Push(job.userID, job.event); err != nil {
			notifyEvents.WithLabelValues("failed").Inc()
			n.logger.Warn("realtime push failed",
				"user", job.userID, "post", job.event.PostID, "error", err)
			continue
		}

		notifyEvents.WithLabelValues("ok").Inc()
	}
}

func (n *notifier) close() {
	close(n.queue)
	n.wg.Wait()
}
