package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/softpaymoney/paygate/app/models"
)

// retryQueueKey is the redis sorted set holding delayed webhook
// deliveries, scored by their due time.
const retryQueueKey = "dispatch:webhook:retry"

const defaultPollInterval = 30 * time.Second

// RetryJob is one scheduled webhook re-delivery. The job carries the
// full event so the retry does not depend on the original request
// still being around.
type RetryJob struct {
	ID      string               `json:"id"`
	System  models.PaymentSystem `json:"paymentSystem"`
	Event   SettlementEvent      `json:"event"`
	Attempt int                  `json:"attempt"`
}

func NewRetryJob(system models.PaymentSystem, event SettlementEvent, attempt int) RetryJob {
	return RetryJob{
		ID:      uuid.New().String(),
		System:  system,
		Event:   event,
		Attempt: attempt,
	}
}

// RetryQueue persists delayed deliveries in redis so scheduled
// retries survive a process restart.
type RetryQueue struct {
	client *redis.Client
	poll   time.Duration
}

func NewRetryQueue(client *redis.Client, poll time.Duration) *RetryQueue {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &RetryQueue{client: client, poll: poll}
}

// Schedule enqueues the job for execution at due.
func (q *RetryQueue) Schedule(ctx context.Context, job RetryJob, due time.Time) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, retryQueueKey, redis.Z{
		Score:  float64(due.Unix()),
		Member: string(body),
	}).Err()
}

// Run polls for due jobs until the context is cancelled. Each due job
// is removed before handling; the ZRem result arbitrates between
// concurrent dispatcher instances so a job runs once.
func (q *RetryQueue) Run(ctx context.Context, handle func(ctx context.Context, job RetryJob)) {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.drainDue(ctx, handle)
		}
	}
}

func (q *RetryQueue) drainDue(ctx context.Context, handle func(ctx context.Context, job RetryJob)) {
	members, err := q.client.ZRangeByScore(ctx, retryQueueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		log.Errorf("[Dispatch] cannot read retry queue: %v", err)
		return
	}

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, retryQueueKey, member).Result()
		if err != nil {
			log.Errorf("[Dispatch] cannot claim retry job: %v", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var job RetryJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			log.Errorf("[Dispatch] dropping malformed retry job: %v", err)
			continue
		}
		handle(ctx, job)
	}
}
