package task

import (
	"encoding/json"
	"fmt"
	"time"

	"staking-controlplane/pkg/rediskey"

	"github.com/hibiken/asynq"
)

type PlanPayload struct {
	PlanID  string    `json:"plan_id"`
	Instant time.Time `json:"instant"`
}

type SettlePayload struct {
	Limit int `json:"limit"`
}

// NewPlanTask builds a plan job task. The TaskID makes a second enqueue of the
// same (task, plan, instant) a no-op while the first is queued or retained.
func NewPlanTask(name, planID string, instant time.Time, queue string) (*asynq.Task, error) {
	payload, err := json.Marshal(PlanPayload{PlanID: planID, Instant: instant.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(name, payload,
		asynq.TaskID(rediskey.BuildPlanTaskKey(name, planID, instant)),
		asynq.Queue(queue),
		asynq.Retention(24*time.Hour),
	), nil
}

func NewSettleTask(name string, instant time.Time, limit int, queue string) (*asynq.Task, error) {
	payload, err := json.Marshal(SettlePayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(name, payload,
		asynq.TaskID(rediskey.BuildTaskKey(name, instant)),
		asynq.Queue(queue),
	), nil
}

func decodePlan(t *asynq.Task) (PlanPayload, error) {
	var p PlanPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("invalid %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if p.PlanID == "" {
		return p, fmt.Errorf("%s payload without plan_id: %w", t.Type(), asynq.SkipRetry)
	}
	return p, nil
}
