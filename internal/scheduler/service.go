package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/lifelogd/lifelog-backend/internal/chat"
	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/envutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

// Asker is the slice of the chat engine the scheduler consumes.
type Asker interface {
	Ask(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// TaskInput is the create/update payload for a scheduled task.
type TaskInput struct {
	Name          string             `json:"name"`
	Prompt        string             `json:"prompt"`
	ScheduleType  types.ScheduleType `json:"schedule_type"`
	ScheduleValue string             `json:"schedule_value"`
	Timezone      string             `json:"timezone"`
	Enabled       *bool              `json:"enabled,omitempty"`
	Filters       *retrieval.Filters `json:"filters,omitempty"`
}

// Service owns the durable task store and the dispatch loop.
type Service struct {
	repo   repos.TaskRepo
	engine Asker
	log    *logger.Logger

	tick time.Duration
	stop chan struct{}
	done chan struct{}
}

func NewService(repo repos.TaskRepo, engine Asker, baseLog *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		engine: engine,
		log:    baseLog.With("service", "SchedulerService"),
		tick:   time.Duration(envutil.GetEnvAsInt("SCHEDULER_TICK_SECONDS", 60, baseLog)) * time.Second,
	}
}

// Start runs the dispatch loop until Stop.
func (s *Service) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick(context.Background())
			}
		}
	}()
	s.log.Info("scheduler started", "tick", s.tick.String())
}

func (s *Service) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
}

// Tick dispatches every enabled task whose next_run_at has passed. One bad
// task never blocks the rest of the batch.
func (s *Service) Tick(ctx context.Context) {
	ctx = ctxutil.Default(ctx)
	now := time.Now().UTC()
	due, err := s.repo.ListDue(ctx, nil, now)
	if err != nil {
		s.log.Error("due-task query failed", "error", err)
		return
	}
	for _, task := range due {
		if _, err := s.Execute(ctx, task); err != nil {
			s.log.Error("task dispatch failed", "task_id", task.ID, "error", err)
		}
	}
}

// Execute runs one task through the retrieval engine, persists the result
// and advances next_run_at. The schedule advances on failures too, so a
// broken task cannot spin on every tick.
func (s *Service) Execute(ctx context.Context, task *types.ScheduledTask) (*types.TaskResult, error) {
	started := time.Now().UTC()
	result := &types.TaskResult{
		TaskID:     task.ID,
		PromptUsed: task.Prompt,
		ExecutedAt: started,
	}

	resp, err := s.engine.Ask(ctx, chat.Request{
		Question: task.Prompt,
		Filters:  taskFilters(task),
	})
	result.DurationMS = time.Since(started).Milliseconds()

	switch {
	case err != nil:
		result.Status = types.TaskStatusError
		result.ErrorMessage = err.Error()
	case len(resp.Sources) == 0:
		result.Status = types.TaskStatusNoResults
		result.Answer = resp.Answer
		result.CostUSD = resp.Cost.QueryCostUSD
	default:
		result.Status = types.TaskStatusSuccess
		result.Answer = resp.Answer
		result.CostUSD = resp.Cost.QueryCostUSD
		if raw, merr := json.Marshal(resp.Sources); merr == nil {
			result.Sources = datatypes.JSON(raw)
		}
	}

	if cerr := s.repo.CreateResult(ctx, nil, result); cerr != nil {
		return nil, fmt.Errorf("persist result for task %d: %w", task.ID, cerr)
	}

	fields := map[string]any{"last_run_at": &started}
	next, nerr := NextRun(task.ScheduleType, task.ScheduleValue, task.Timezone, time.Now().UTC())
	if nerr != nil {
		s.log.Error("next-run computation failed, task disabled", "task_id", task.ID, "error", nerr)
		fields["enabled"] = false
		fields["next_run_at"] = nil
	} else {
		nextUTC := next.UTC()
		fields["next_run_at"] = &nextUTC
	}
	if uerr := s.repo.UpdateFields(ctx, nil, task.ID, fields); uerr != nil {
		return nil, fmt.Errorf("advance task %d: %w", task.ID, uerr)
	}

	s.log.Info("task executed", "task_id", task.ID, "status", string(result.Status), "duration_ms", result.DurationMS)
	return result, nil
}

// Create validates the schedule and stores the task with its first fire time.
func (s *Service) Create(ctx context.Context, input TaskInput) (*types.ScheduledTask, error) {
	task, err := buildTask(input)
	if err != nil {
		return nil, err
	}
	if task.Enabled {
		next, err := NextRun(task.ScheduleType, task.ScheduleValue, task.Timezone, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		nextUTC := next.UTC()
		task.NextRunAt = &nextUTC
	}
	if err := s.repo.Create(ctx, nil, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Update rewrites the task fields and recomputes next_run_at when the
// schedule changed.
func (s *Service) Update(ctx context.Context, id int64, input TaskInput) (*types.ScheduledTask, error) {
	existing, err := s.repo.Get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("task %d not found", id)
	}

	updated, err := buildTask(input)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		"name":           updated.Name,
		"prompt":         updated.Prompt,
		"schedule_type":  updated.ScheduleType,
		"schedule_value": updated.ScheduleValue,
		"timezone":       updated.Timezone,
		"enabled":        updated.Enabled,
		"filters":        updated.Filters,
	}
	if updated.Enabled {
		next, err := NextRun(updated.ScheduleType, updated.ScheduleValue, updated.Timezone, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		nextUTC := next.UTC()
		fields["next_run_at"] = &nextUTC
	} else {
		fields["next_run_at"] = nil
	}
	if err := s.repo.UpdateFields(ctx, nil, id, fields); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, nil, id)
}

// Toggle flips the enabled flag. Disabling clears next_run_at; enabling
// recomputes it from now.
func (s *Service) Toggle(ctx context.Context, id int64, enabled bool) (*types.ScheduledTask, error) {
	task, err := s.repo.Get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %d not found", id)
	}

	fields := map[string]any{"enabled": enabled}
	if enabled {
		next, err := NextRun(task.ScheduleType, task.ScheduleValue, task.Timezone, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		nextUTC := next.UTC()
		fields["next_run_at"] = &nextUTC
	} else {
		fields["next_run_at"] = nil
	}
	if err := s.repo.UpdateFields(ctx, nil, id, fields); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, nil, id)
}

// RunNow executes one task immediately regardless of its schedule.
func (s *Service) RunNow(ctx context.Context, id int64) (*types.TaskResult, error) {
	task, err := s.repo.Get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %d not found", id)
	}
	return s.Execute(ctx, task)
}

// Rate stores a quality rating on one result. Only the rating field moves.
func (s *Service) Rate(ctx context.Context, resultID int64, rating int) error {
	if rating < -1 || rating > 1 {
		return fmt.Errorf("rating %d out of range, want -1, 0 or +1", rating)
	}
	res, err := s.repo.GetResult(ctx, nil, resultID)
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("result %d not found", resultID)
	}
	return s.repo.RateResult(ctx, nil, resultID, rating)
}

func (s *Service) List(ctx context.Context) ([]*types.ScheduledTask, error) {
	return s.repo.List(ctx, nil)
}

func (s *Service) Get(ctx context.Context, id int64) (*types.ScheduledTask, error) {
	return s.repo.Get(ctx, nil, id)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, nil, id)
}

func (s *Service) Results(ctx context.Context, taskID int64, limit int) ([]*types.TaskResult, error) {
	return s.repo.ListResults(ctx, nil, taskID, limit)
}

func buildTask(input TaskInput) (*types.ScheduledTask, error) {
	name := strings.TrimSpace(input.Name)
	prompt := strings.TrimSpace(input.Prompt)
	if name == "" || prompt == "" {
		return nil, fmt.Errorf("task name and prompt are required")
	}
	tz := input.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if err := Validate(input.ScheduleType, input.ScheduleValue, tz); err != nil {
		return nil, err
	}

	task := &types.ScheduledTask{
		Name:          name,
		Prompt:        prompt,
		ScheduleType:  input.ScheduleType,
		ScheduleValue: input.ScheduleValue,
		Timezone:      tz,
		Enabled:       true,
	}
	if input.Enabled != nil {
		task.Enabled = *input.Enabled
	}
	if input.Filters != nil && !input.Filters.IsZero() {
		raw, err := json.Marshal(input.Filters)
		if err != nil {
			return nil, fmt.Errorf("encode filters: %w", err)
		}
		task.Filters = datatypes.JSON(raw)
	}
	return task, nil
}

func taskFilters(task *types.ScheduledTask) retrieval.Filters {
	var filters retrieval.Filters
	if len(task.Filters) > 0 {
		if err := json.Unmarshal(task.Filters, &filters); err != nil {
			return retrieval.Filters{}
		}
	}
	return filters
}
