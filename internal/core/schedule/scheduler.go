package schedule

import (
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the recurring maintenance tasks: the stale-job reconcile,
// the pending extraction sweep and the nightly alias backfill.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]cron.EntryID // task name -> entry_id
	jobsMux sync.RWMutex
}

// NewScheduler creates a new scheduler. Tasks are wrapped so a panic is
// logged instead of killing the process, and a slow run is skipped rather
// than overlapped by the next tick.
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(
				cron.Recover(cron.DefaultLogger),
				cron.SkipIfStillRunning(cron.DefaultLogger),
			),
		),
		jobs: make(map[string]cron.EntryID),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	log.Println("⏰ Starting maintenance scheduler...")
	s.cron.Start()
	log.Println("✅ Maintenance scheduler started")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	log.Println("⏰ Stopping maintenance scheduler...")
	s.cron.Stop()
	log.Println("✅ Maintenance scheduler stopped")
}

// AddTask schedules a named task. schedule is a cron expression with a
// seconds field (e.g. "0 */10 * * * *" for every ten minutes). Re-adding a
// name replaces its previous schedule.
func (s *Scheduler) AddTask(name string, schedule string, job func()) error {
	s.jobsMux.Lock()
	defer s.jobsMux.Unlock()

	if entryID, exists := s.jobs[name]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
	}

	entryID, err := s.cron.AddFunc(schedule, job)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobs[name] = entryID
	log.Printf("   ✅ Scheduled task %s: %s", name, schedule)

	return nil
}

// RemoveTask removes a scheduled task
func (s *Scheduler) RemoveTask(name string) {
	s.jobsMux.Lock()
	defer s.jobsMux.Unlock()

	if entryID, exists := s.jobs[name]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		log.Printf("   ✅ Removed scheduled task: %s", name)
	}
}

// ScheduledTasks returns the names of all currently scheduled tasks
func (s *Scheduler) ScheduledTasks() []string {
	s.jobsMux.RLock()
	defer s.jobsMux.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}

	return names
}
