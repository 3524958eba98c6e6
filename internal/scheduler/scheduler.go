// Package scheduler runs the periodic maintenance jobs of the control plane
// on cron schedules.
package scheduler

import (
	"log"

	"github.com/robfig/cron/v3"
)

// Job is one named maintenance task. The schedule is a standard five-field
// cron expression, validated at config load.
type Job struct {
	Name     string
	Schedule string
	Run      func() error
}

// Scheduler owns the cron runner. Jobs run on the runner's single goroutine
// pool; long jobs delay later ones rather than overlapping themselves.
type Scheduler struct {
	cron *cron.Cron
}

// New registers the given jobs. An invalid schedule is a wiring bug and is
// reported as an error rather than skipped.
func New(jobs []Job) (*Scheduler, error) {
	c := cron.New()
	for _, j := range jobs {
		job := j
		_, err := c.AddFunc(job.Schedule, func() {
			if err := job.Run(); err != nil {
				log.Printf("[scheduler] %s: %v", job.Name, err)
			}
		})
		if err != nil {
			return nil, err
		}
		log.Printf("[scheduler] registered %s (%s)", job.Name, job.Schedule)
	}
	return &Scheduler{cron: c}, nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
