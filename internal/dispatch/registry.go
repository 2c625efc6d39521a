package dispatch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"medremind/internal/reminder"
	"medremind/internal/scheduler"
	"medremind/pkg/logx"
)

// JobScheduler is the slice of the scheduler the registry needs.
type JobScheduler interface {
	Add(at reminder.TimeOfDay, job scheduler.Job) error
	Remove(id string)
}

// Registry validates schedule registrations and hands the resulting jobs to
// the scheduler. It sends nothing and writes no log rows itself.
type Registry struct {
	sched JobScheduler
	deps  Deps
	log   logx.Logger
}

func NewRegistry(sched JobScheduler, deps Deps, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Logger.IsZero() {
		deps.Logger = log
	}
	return &Registry{sched: sched, deps: deps, log: log}
}

// Register validates reg as a whole and creates one job per trigger time,
// each carrying the full medicine set. Any invalid field — including a single
// malformed time string — rejects the entire registration; no partial
// schedule is ever created. Returned ids can be passed to Unregister later.
func (r *Registry) Register(reg reminder.Registration) ([]string, error) {
	times, err := validate(reg)
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(times))
	for _, at := range times {
		jobs = append(jobs, &Job{
			id:        uuid.NewString(),
			recipient: reg.Recipient,
			medicines: append([]reminder.Medicine(nil), reg.Medicines...),
			audioRef:  reg.AudioRef,
			at:        at,
			deps:      r.deps,
		})
	}

	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if err := r.sched.Add(j.At(), j); err != nil {
			// Unreachable after validation; keep the registration atomic anyway.
			for _, id := range ids {
				r.sched.Remove(id)
			}
			return nil, err
		}
		ids = append(ids, j.ID())
	}

	r.log.Info("schedule registered",
		logx.String("recipient", reg.Recipient.Name),
		logx.Int("times", len(times)),
		logx.Int("medicines", len(reg.Medicines)))
	return ids, nil
}

// Unregister removes previously created jobs. Unknown ids are ignored.
func (r *Registry) Unregister(ids []string) {
	for _, id := range ids {
		r.sched.Remove(id)
	}
}

func validate(reg reminder.Registration) ([]reminder.TimeOfDay, error) {
	if strings.TrimSpace(reg.Recipient.Name) == "" {
		return nil, &reminder.ValidationError{Reason: "recipient name is required"}
	}
	if strings.TrimSpace(reg.Recipient.Phone) == "" {
		return nil, &reminder.ValidationError{Reason: "phone number is required"}
	}
	if len(reg.Times) == 0 {
		return nil, &reminder.ValidationError{Reason: "at least one reminder time is required"}
	}
	if len(reg.Medicines) == 0 {
		return nil, &reminder.ValidationError{Reason: "at least one medicine is required"}
	}
	for i, m := range reg.Medicines {
		if strings.TrimSpace(m.Name) == "" {
			return nil, &reminder.ValidationError{Reason: fmt.Sprintf("medicine %d: name is required", i+1)}
		}
	}

	times := make([]reminder.TimeOfDay, 0, len(reg.Times))
	for _, raw := range reg.Times {
		at, err := reminder.ParseTimeOfDay(raw)
		if err != nil {
			return nil, &reminder.ValidationError{Reason: err.Error()}
		}
		times = append(times, at)
	}
	return times, nil
}
