package storage

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"medremind/pkg/logx"
)

// Maintenance runs periodic housekeeping on the log database. Unlike the
// reminder path, "roughly once a day" is good enough here, so a plain cron
// schedule is fine.
type Maintenance struct {
	c   *cron.Cron
	log logx.Logger
}

// NewMaintenance schedules a WAL checkpoint on spec (default "@daily").
func NewMaintenance(l *Log, spec string, log logx.Logger) (*Maintenance, error) {
	if spec == "" {
		spec = "@daily"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := l.Checkpoint(ctx); err != nil {
			log.Warn("wal checkpoint failed", logx.Err(err))
			return
		}
		log.Debug("wal checkpoint done")
	})
	if err != nil {
		return nil, err
	}
	return &Maintenance{c: c, log: log}, nil
}

func (m *Maintenance) Start() {
	m.c.Start()
	m.log.Info("storage maintenance started")
}

func (m *Maintenance) Stop() {
	<-m.c.Stop().Done()
	m.log.Info("storage maintenance stopped")
}
