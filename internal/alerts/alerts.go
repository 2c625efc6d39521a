// Package alerts pushes operator-facing failure notices to a Telegram chat.
// It is the escalation path for faults that must not drown in log files,
// persistence errors above all: a reminder log that silently stops recording
// is worse than a failed send.
package alerts

import (
	"errors"
	"fmt"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"medremind/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerMin int
}

// Service sends throttled alert messages. A nil *Service is valid and drops
// everything, so callers don't need to branch on whether alerting is
// configured.
type Service struct {
	bot     *tele.Bot
	chatID  int64
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, errors.New("alerts: telegram token and chat id are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	perMin := cfg.RatePerMin
	if perMin <= 0 {
		perMin = 6
	}
	return &Service{
		bot:     bot,
		chatID:  cfg.ChatID,
		limiter: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin),
		log:     log,
	}, nil
}

// Persistence reports a reminder-log storage fault.
func (s *Service) Persistence(err error) {
	s.send(fmt.Sprintf("🚨 reminder log failure: %v", err))
}

// Send pushes a free-form operator notice.
func (s *Service) Send(msg string) {
	s.send("⚠️ " + msg)
}

func (s *Service) send(msg string) {
	if s == nil {
		return
	}
	if !s.limiter.Allow() {
		return
	}
	if _, err := s.bot.Send(tele.ChatID(s.chatID), msg); err != nil {
		s.log.Warn("operator alert send failed", logx.Err(err))
	}
}
