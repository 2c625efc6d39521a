// Package dispatch turns a registered schedule into delivery work: it
// validates registrations into jobs and, when a job fires, fans it out
// across the voice and chat channels with per-attempt logging.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medremind/internal/channel"
	"medremind/internal/reminder"
	"medremind/internal/storage"
	"medremind/pkg/logx"
)

// Voice is one attempt per firing, not per medicine; log rows for it carry
// this placeholder in the medicine column.
const voiceLogMedicine = "(all)"

// LogAppender is the slice of the store the dispatcher needs.
type LogAppender interface {
	Append(ctx context.Context, e storage.Entry) error
}

// Deps are the collaborators shared by all jobs.
type Deps struct {
	Voice channel.VoiceChannel
	Chat  channel.ChatChannel
	Store LogAppender

	// Alert escalates persistence faults to the operator channel.
	// Delivery failures never go through here.
	Alert func(error)

	// DefaultAudio supplies the configured fallback voice asset; empty
	// means speak the reminder text instead.
	DefaultAudio func() string

	Logger logx.Logger
}

// Outcome is one per-channel, per-medicine delivery result.
type Outcome struct {
	Channel  string
	Medicine string
	Tag      string // "queued" or "error:<code>"
}

// Job binds a recipient, the medicine set and an optional custom audio
// reference to one trigger time. Immutable after creation; schedule updates
// mean new jobs.
type Job struct {
	id        string
	recipient reminder.Recipient
	medicines []reminder.Medicine
	audioRef  string
	at        reminder.TimeOfDay

	deps Deps
}

func (j *Job) ID() string             { return j.id }
func (j *Job) At() reminder.TimeOfDay { return j.at }
func (j *Job) Recipient() string      { return j.recipient.Name }

// Run implements scheduler.Job.
func (j *Job) Run(ctx context.Context) {
	j.Dispatch(ctx)
}

// Dispatch performs one firing: a single voice attempt, then one chat
// message per medicine. Channel and per-medicine failures are isolated;
// every attempt yields exactly one log row.
func (j *Job) Dispatch(ctx context.Context) []Outcome {
	log := j.deps.Logger.With(
		logx.String("job", j.id),
		logx.String("recipient", j.recipient.Name),
		logx.String("at", j.at.String()),
	)
	log.Info("dispatching reminder", logx.Int("medicines", len(j.medicines)))

	outcomes := make([]Outcome, 0, len(j.medicines)+1)

	_, err := j.deps.Voice.Call(ctx, j.recipient.Phone, j.voiceContent())
	tag := outcomeTag(err)
	if err != nil {
		log.Warn("voice attempt failed", logx.Err(err))
	}
	j.record(ctx, log, voiceLogMedicine, channel.Voice, tag)
	outcomes = append(outcomes, Outcome{Channel: channel.Voice, Medicine: voiceLogMedicine, Tag: tag})

	for _, med := range j.medicines {
		_, err := j.deps.Chat.Send(ctx, j.recipient.Phone, j.chatMessage(med))
		tag := outcomeTag(err)
		if err != nil {
			log.Warn("chat attempt failed", logx.String("medicine", med.Name), logx.Err(err))
		}
		j.record(ctx, log, med.Name, channel.Chat, tag)
		outcomes = append(outcomes, Outcome{Channel: channel.Chat, Medicine: med.Name, Tag: tag})
	}
	return outcomes
}

func (j *Job) voiceContent() channel.CallContent {
	if j.audioRef != "" {
		return channel.CallContent{AudioURL: j.audioRef}
	}
	if j.deps.DefaultAudio != nil {
		if u := j.deps.DefaultAudio(); u != "" {
			return channel.CallContent{AudioURL: u}
		}
	}
	names := make([]string, len(j.medicines))
	for i, m := range j.medicines {
		names[i] = m.Name
	}
	say := fmt.Sprintf("Hello %s, it is time to take your %s. Please take care!",
		j.recipient.Name, strings.Join(names, ", "))
	return channel.CallContent{Say: say}
}

func (j *Job) chatMessage(med reminder.Medicine) channel.Message {
	notes := med.Notes
	if strings.TrimSpace(notes) == "" {
		notes = "not provided"
	}
	body := fmt.Sprintf(
		"Hello %s, it's time to take your medicine:\n\n💊 *%s*\nDosage: %s\nType: %s\nNotes: %s\n\nTake care, %s",
		j.recipient.Name, med.Name, med.Dosage, med.Type, notes, j.recipient.Name,
	)
	return channel.Message{Body: body, MediaURL: med.Image}
}

func (j *Job) record(ctx context.Context, log logx.Logger, medicine, ch, tag string) {
	err := j.deps.Store.Append(ctx, storage.Entry{
		Recipient: j.recipient.Name,
		Medicine:  medicine,
		Channel:   ch,
		Outcome:   tag,
	})
	if err == nil {
		return
	}
	// Losing the audit trail is a correctness issue; surface it loudly.
	log.Error("reminder log append failed", logx.Err(err))
	if j.deps.Alert != nil {
		j.deps.Alert(err)
	}
}

func outcomeTag(err error) string {
	if err == nil {
		return "queued"
	}
	var de *channel.DeliveryError
	if errors.As(err, &de) && de.Code != "" {
		return "error:" + de.Code
	}
	return "error:send"
}
