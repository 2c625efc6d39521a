package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"medremind/internal/channel"
	"medremind/internal/reminder"
	"medremind/internal/scheduler"
	"medremind/internal/storage"
	"medremind/pkg/logx"
)

type fakeVoice struct {
	err   error
	calls int
}

func (f *fakeVoice) Call(ctx context.Context, phone string, c channel.CallContent) (channel.Receipt, error) {
	f.calls++
	if f.err != nil {
		return channel.Receipt{}, f.err
	}
	return channel.Receipt{SID: "CA1"}, nil
}

type fakeChat struct {
	failFor map[string]error // medicine name substring in body -> error
	sent    []channel.Message
}

func (f *fakeChat) Send(ctx context.Context, phone string, m channel.Message) (channel.Receipt, error) {
	f.sent = append(f.sent, m)
	for name, err := range f.failFor {
		if containsMedicine(m.Body, name) {
			return channel.Receipt{}, err
		}
	}
	return channel.Receipt{SID: "SM1"}, nil
}

func containsMedicine(body, name string) bool {
	return name != "" && strings.Contains(body, "*"+name+"*")
}

type memStore struct {
	mu      sync.Mutex
	entries []storage.Entry
	err     error
}

func (m *memStore) Append(ctx context.Context, e storage.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) all() []storage.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.Entry(nil), m.entries...)
}

type fakeSched struct {
	added   map[string]reminder.TimeOfDay
	jobs    []*Job
	failAdd error
}

func newFakeSched() *fakeSched {
	return &fakeSched{added: map[string]reminder.TimeOfDay{}}
}

func (f *fakeSched) Add(at reminder.TimeOfDay, job scheduler.Job) error {
	if f.failAdd != nil {
		return f.failAdd
	}
	f.added[job.ID()] = at
	if dj, ok := job.(*Job); ok {
		f.jobs = append(f.jobs, dj)
	}
	return nil
}

func (f *fakeSched) Remove(id string) { delete(f.added, id) }

func testDeps(voice *fakeVoice, chat *fakeChat, store *memStore) Deps {
	return Deps{
		Voice:  voice,
		Chat:   chat,
		Store:  store,
		Logger: logx.Nop(),
	}
}

func validRegistration() reminder.Registration {
	return reminder.Registration{
		Recipient: reminder.Recipient{Name: "Asha", Phone: "+15551234567"},
		Times:     []string{"08:00", "20:00"},
		Medicines: []reminder.Medicine{
			{Name: "Metformin", Dosage: "500mg", Type: "tablet"},
		},
	}
}

func TestRegisterCreatesOneJobPerTime(t *testing.T) {
	t.Parallel()
	sched := newFakeSched()
	r := NewRegistry(sched, testDeps(&fakeVoice{}, &fakeChat{}, &memStore{}), logx.Nop())

	reg := validRegistration()
	reg.Medicines = append(reg.Medicines, reminder.Medicine{Name: "Aspirin", Dosage: "75mg", Type: "tablet"})

	ids, err := r.Register(reg)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d job ids, want 2", len(ids))
	}
	if len(sched.jobs) != 2 {
		t.Fatalf("scheduler got %d jobs, want 2", len(sched.jobs))
	}
	for _, j := range sched.jobs {
		if len(j.medicines) != 2 {
			t.Fatalf("job carries %d medicines, want 2", len(j.medicines))
		}
	}
	wantTimes := map[string]bool{"08:00": false, "20:00": false}
	for _, at := range sched.added {
		wantTimes[at.String()] = true
	}
	for ts, seen := range wantTimes {
		if !seen {
			t.Fatalf("no job registered at %s", ts)
		}
	}
}

func TestRegisterRejectsAtomically(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*reminder.Registration)
	}{
		{"empty name", func(r *reminder.Registration) { r.Recipient.Name = " " }},
		{"empty phone", func(r *reminder.Registration) { r.Recipient.Phone = "" }},
		{"no times", func(r *reminder.Registration) { r.Times = nil }},
		{"no medicines", func(r *reminder.Registration) { r.Medicines = nil }},
		{"unnamed medicine", func(r *reminder.Registration) { r.Medicines[0].Name = "" }},
		{"one malformed time", func(r *reminder.Registration) { r.Times = []string{"08:00", "25:99"} }},
		{"eval-style time", func(r *reminder.Registration) { r.Times = []string{"['08:00']"} }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sched := newFakeSched()
			r := NewRegistry(sched, testDeps(&fakeVoice{}, &fakeChat{}, &memStore{}), logx.Nop())
			reg := validRegistration()
			tt.mutate(&reg)

			ids, err := r.Register(reg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var ve *reminder.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error type = %T, want *reminder.ValidationError", err)
			}
			if len(ids) != 0 || len(sched.added) != 0 {
				t.Fatalf("partial registration: ids=%d scheduled=%d", len(ids), len(sched.added))
			}
		})
	}
}

func TestRegisterRollsBackOnSchedulerError(t *testing.T) {
	t.Parallel()
	sched := newFakeSched()
	sched.failAdd = errors.New("boom")
	r := NewRegistry(sched, testDeps(&fakeVoice{}, &fakeChat{}, &memStore{}), logx.Nop())

	if _, err := r.Register(validRegistration()); err == nil {
		t.Fatal("expected error")
	}
	if len(sched.added) != 0 {
		t.Fatalf("jobs left scheduled after failure: %d", len(sched.added))
	}
}

func TestDispatchLogsVoiceAndChatPerMedicine(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	chat := &fakeChat{}
	sched := newFakeSched()
	r := NewRegistry(sched, testDeps(&fakeVoice{}, chat, store), logx.Nop())

	reg := validRegistration()
	reg.Times = []string{"08:00"}
	if _, err := r.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	outcomes := sched.jobs[0].Dispatch(context.Background())
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2 (voice + 1 chat)", len(outcomes))
	}

	entries := store.all()
	if len(entries) != 2 {
		t.Fatalf("got %d log rows, want 2", len(entries))
	}
	if entries[0].Channel != "voice" || entries[0].Outcome != "queued" || entries[0].Medicine != "(all)" {
		t.Fatalf("voice row = %+v", entries[0])
	}
	if entries[1].Channel != "whatsapp" || entries[1].Medicine != "Metformin" || entries[1].Outcome != "queued" {
		t.Fatalf("chat row = %+v", entries[1])
	}
}

func TestChatFailureIsolatedPerMedicine(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	chat := &fakeChat{failFor: map[string]error{
		"B": &channel.DeliveryError{Code: "21610", Message: "blocked"},
	}}
	deps := testDeps(&fakeVoice{}, chat, store)

	j := &Job{
		id:        "j1",
		recipient: reminder.Recipient{Name: "Asha", Phone: "+15551234567"},
		medicines: []reminder.Medicine{
			{Name: "A", Dosage: "1", Type: "tablet"},
			{Name: "B", Dosage: "2", Type: "tablet"},
		},
		at:   reminder.TimeOfDay{Hour: 8},
		deps: deps,
	}

	j.Dispatch(context.Background())

	if len(chat.sent) != 2 {
		t.Fatalf("chat attempts = %d, want 2 (failure must not stop fan-out)", len(chat.sent))
	}
	var queued, failed int
	for _, e := range store.all() {
		if e.Channel != "whatsapp" {
			continue
		}
		switch e.Outcome {
		case "queued":
			queued++
		case "error:21610":
			failed++
		default:
			t.Fatalf("unexpected outcome %q", e.Outcome)
		}
	}
	if queued != 1 || failed != 1 {
		t.Fatalf("chat outcomes queued=%d failed=%d, want 1/1", queued, failed)
	}
}

func TestVoiceFailureDoesNotStopChat(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	chat := &fakeChat{}
	voice := &fakeVoice{err: &channel.DeliveryError{Code: "20003", Message: "auth"}}

	j := &Job{
		id:        "j1",
		recipient: reminder.Recipient{Name: "Asha", Phone: "+15551234567"},
		medicines: []reminder.Medicine{{Name: "Metformin", Dosage: "500mg", Type: "tablet"}},
		at:        reminder.TimeOfDay{Hour: 8},
		deps:      testDeps(voice, chat, store),
	}
	j.Dispatch(context.Background())

	if len(chat.sent) != 1 {
		t.Fatalf("chat attempts = %d, want 1", len(chat.sent))
	}
	entries := store.all()
	if entries[0].Outcome != "error:20003" {
		t.Fatalf("voice outcome = %q, want error:20003", entries[0].Outcome)
	}
	if entries[1].Outcome != "queued" {
		t.Fatalf("chat outcome = %q, want queued", entries[1].Outcome)
	}
}

func TestLogRowCountAfterRepeatedFirings(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	j := &Job{
		id:        "j1",
		recipient: reminder.Recipient{Name: "Asha", Phone: "+15551234567"},
		medicines: []reminder.Medicine{
			{Name: "A", Dosage: "1", Type: "tablet"},
			{Name: "B", Dosage: "2", Type: "tablet"},
			{Name: "C", Dosage: "3", Type: "syrup"},
		},
		at:   reminder.TimeOfDay{Hour: 8},
		deps: testDeps(&fakeVoice{}, &fakeChat{}, store),
	}

	const firings = 4
	for i := 0; i < firings; i++ {
		j.Dispatch(context.Background())
	}
	want := firings * (3 + 1)
	if got := len(store.all()); got != want {
		t.Fatalf("log rows = %d, want %d", got, want)
	}
}

func TestPersistenceFailureEscalates(t *testing.T) {
	t.Parallel()
	store := &memStore{err: &storage.PersistenceError{Op: "append", Err: errors.New("disk full")}}
	var alerts []error
	deps := testDeps(&fakeVoice{}, &fakeChat{}, store)
	deps.Alert = func(err error) { alerts = append(alerts, err) }

	j := &Job{
		id:        "j1",
		recipient: reminder.Recipient{Name: "Asha", Phone: "+15551234567"},
		medicines: []reminder.Medicine{{Name: "Metformin", Dosage: "500mg", Type: "tablet"}},
		at:        reminder.TimeOfDay{Hour: 8},
		deps:      deps,
	}
	j.Dispatch(context.Background())

	if len(alerts) != 2 { // voice row + chat row both failed to persist
		t.Fatalf("alerts = %d, want 2", len(alerts))
	}
}

func TestChatMessageMarksMissingNotes(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{}
	j := &Job{
		id:        "j1",
		recipient: reminder.Recipient{Name: "Asha", Phone: "+15551234567"},
		medicines: []reminder.Medicine{{Name: "Metformin", Dosage: "500mg", Type: "tablet", Image: "http://img/pill.jpg"}},
		at:        reminder.TimeOfDay{Hour: 8},
		deps:      testDeps(&fakeVoice{}, chat, &memStore{}),
	}
	j.Dispatch(context.Background())

	if len(chat.sent) != 1 {
		t.Fatalf("chat attempts = %d, want 1", len(chat.sent))
	}
	msg := chat.sent[0]
	if !strings.Contains(msg.Body, "Notes: not provided") {
		t.Fatalf("body missing notes marker: %q", msg.Body)
	}
	if msg.MediaURL != "http://img/pill.jpg" {
		t.Fatalf("MediaURL = %q", msg.MediaURL)
	}
}

func TestVoiceContentPrefersCustomAudio(t *testing.T) {
	t.Parallel()
	j := &Job{
		recipient: reminder.Recipient{Name: "Asha"},
		medicines: []reminder.Medicine{{Name: "Metformin"}},
		audioRef:  "http://assets/custom.mp3",
		deps:      Deps{DefaultAudio: func() string { return "http://assets/default.mp3" }},
	}
	if c := j.voiceContent(); c.AudioURL != "http://assets/custom.mp3" {
		t.Fatalf("AudioURL = %q, want custom", c.AudioURL)
	}

	j.audioRef = ""
	if c := j.voiceContent(); c.AudioURL != "http://assets/default.mp3" {
		t.Fatalf("AudioURL = %q, want configured default", c.AudioURL)
	}

	j.deps.DefaultAudio = nil
	c := j.voiceContent()
	if c.AudioURL != "" || !strings.Contains(c.Say, "Metformin") {
		t.Fatalf("want spoken-text fallback, got %+v", c)
	}
}
