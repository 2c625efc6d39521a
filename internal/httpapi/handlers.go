package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"medremind/internal/reminder"
	"medremind/pkg/logx"
)

const maxUploadBytes = 32 << 20

// handleSchedule accepts the schedule-creation form: recipient fields, the
// reminder time list, indexed medicine entries, and either an uploaded voice
// recording or a pre-selected stock voice file.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		// Plain urlencoded forms are fine too.
		if !errors.Is(err, http.ErrNotMultipart) {
			writeError(w, http.StatusBadRequest, "malformed form: "+err.Error())
			return
		}
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "malformed form: "+err.Error())
			return
		}
	}

	reg := reminder.Registration{
		Recipient: reminder.Recipient{
			Name:  strings.TrimSpace(r.FormValue("elder_name")),
			Phone: strings.TrimSpace(r.FormValue("phone_number")),
		},
		Times:     parseTimeList(r.FormValue("reminder_times")),
		Medicines: parseMedicines(r),
	}

	audioRef, err := s.resolveAudioRef(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	reg.AudioRef = audioRef

	ids, err := s.registry.Register(reg)
	if err != nil {
		var ve *reminder.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Reason)
			return
		}
		s.log.Error("schedule registration failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "scheduling failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Reminder set for %s at %s",
			reg.Recipient.Name, strings.Join(reg.Times, ", ")),
		"job_ids": ids,
	})
}

// parseTimeList accepts either a JSON string array or a comma-separated
// list. Entries are not validated here; the registry's strict parser is the
// single gatekeeper.
func parseTimeList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var times []string
		if err := json.Unmarshal([]byte(raw), &times); err != nil {
			// Hand the raw text to validation so the caller gets a
			// proper rejection instead of a silently empty list.
			return []string{raw}
		}
		return times
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseMedicines collects medicines[0][name], medicines[0][dosage], ... until
// the first index without a name.
func parseMedicines(r *http.Request) []reminder.Medicine {
	var meds []reminder.Medicine
	for i := 0; ; i++ {
		name := strings.TrimSpace(r.FormValue(fmt.Sprintf("medicines[%d][name]", i)))
		if name == "" {
			break
		}
		meds = append(meds, reminder.Medicine{
			Name:   name,
			Dosage: strings.TrimSpace(r.FormValue(fmt.Sprintf("medicines[%d][dosage]", i))),
			Type:   strings.TrimSpace(r.FormValue(fmt.Sprintf("medicines[%d][type]", i))),
			Notes:  strings.TrimSpace(r.FormValue(fmt.Sprintf("medicines[%d][notes]", i))),
			Image:  strings.TrimSpace(r.FormValue(fmt.Sprintf("medicines[%d][image]", i))),
		})
	}
	return meds
}

// resolveAudioRef saves an uploaded recording or points at a stock voice
// file. Empty result means no custom audio: the voice channel then uses the
// configured default.
func (s *Server) resolveAudioRef(r *http.Request) (string, error) {
	file, header, err := r.FormFile("voice_upload")
	switch {
	case err == nil:
		defer file.Close()
		name, err := s.saveUpload(file, header)
		if err != nil {
			return "", fmt.Errorf("saving voice upload: %w", err)
		}
		return s.cfg.BaseURL + "/uploads/" + name, nil
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// fall through to stock selection
	default:
		return "", fmt.Errorf("reading voice upload: %w", err)
	}

	if sel := sanitizeFilename(r.FormValue("selected_voice_file")); sel != "" {
		return s.cfg.BaseURL + "/voices/" + sel, nil
	}
	return "", nil
}

func (s *Server) saveUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	name := uuid.NewString() + "_" + sanitizeFilename(header.Filename)
	dst, err := os.Create(filepath.Join(s.cfg.UploadsDir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		return "", err
	}
	return name, nil
}

// sanitizeFilename strips path components and anything outside a
// conservative character set.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return ""
	}
	return out
}

func (s *Server) handleVoiceFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.cfg.VoicesDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing voice files failed")
		return
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"voice_files": files})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="reminder_logs.csv"`)
	if err := s.exporter.ExportCSV(r.Context(), w); err != nil {
		s.log.Error("log export failed", logx.Err(err))
		// Headers may already be out; nothing more useful to send.
	}
}

func (s *Server) serveAsset(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := sanitizeFilename(chi.URLParam(r, "file"))
		if name == "" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, name))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
