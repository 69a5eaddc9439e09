// Package records persists HTTP, session, trace, and scenario-run records for
// offline inspection. HTTP and session logs are JSON Lines files partitioned
// by UTC date; traces and runs are standalone JSON files under date
// directories. All records are write-once.
package records

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/botwire/botwire/internal/logging"
)

// HTTPRecord summarizes one bridge dispatch.
type HTTPRecord struct {
	ID              string `json:"id"`
	Time            int64  `json:"time"`
	Action          string `json:"action"`
	Method          string `json:"method"`
	IP              string `json:"ip"`
	Status          int    `json:"status"`
	OK              bool   `json:"ok"`
	DurationMs      int64  `json:"durationMs"`
	TraceID         string `json:"traceId,omitempty"`
	Request         any    `json:"request"`
	ResponseSummary any    `json:"responseSummary"`
}

// TraceRecord is the persisted form of one injected exchange.
type TraceRecord struct {
	TraceID    string `json:"traceId"`
	Time       int64  `json:"time"`
	Action     string `json:"action"`
	Request    any    `json:"request"`
	Responses  []any  `json:"responses"`
	DurationMs int64  `json:"durationMs"`
	TraceFile  string `json:"traceFile,omitempty"`
}

// RunKind discriminates scenario vs suite runs.
type RunKind string

const (
	RunKindScenario RunKind = "scenario"
	RunKindSuite    RunKind = "suite"
)

// RunRecord is the persisted form of one scenario or suite run.
type RunRecord struct {
	SessionID  string  `json:"sessionId"`
	Time       int64   `json:"time"`
	Kind       RunKind `json:"kind"`
	OK         bool    `json:"ok"`
	DurationMs int64   `json:"durationMs"`
	Data       any     `json:"data"`
}

// FileInfo describes one stored record file.
type FileInfo struct {
	Date    string `json:"date,omitempty"`
	File    string `json:"file"`
	ModTime int64  `json:"mtimeMs"`
	Size    int64  `json:"size"`
}

// Store writes and reads record files under a base directory.
type Store struct {
	baseDir    string
	httpDir    string
	sessionDir string
	traceDir   string
	runDir     string
}

// NewStore creates a record store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{
		baseDir:    baseDir,
		httpDir:    filepath.Join(baseDir, "http"),
		sessionDir: filepath.Join(baseDir, "sessions"),
		traceDir:   filepath.Join(baseDir, "traces"),
		runDir:     filepath.Join(baseDir, "runs"),
	}
}

// BaseDir returns the store root.
func (s *Store) BaseDir() string { return s.baseDir }

// NewSessionID generates a fresh session id.
func NewSessionID() string { return uuid.NewString() }

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// dateKey partitions records by UTC date.
func dateKey(timeMs int64) string {
	return time.UnixMilli(timeMs).UTC().Format("2006-01-02")
}

var unsafeID = regexp.MustCompile(`[^\w-]`)

// safeID strips everything outside [A-Za-z0-9_-] and bounds the length.
func safeID(value string, maxLen int) string {
	s := unsafeID.ReplaceAllString(strings.TrimSpace(value), "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	if s == "" {
		return "unknown"
	}
	return s
}

// RecordHTTP appends an audit line to the day's HTTP log. Best effort:
// failures are logged at debug and never surfaced.
func (s *Store) RecordHTTP(rec HTTPRecord) {
	rec.Request = SafeValue(rec.Request)
	rec.ResponseSummary = SafeValue(rec.ResponseSummary)
	if err := s.appendLine(s.httpDir, rec.Time, rec); err != nil {
		logging.Debug().Err(err).Msg("http record write failed")
	}
}

// RecordSession appends a trace exchange line to the day's session log.
func (s *Store) RecordSession(rec TraceRecord) {
	rec.Request = SafeValue(rec.Request)
	rec.Responses = safeSlice(rec.Responses)
	if err := s.appendLine(s.sessionDir, rec.Time, rec); err != nil {
		logging.Debug().Err(err).Msg("session record write failed")
	}
}

func (s *Store) appendLine(dir string, timeMs int64, v any) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, dateKey(timeMs)+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// WriteTrace persists a trace as a standalone JSON file named by trace id and
// timestamp, returning the file name.
func (s *Store) WriteTrace(rec TraceRecord) (string, error) {
	rec.Request = SafeValue(rec.Request)
	rec.Responses = safeSlice(rec.Responses)

	dir := filepath.Join(s.traceDir, dateKey(rec.Time))
	name := fmt.Sprintf("trace-%s-%d.json", safeID(rec.TraceID, 120), rec.Time)
	if err := writeJSONFile(filepath.Join(dir, name), rec); err != nil {
		return "", err
	}
	return name, nil
}

// WriteRun persists a scenario or suite run record, returning the file name.
func (s *Store) WriteRun(rec RunRecord) (string, error) {
	rec.Data = SafeValue(rec.Data)

	dir := filepath.Join(s.runDir, dateKey(rec.Time))
	name := fmt.Sprintf("run-%s-%d.json", safeID(rec.SessionID, 120), rec.Time)
	if err := writeJSONFile(filepath.Join(dir, name), rec); err != nil {
		return "", err
	}
	return name, nil
}

// writeJSONFile writes pretty JSON atomically via temp file + rename.
func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Listing holds the result of List.
type Listing struct {
	BaseDir  string     `json:"baseDir"`
	HTTP     []FileInfo `json:"http"`
	Sessions []FileInfo `json:"sessions"`
	Traces   []FileInfo `json:"traces"`
}

// List enumerates stored record files, most recently modified first.
func (s *Store) List(date string, limit int) Listing {
	limit = clampLimit(limit, 50)

	out := Listing{BaseDir: s.baseDir}
	out.HTTP = trim(listFiles(s.httpDir, ".jsonl"), limit)

	sessions := listFiles(s.sessionDir, ".jsonl")
	if date != "" {
		sessions = filterFiles(sessions, date+".jsonl")
	}
	out.Sessions = trim(sessions, limit)

	var traces []FileInfo
	for _, day := range s.traceDays(date) {
		for _, f := range listFiles(filepath.Join(s.traceDir, day), ".json") {
			f.Date = day
			traces = append(traces, f)
		}
	}
	sort.Slice(traces, func(i, j int) bool { return traces[i].ModTime > traces[j].ModTime })
	out.Traces = trim(traces, limit)

	return out
}

// traceDays returns trace date directories, newest first, capped at 30.
// Caller-supplied dates must match the YYYY-MM-DD layout; anything else would
// be joined into a path.
func (s *Store) traceDays(date string) []string {
	if date != "" {
		if !datePattern.MatchString(date) {
			return nil
		}
		return []string{date}
	}
	entries, err := os.ReadDir(s.traceDir)
	if err != nil {
		return nil
	}
	var days []string
	for _, e := range entries {
		if e.IsDir() && datePattern.MatchString(e.Name()) {
			days = append(days, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	if len(days) > 30 {
		days = days[:30]
	}
	return days
}

// TailResult holds tail output for one day.
type TailResult struct {
	Date  string `json:"date"`
	Items []any  `json:"items"`
}

// TailHTTP returns the last limit lines of the day's HTTP log.
func (s *Store) TailHTTP(date string, limit int) TailResult {
	return s.tail(s.httpDir, date, clampLimit(limit, 20), "")
}

// TailSession returns the last limit lines of the day's session log,
// optionally filtered by trace id.
func (s *Store) TailSession(date string, limit int, traceID string) TailResult {
	return s.tail(s.sessionDir, date, clampLimit(limit, 20), traceID)
}

func (s *Store) tail(dir, date string, limit int, traceID string) TailResult {
	if date == "" {
		date = dateKey(time.Now().UnixMilli())
	}
	result := TailResult{Date: date, Items: []any{}}
	if !datePattern.MatchString(date) {
		return result
	}

	data, err := os.ReadFile(filepath.Join(dir, date+".jsonl"))
	if err != nil {
		return result
	}

	var parsed []any
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var item map[string]any
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			parsed = append(parsed, map[string]any{"raw": truncate(line, 500)})
			continue
		}
		if traceID != "" {
			if got, _ := item["traceId"].(string); got != traceID {
				continue
			}
		}
		parsed = append(parsed, item)
	}

	if len(parsed) > limit {
		parsed = parsed[len(parsed)-limit:]
	}
	result.Items = parsed
	return result
}

// TraceLookup is the result of GetTrace.
type TraceLookup struct {
	Date string `json:"date"`
	File string `json:"file"`
	Data any    `json:"data"`
}

// GetTrace loads a persisted trace by (date, file) or by trace id, searching
// recent days when the date is omitted. Returns nil when nothing matches.
func (s *Store) GetTrace(date, file, traceID string) *TraceLookup {
	// Reject anything that is not a bare file name.
	if file != "" && filepath.Base(file) != file {
		return nil
	}

	for _, day := range s.traceDays(date) {
		dayDir := filepath.Join(s.traceDir, day)
		name := file
		if name == "" {
			if traceID == "" {
				continue
			}
			name = latestTraceFile(dayDir, safeID(traceID, 120))
			if name == "" {
				continue
			}
		}

		data, err := os.ReadFile(filepath.Join(dayDir, name))
		if err != nil {
			continue
		}
		lookup := &TraceLookup{Date: day, File: name}
		var payload any
		if err := json.Unmarshal(data, &payload); err == nil {
			lookup.Data = payload
		}
		return lookup
	}
	return nil
}

// latestTraceFile picks the newest trace file for an id within a day.
func latestTraceFile(dir, safeTraceID string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	prefix := "trace-" + safeTraceID + "-"
	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names[0]
}

func listFiles(dir, ext string) []FileInfo {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			File:    e.Name(),
			ModTime: info.ModTime().UnixMilli(),
			Size:    info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModTime > files[j].ModTime })
	return files
}

func filterFiles(files []FileInfo, name string) []FileInfo {
	var out []FileInfo
	for _, f := range files {
		if f.File == name {
			out = append(out, f)
		}
	}
	return out
}

func trim(files []FileInfo, limit int) []FileInfo {
	if files == nil {
		return []FileInfo{}
	}
	if len(files) > limit {
		return files[:limit]
	}
	return files
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 200 {
		return 200
	}
	return limit
}
