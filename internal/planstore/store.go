package planstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planweave/planweave/internal/logging"
)

const (
	// DefaultFileName is used when the caller does not name the plan file.
	DefaultFileName = "stepwised_plan.txt"

	rule = "================================================================================"

	headerTitle = "                    QUERY DECOMPOSITION PLANS"

	headerBody = "This file stores query decomposition plans in a grep-friendly anchor format.\n" +
		"Each plan can be easily searched, modified, or have steps added/updated.\n"

	// timeLayout mirrors ISO 8601 with microsecond precision.
	timeLayout = "2006-01-02T15:04:05.000000"
)

var (
	planBlockRe    = regexp.MustCompile(`(?s)<<<PLAN:(\d{6})>>>\n(.*?)<<<END_PLAN:\d{6}>>>`)
	stepBlockRe    = regexp.MustCompile(`(?s)---STEP:(\d{3}):\d{6}---\n(.*?)---END_STEP:\d{3}:\d{6}---`)
	queryBlockRe   = regexp.MustCompile(`(?s)>>>QUERY:\d{6}>>>\n(.*?)\n<<<QUERY:\d{6}<<<`)
	contextBlockRe = regexp.MustCompile(`(?s)>>>CONTEXT:\d{6}>>>\n(.*?)<<<CONTEXT:\d{6}<<<`)
	contextLineRe  = regexp.MustCompile(`@([A-Z0-9_]+):([^@\n]*)@`)
	totalPlansRe   = regexp.MustCompile(`@TOTAL_PLANS:\d+@`)
	lastUpdatedRe  = regexp.MustCompile(`@LAST_UPDATED:[^@\n]*@`)
)

// Store owns one plan file. All mutations are serialized behind a
// mutex; in-place edits go through a temp file and an atomic rename.
type Store struct {
	mu    sync.Mutex
	path  string
	count int
	log   *logging.Logger
	now   func() time.Time
}

// NewStore opens (or creates) the plan file at path.
func NewStore(path string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.New()
	}
	s := &Store{
		path: path,
		log:  log.WithComponent("planstore"),
		now:  time.Now,
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("planstore: create directory: %w", err)
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.initFile(); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("planstore: stat plan file: %w", err)
	} else if err := s.loadCount(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the plan file path.
func (s *Store) Path() string { return s.path }

func (s *Store) timestamp() string {
	return s.now().Format(timeLayout)
}

func (s *Store) initFile() error {
	ts := s.timestamp()
	header := rule + "\n" +
		headerTitle + "\n" +
		rule + "\n\n" +
		"@FILE_CREATED:" + ts + "@\n" +
		"@LAST_UPDATED:" + ts + "@\n" +
		"@TOTAL_PLANS:0@\n\n" +
		headerBody + "\n" +
		rule + "\n\n"
	if err := os.WriteFile(s.path, []byte(header), 0o644); err != nil {
		return fmt.Errorf("planstore: create plan file: %w", err)
	}
	s.count = 0
	s.log.Info("plan file created", map[string]interface{}{"path": s.path})
	return nil
}

// loadCount recovers the plan counter from the header, falling back to
// counting plan markers when the header anchor is damaged.
func (s *Store) loadCount() error {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("planstore: read plan file: %w", err)
	}
	text := string(content)
	if m := regexp.MustCompile(`@TOTAL_PLANS:(\d+)@`).FindStringSubmatch(text); m != nil {
		s.count, _ = strconv.Atoi(m[1])
		return nil
	}
	s.count = strings.Count(text, "<<<PLAN:")
	s.log.Warn("header TOTAL_PLANS anchor missing, counted plan markers", map[string]interface{}{
		"count": s.count,
	})
	return nil
}

// Create appends a new plan block and returns its plan ID. The block is
// written with a single append write; the header's TOTAL_PLANS and
// LAST_UPDATED anchors are rewritten afterwards.
func (s *Store) Create(userQuery string, steps []Step, context map[string]string) (string, error) {
	if len(steps) == 0 {
		return "", fmt.Errorf("planstore: plan must have at least one step")
	}
	for i, st := range steps {
		if st.StepNr != i+1 {
			return "", fmt.Errorf("planstore: step numbers must be contiguous from 1, got %d at index %d", st.StepNr, i)
		}
		if st.StepNr > 999 {
			return "", fmt.Errorf("planstore: step number %d exceeds the 3-digit ceiling", st.StepNr)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	planID := uuid.New().String()
	planNum := fmt.Sprintf("%06d", s.count)
	ts := s.timestamp()
	multiSteps := len(steps) > 1

	var b strings.Builder
	b.WriteString("\n<<<PLAN:" + planNum + ">>>\n")
	b.WriteString("@PLAN_ID:" + planID + "@\n")
	b.WriteString("@PLAN_NUMBER:" + planNum + "@\n")
	b.WriteString("@TIMESTAMP:" + ts + "@\n")
	b.WriteString("@MULTI_STEPS:" + strconv.FormatBool(multiSteps) + "@\n")
	b.WriteString("@TOTAL_STEPS:" + strconv.Itoa(len(steps)) + "@\n")
	b.WriteString("\n>>>QUERY:" + planNum + ">>>\n" + userQuery + "\n<<<QUERY:" + planNum + "<<<\n")

	if len(context) > 0 {
		b.WriteString("\n>>>CONTEXT:" + planNum + ">>>\n")
		for _, key := range sortedKeys(context) {
			if context[key] == "" {
				continue
			}
			b.WriteString("@" + strings.ToUpper(key) + ":" + sanitizeValue(context[key], maxResultLen) + "@\n")
		}
		b.WriteString("<<<CONTEXT:" + planNum + "<<<\n")
	}

	b.WriteString("\n>>>STEPS:" + planNum + ">>>\n")
	for _, st := range steps {
		b.WriteString(renderStep(st, planNum))
	}
	b.WriteString("<<<STEPS:" + planNum + "<<<\n")
	b.WriteString("\n<<<END_PLAN:" + planNum + ">>>\n")
	b.WriteString("\n" + rule + "\n")

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.count--
		return "", fmt.Errorf("planstore: open for append: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		s.count--
		return "", fmt.Errorf("planstore: append plan: %w", err)
	}
	if err := f.Close(); err != nil {
		s.count--
		return "", fmt.Errorf("planstore: close plan file: %w", err)
	}

	if err := s.rewriteHeader(); err != nil {
		return "", err
	}

	s.log.PlanCreated(planID, s.count, len(steps), multiSteps)
	return planID, nil
}

// renderStep emits one step block. Anchor values are sanitized so the
// reserved `@` never appears inside a value.
func renderStep(st Step, planNum string) string {
	nr := fmt.Sprintf("%03d", st.StepNr)
	status := st.Status
	if status == "" {
		status = StatusPending
	}
	var b strings.Builder
	b.WriteString("\n---STEP:" + nr + ":" + planNum + "---\n")
	b.WriteString("@STEP_NR:" + strconv.Itoa(st.StepNr) + "@\n")
	b.WriteString("@SKILL_NAME:" + sanitizeValue(st.SkillName, maxResultLen) + "@\n")
	b.WriteString("@RATIONALE:" + sanitizeValue(st.Rationale, maxResultLen) + "@\n")
	if st.SubQuery != "" {
		b.WriteString("@SUB_QUERY:" + sanitizeValue(st.SubQuery, maxResultLen) + "@\n")
	}
	b.WriteString("@STATUS:" + status + "@\n")
	b.WriteString("@RESULT:" + sanitizeValue(st.Result, maxResultLen) + "@\n")
	b.WriteString("---END_STEP:" + nr + ":" + planNum + "---\n")
	return b.String()
}

// rewriteHeader refreshes TOTAL_PLANS and LAST_UPDATED. Caller holds
// the mutex.
func (s *Store) rewriteHeader() error {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("planstore: read plan file: %w", err)
	}
	text := string(content)
	text = replaceFirst(text, totalPlansRe, "@TOTAL_PLANS:"+strconv.Itoa(s.count)+"@")
	text = replaceFirst(text, lastUpdatedRe, "@LAST_UPDATED:"+s.timestamp()+"@")
	return s.writeAtomic(text)
}

// replaceFirst substitutes only the first match, leaving any identical
// anchor inside plan bodies untouched.
func replaceFirst(text string, re *regexp.Regexp, repl string) string {
	loc := re.FindStringIndex(text)
	if loc == nil {
		return text
	}
	return text[:loc[0]] + repl + text[loc[1]:]
}

// writeAtomic writes text to a temp file in the same directory and
// renames it over the plan file.
func (s *Store) writeAtomic(text string) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".plan-*.tmp")
	if err != nil {
		return fmt.Errorf("planstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("planstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("planstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("planstore: rename temp file: %w", err)
	}
	return nil
}

// Get returns the plan with the given ID, or nil when absent.
func (s *Store) Get(planID string) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("planstore: read plan file: %w", err)
	}
	for _, m := range planBlockRe.FindAllStringSubmatch(string(content), -1) {
		planNum, body := m[1], m[2]
		if anchor(body, "PLAN_ID") != planID {
			continue
		}
		return parsePlan(planID, planNum, body), nil
	}
	return nil, nil
}

// FindByQuery returns the IDs of plans whose stored query matches text.
// Matching is a case-insensitive substring test unless exact.
func (s *Store) FindByQuery(text string, exact bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("planstore: read plan file: %w", err)
	}
	needle := strings.ToLower(strings.TrimSpace(text))
	var ids []string
	for _, m := range planBlockRe.FindAllStringSubmatch(string(content), -1) {
		body := m[2]
		qm := queryBlockRe.FindStringSubmatch(body)
		if qm == nil {
			continue
		}
		stored := strings.ToLower(strings.TrimSpace(qm[1]))
		match := false
		if exact {
			match = stored == needle
		} else {
			match = strings.Contains(stored, needle)
		}
		if match {
			if id := anchor(body, "PLAN_ID"); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// List returns header metadata of every plan in file order.
func (s *Store) List() ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("planstore: read plan file: %w", err)
	}
	var out []Summary
	for _, m := range planBlockRe.FindAllStringSubmatch(string(content), -1) {
		planNum, body := m[1], m[2]
		sum := Summary{
			PlanNumber: planNum,
			PlanID:     anchor(body, "PLAN_ID"),
			Timestamp:  anchor(body, "TIMESTAMP"),
			MultiSteps: anchor(body, "MULTI_STEPS") == "true",
		}
		sum.TotalSteps, _ = strconv.Atoi(anchor(body, "TOTAL_STEPS"))
		if qm := queryBlockRe.FindStringSubmatch(body); qm != nil {
			sum.Query = strings.TrimSpace(qm[1])
		}
		out = append(out, sum)
	}
	return out, nil
}

// UpdateStepStatus rewrites exactly the targeted step's @STATUS: anchor
// and, when result is non-nil, its @RESULT: anchor. No other bytes
// change, so repeating the same update is byte-idempotent. Backward
// status moves are rejected.
func (s *Store) UpdateStepStatus(planID string, stepNr int, status string, result *string) error {
	if !ValidStatus(status) {
		return fmt.Errorf("planstore: invalid status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("planstore: read plan file: %w", err)
	}
	lines := strings.Split(string(content), "\n")

	stepMarker := fmt.Sprintf("---STEP:%03d:", stepNr)
	stepEndMarker := fmt.Sprintf("---END_STEP:%03d:", stepNr)

	inPlan, inStep, found := false, false, false
	for i, line := range lines {
		switch {
		case line == "@PLAN_ID:"+planID+"@":
			inPlan = true
		case inPlan && strings.HasPrefix(line, "<<<END_PLAN:"):
			inPlan = false
		case inPlan && strings.HasPrefix(line, stepMarker):
			inStep = true
			found = true
		case inStep && strings.HasPrefix(line, stepEndMarker):
			inStep = false
		case inStep && strings.HasPrefix(line, "@STATUS:"):
			old := strings.TrimSuffix(strings.TrimPrefix(line, "@STATUS:"), "@")
			if !ValidTransition(old, status) {
				return fmt.Errorf("planstore: invalid status transition %s -> %s", old, status)
			}
			lines[i] = "@STATUS:" + status + "@"
		case inStep && strings.HasPrefix(line, "@RESULT:") && result != nil:
			lines[i] = "@RESULT:" + sanitizeValue(*result, maxResultLen) + "@"
		}
	}
	if !found {
		return fmt.Errorf("planstore: step %d not found in plan %s", stepNr, planID)
	}

	return s.writeAtomic(strings.Join(lines, "\n"))
}

// AddStep appends a step to an existing plan: the new block is inserted
// immediately before the plan's STEPS closer, TOTAL_STEPS is bumped,
// and MULTI_STEPS is corrected when the plan grows past one step.
func (s *Store) AddStep(planID, skillName, rationale, subQuery, status string) error {
	if status == "" {
		status = StatusPending
	}
	if !ValidStatus(status) {
		return fmt.Errorf("planstore: invalid status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("planstore: read plan file: %w", err)
	}
	text := string(content)

	var updated string
	found := false
	for _, m := range planBlockRe.FindAllStringSubmatchIndex(text, -1) {
		planNum := text[m[2]:m[3]]
		body := text[m[4]:m[5]]
		if anchor(body, "PLAN_ID") != planID {
			continue
		}
		found = true

		total, _ := strconv.Atoi(anchor(body, "TOTAL_STEPS"))
		newNr := total + 1
		if newNr > 999 {
			return fmt.Errorf("planstore: step number %d exceeds the 3-digit ceiling", newNr)
		}

		step := renderStep(Step{
			StepNr:    newNr,
			SkillName: skillName,
			Rationale: rationale,
			SubQuery:  subQuery,
			Status:    status,
		}, planNum)

		newBody := strings.Replace(body,
			"@TOTAL_STEPS:"+strconv.Itoa(total)+"@",
			"@TOTAL_STEPS:"+strconv.Itoa(newNr)+"@", 1)
		if newNr > 1 {
			newBody = strings.Replace(newBody, "@MULTI_STEPS:false@", "@MULTI_STEPS:true@", 1)
		}
		closer := "<<<STEPS:" + planNum + "<<<"
		newBody = strings.Replace(newBody, closer, step+closer, 1)

		updated = text[:m[4]] + newBody + text[m[5]:]
		break
	}
	if !found {
		return fmt.Errorf("planstore: plan %s not found", planID)
	}

	text = replaceFirst(updated, lastUpdatedRe, "@LAST_UPDATED:"+s.timestamp()+"@")
	return s.writeAtomic(text)
}

// parsePlan parses one plan body.
func parsePlan(planID, planNum, body string) *Plan {
	p := &Plan{
		PlanID:     planID,
		PlanNumber: planNum,
		Timestamp:  anchor(body, "TIMESTAMP"),
		MultiSteps: anchor(body, "MULTI_STEPS") == "true",
	}
	p.TotalSteps, _ = strconv.Atoi(anchor(body, "TOTAL_STEPS"))
	if qm := queryBlockRe.FindStringSubmatch(body); qm != nil {
		p.Query = strings.TrimSpace(qm[1])
	}
	if cm := contextBlockRe.FindStringSubmatch(body); cm != nil {
		for _, kv := range contextLineRe.FindAllStringSubmatch(cm[1], -1) {
			if p.Context == nil {
				p.Context = make(map[string]string)
			}
			p.Context[kv[1]] = kv[2]
		}
	}
	for _, sm := range stepBlockRe.FindAllStringSubmatch(body, -1) {
		stepBody := sm[2]
		st := Step{
			SkillName: anchor(stepBody, "SKILL_NAME"),
			Rationale: anchor(stepBody, "RATIONALE"),
			SubQuery:  anchor(stepBody, "SUB_QUERY"),
			Status:    anchor(stepBody, "STATUS"),
			Result:    anchor(stepBody, "RESULT"),
		}
		st.StepNr, _ = strconv.Atoi(anchor(stepBody, "STEP_NR"))
		p.Steps = append(p.Steps, st)
	}
	return p
}

// anchor extracts the value of a `@KEY:value@` field, or "".
func anchor(body, key string) string {
	prefix := "@" + key + ":"
	idx := strings.Index(body, prefix)
	if idx == -1 {
		return ""
	}
	rest := body[idx+len(prefix):]
	end := strings.IndexByte(rest, '@')
	if end == -1 {
		return ""
	}
	return rest[:end]
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
