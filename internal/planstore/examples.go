package planstore

import "fmt"

// GrepExamples returns a cookbook of shell one-liners for inspecting
// the plan file. The anchor format exists precisely so these work.
func (s *Store) GrepExamples() string {
	f := s.path
	return fmt.Sprintf(`=== GREP/BASH SEARCH EXAMPLES FOR %s ===

# Find all plans (just markers):
grep '<<<PLAN:' %s

# Find specific plan WITH CONTENT (shows 50 lines after):
grep -A 50 '<<<PLAN:000005>>>' %s

# View full plan for plan number 3:
sed -n '/<<<PLAN:000003>>>/,/<<<END_PLAN:000003>>>/p' %s

# Find all queries WITH CONTENT:
grep -A 2 '>>>QUERY:' %s

# Find plans containing specific keyword in query:
grep -i -C 10 "calendar" %s

# Get total number of plans:
grep '@TOTAL_PLANS:' %s

# Find all multi-step plans:
grep -B 2 '@MULTI_STEPS:true@' %s

# Find all steps with specific skill:
grep '@SKILL_NAME:calendar-assistant@' %s

# Find all pending steps:
grep '@STATUS:pending@' %s

# Find all completed steps:
grep '@STATUS:completed@' %s

# Extract plan numbers only:
grep -o '<<<PLAN:[0-9]\{6\}>>>' %s

# Find plan by ID:
grep -A 50 '@PLAN_ID:your-uuid-here@' %s

# Count steps per plan:
grep '@TOTAL_STEPS:' %s
`, f, f, f, f, f, f, f, f, f, f, f, f, f, f)
}
