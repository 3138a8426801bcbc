package orchestrator

import (
	"regexp"
	"strconv"
	"strings"
)

// Command inference turns a plan step into a subprocess invocation. The
// planner only names a skill and a sub-query; the command and parameters
// are derived here. Keyword extraction from free text is fragile, so the
// whole policy lives in this file as an ordered rule list and nowhere
// else.

var (
	numIdeasRe   = regexp.MustCompile(`(\d+)\s+ideas?`)
	ideaVerbRe   = regexp.MustCompile(`(?i)generate|brainstorm|give me|create|come up with|i need`)
	ideaCountRe  = regexp.MustCompile(`(?i)\d+\s+ideas?\s*(for|about|on)?`)
	mdFileRe     = regexp.MustCompile(`(?i)(\S+\.md)`)
	findTargetRe = regexp.MustCompile(`(?:find|locate|where is|identify where)\s+(\S+\.\w+)`)
	quotedRe     = regexp.MustCompile(`["']([^"']+)["']`)
)

// InferCommandAndParams maps (skill, sub-query) to the command name and
// parameter object sent to the skill subprocess. The mapping is pure:
// same inputs, same outputs, no environment reads.
func InferCommandAndParams(skillName, subQuery string) (string, map[string]interface{}) {
	switch skillName {
	case "calendar-assistant":
		return "natural_language_to_ics", map[string]interface{}{"query": subQuery}
	case "nvidia-ideagen":
		return "generate_ideas", ideagenParams(subQuery)
	case "shell-commands":
		return shellCommandAndParams(subQuery)
	}
	// Unknown skills get their name as the command, hyphens normalized,
	// and the sub-query passed through.
	return strings.ReplaceAll(skillName, "-", "_"), map[string]interface{}{"query": subQuery}
}

func ideagenParams(subQuery string) map[string]interface{} {
	num := 5
	if m := numIdeasRe.FindStringSubmatch(strings.ToLower(subQuery)); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 10 {
			num = n
		}
	}
	topic := ideaVerbRe.ReplaceAllString(subQuery, "")
	topic = ideaCountRe.ReplaceAllString(topic, "")
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = subQuery
	}
	return map[string]interface{}{
		"topic":                   topic,
		"num_ideas":               num,
		"use_parallel_processing": true,
	}
}

// shellRule routes a shell-helper sub-query to a command. Rules are
// evaluated in order; the first rule with a matching trigger wins.
type shellRule struct {
	triggers []string
	resolve  func(subQuery, lower string) (string, map[string]interface{})
}

var shellRules = []shellRule{
	{[]string{"find", "locate", "where is", "identify where"}, resolveFind},
	{[]string{"grep", "search", "extract", "get section", "show section"}, resolveGrep},
	{[]string{"list", "ls", "show files", "directory"}, resolveList},
	{[]string{"cat", "show", "display", "read", "view"}, resolveCat},
	{[]string{"info", "information", "details", "statistics"}, resolveInfo},
}

func shellCommandAndParams(subQuery string) (string, map[string]interface{}) {
	lower := strings.ToLower(subQuery)
	for _, rule := range shellRules {
		for _, t := range rule.triggers {
			if strings.Contains(lower, t) {
				return rule.resolve(subQuery, lower)
			}
		}
	}
	// Nothing matched; file location is the most common intent.
	return resolveFind(subQuery, lower)
}

func resolveFind(subQuery, lower string) (string, map[string]interface{}) {
	p := map[string]interface{}{"search_path": "."}
	switch {
	case strings.Contains(lower, "readme"):
		p["pattern"] = "README.md"
	case strings.Contains(lower, ".md"):
		if m := mdFileRe.FindStringSubmatch(subQuery); m != nil {
			p["pattern"] = m[1]
		} else {
			p["pattern"] = "*.md"
		}
	default:
		if m := findTargetRe.FindStringSubmatch(lower); m != nil {
			p["pattern"] = m[1]
		} else {
			p["pattern"] = "*"
		}
	}
	return "find_files", p
}

// grepKeywordMap expands a topic word into related terms so a single
// grep pass catches section headers phrased differently.
var grepKeywordMap = []struct {
	topic string
	terms []string
}{
	{"performance", []string{"performance", "speed", "optimization", "fast"}},
	{"architecture", []string{"architecture", "component", "design", "structure"}},
	{"codebase", []string{"codebase", "implementation", "technical"}},
}

var grepSpeedTerms = []string{"speed", "performance", "fast", "optimization"}

func resolveGrep(subQuery, lower string) (string, map[string]interface{}) {
	command := "grep_files"
	if strings.Contains(lower, "readme") || strings.Contains(lower, ".md") || strings.Contains(lower, "file") {
		command = "grep_in_file"
	}

	p := map[string]interface{}{}
	if strings.Contains(lower, "readme") {
		p["filepath"] = "README.md"
	} else if m := mdFileRe.FindStringSubmatch(subQuery); m != nil {
		p["filepath"] = m[1]
	} else {
		p["filepath"] = "README.md"
	}

	var keywords []string
	for _, kw := range grepKeywordMap {
		if strings.Contains(lower, kw.topic) {
			keywords = append(keywords, kw.terms...)
		}
	}
	if strings.Contains(lower, "speed") && !strings.Contains(lower, "performance") {
		keywords = append(keywords, grepSpeedTerms...)
	}

	if len(keywords) == 0 {
		if m := quotedRe.FindStringSubmatch(subQuery); m != nil {
			p["search_pattern"] = m[1]
		} else {
			for _, w := range []string{"performance", "speed", "architecture", "implementation", "codebase", "technical"} {
				if strings.Contains(lower, w) {
					keywords = append(keywords, w)
				}
			}
			if len(keywords) > 0 {
				p["search_pattern"] = strings.Join(keywords, "|")
			} else {
				p["search_pattern"] = ".*"
			}
		}
	} else {
		p["search_pattern"] = strings.Join(dedupe(keywords), "|")
	}

	p["case_sensitive"] = false
	p["context_lines"] = 10
	p["show_line_numbers"] = true
	return command, p
}

func resolveList(subQuery, lower string) (string, map[string]interface{}) {
	return "list_directory", map[string]interface{}{"path": "."}
}

func resolveCat(subQuery, lower string) (string, map[string]interface{}) {
	p := map[string]interface{}{}
	if strings.Contains(lower, "readme") {
		p["filepath"] = "README.md"
	} else if m := mdFileRe.FindStringSubmatch(subQuery); m != nil {
		p["filepath"] = m[1]
	} else {
		p["filepath"] = "README.md"
	}
	return "cat_file", p
}

func resolveInfo(subQuery, lower string) (string, map[string]interface{}) {
	return "get_file_info", map[string]interface{}{"filepath": "README.md"}
}

// dedupe removes duplicate keywords while preserving first-seen order,
// keeping the grep pattern stable for identical inputs.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// shellReadOnlyCommands is the allow-list enforced when safe mode is on.
var shellReadOnlyCommands = map[string]bool{
	"find_files":     true,
	"grep_files":     true,
	"grep_in_file":   true,
	"list_directory": true,
	"cat_file":       true,
	"get_file_info":  true,
}

// shellHelperSkill is the skill whose commands safe mode gates.
const shellHelperSkill = "shell-commands"
