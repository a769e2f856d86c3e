package animation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/eduviz/backend/internal/domain"
)

// Fixer applies deterministic rewrites to generated scene code. All
// pattern-level fixes are idempotent: applying them twice yields the same
// code as applying them once.
type Fixer struct{}

func NewFixer() *Fixer { return &Fixer{} }

var (
	waitZeroRe     = regexp.MustCompile(`^\s*self\.(?:wait|_monitored_wait)\(\s*0(?:\.0+)?\s*\)\s*$`)
	trackerNumRe   = regexp.MustCompile(`\b([A-Za-z_]\w*)\.number\b`)
	gridLinesRe    = regexp.MustCompile(`\b([A-Za-z_]\w*)\.grid_lines\b`)
	tableCellRe    = regexp.MustCompile(`\b([A-Za-z_]\w*)\[(\d+)\]\[(\d+)\]`)
	stretchDiv8Re  = regexp.MustCompile(`(\.stretch_to_fit_width\(\s*[\w.]+\s*/\s*)8(\s*\))`)
	mathTexAssign  = regexp.MustCompile(`^(\s*)([A-Za-z_]\w*)\s*=\s*MathTex\((.*)\)\s*$`)
	vgroupLinesRe  = regexp.MustCompile(`^(\s*)([A-Za-z_]\w*)\s*=\s*VGroup\(\s*([A-Za-z_]\w*)\s*,\s*([A-Za-z_]*line[A-Za-z_0-9]*)\s*,\s*([A-Za-z_]*line[A-Za-z_0-9]*)\s*\)\s*$`)
	moveShiftRe    = regexp.MustCompile(`\.(move_to|shift)\(\s*(RIGHT|LEFT|UP|DOWN|UL|UR|DL|DR)\s*\*\s*(\d+(?:\.\d+)?)\s*\)`)
)

// identifier replacements the runtime rejects or misinterprets.
var forbiddenIdentifiers = []struct{ from, to string }{
	{"CENTER", "ORIGIN"},
	{"TOP", "UP"},
	{"BOTTOM", "DOWN"},
	{"ease_in_expo", "smooth"},
}

// FixKnownPatterns applies the always-on rewrites and reports how many
// changes were made.
func (f *Fixer) FixKnownPatterns(code string) (string, int) {
	lines := strings.Split(code, "\n")
	count := 0
	var out []string

	for _, line := range lines {
		// Remove self.wait(0): the runtime rejects zero waits.
		if waitZeroRe.MatchString(line) {
			count++
			continue
		}

		// tracker.number -> tracker.get_value()
		if trackerNumRe.MatchString(line) {
			line = trackerNumRe.ReplaceAllString(line, "$1.get_value()")
			count++
		}

		// table.grid_lines -> explicit line groups
		if gridLinesRe.MatchString(line) {
			line = gridLinesRe.ReplaceAllString(line,
				"VGroup($1.get_horizontal_lines(), $1.get_vertical_lines())")
			count++
		}

		// table[i][j] -> table.get_cell(i+1, j+1)
		if tableCellRe.MatchString(line) {
			line = tableCellRe.ReplaceAllStringFunc(line, func(match string) string {
				m := tableCellRe.FindStringSubmatch(match)
				row, _ := strconv.Atoi(m[2])
				col, _ := strconv.Atoi(m[3])
				return fmt.Sprintf("%s.get_cell(%d, %d)", m[1], row+1, col+1)
			})
			count++
		}

		// Fragile array-highlight geometry: /8 width stretch -> /7.
		if stretchDiv8Re.MatchString(line) {
			line = stretchDiv8Re.ReplaceAllString(line, "${1}7${2}")
			count++
		}

		// Forbidden identifiers.
		for _, repl := range forbiddenIdentifiers {
			re := regexp.MustCompile(`\b` + repl.from + `\b`)
			if re.MatchString(line) {
				line = re.ReplaceAllString(line, repl.to)
				count++
			}
		}

		// Decorative VGroup(table, line_x, line_y): keep the table only.
		if m := vgroupLinesRe.FindStringSubmatch(line); m != nil {
			line = fmt.Sprintf("%s%s = %s", m[1], m[2], m[3])
			count++
		}

		out = append(out, line)

		// MathTex with >=5 positional args gets arranged and width-fitted.
		if m := mathTexAssign.FindStringSubmatch(line); m != nil {
			indent, varName, argStr := m[1], m[2], m[3]
			if countPositionalArgs(argStr) >= 5 {
				arrange := fmt.Sprintf("%s%s.arrange(RIGHT, buff=0.7)", indent, varName)
				scale := fmt.Sprintf("%s%s.scale_to_fit_width(min(%s.width, 10.5))", indent, varName, varName)
				if !followedBy(lines, line, arrange) {
					out = append(out, arrange, scale)
					count += 2
				}
			}
		}
	}

	return strings.Join(out, "\n"), count
}

// followedBy reports whether want already appears right after the line that
// matched, keeping the MathTex rewrite idempotent.
func followedBy(lines []string, matched, want string) bool {
	for i, l := range lines {
		if l == matched && i+1 < len(lines) && strings.TrimSpace(lines[i+1]) == strings.TrimSpace(want) {
			return true
		}
	}
	return false
}

// countPositionalArgs counts top-level comma-separated args that are not
// keyword arguments, respecting nesting and strings.
func countPositionalArgs(argStr string) int {
	args := splitTopLevelArgs(argStr)
	n := 0
	for _, a := range args {
		trimmed := strings.TrimSpace(a)
		if trimmed == "" {
			continue
		}
		if isKeywordArg(trimmed) {
			continue
		}
		n++
	}
	return n
}

func isKeywordArg(arg string) bool {
	depth := 0
	inStr := byte(0)
	for i := 0; i < len(arg); i++ {
		c := arg[i]
		if inStr != 0 {
			if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			inStr = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth == 0 {
				if i+1 < len(arg) && arg[i+1] == '=' {
					i++
					continue
				}
				if i > 0 && (arg[i-1] == '!' || arg[i-1] == '<' || arg[i-1] == '>') {
					continue
				}
				return true
			}
		}
	}
	return false
}

func splitTopLevelArgs(argStr string) []string {
	var args []string
	depth := 0
	inStr := byte(0)
	start := 0
	for i := 0; i < len(argStr); i++ {
		c := argStr[i]
		if inStr != 0 {
			if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			inStr = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, argStr[start:i])
				start = i + 1
			}
		}
	}
	args = append(args, argStr[start:])
	return args
}

// Fix applies rewrites routed from validation issues. Issues the fixer can't
// consume are returned for the LLM path.
func (f *Fixer) Fix(code string, issues []domain.ValidationIssue) (string, []domain.ValidationIssue, int) {
	var remaining []domain.ValidationIssue
	fixes := 0
	current := code

	for _, issue := range issues {
		if !issue.ShouldAutoFix() {
			remaining = append(remaining, issue)
			continue
		}
		var next string
		switch issue.Category {
		case domain.CategoryOutOfBounds:
			next = f.fixOutOfBounds(current, issue)
		case domain.CategoryTextOverlap:
			next = f.fixTextOverlap(current, issue)
		case domain.CategoryObjectOcclusion:
			next = f.fixObjectOcclusion(current, issue)
		}
		if next != "" && next != current {
			current = next
			fixes++
		} else {
			remaining = append(remaining, issue)
		}
	}
	return current, remaining, fixes
}

// fixOutOfBounds clamps explicit move_to/shift coordinates to the safe band
// and, for group overflow, inserts a width fit after the declaration.
func (f *Fixer) fixOutOfBounds(code string, issue domain.ValidationIssue) string {
	changed := false
	result := moveShiftRe.ReplaceAllStringFunc(code, func(match string) string {
		m := moveShiftRe.FindStringSubmatch(match)
		value, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			return match
		}
		limit := SafeXLimit
		switch m[2] {
		case "UP", "DOWN":
			limit = SafeYLimit
		case "UL", "UR", "DL", "DR":
			limit = SafeYLimit
		}
		if value <= limit {
			return match
		}
		changed = true
		return fmt.Sprintf(".%s(%s * %.1f)", m[1], m[2], limit)
	})

	if issue.Details != nil {
		if overflow, _ := issue.Details["is_group_overflow"].(bool); overflow {
			objType, _ := issue.Details["object_type"].(string)
			if varName := findVariableForType(result, objType); varName != "" {
				withScale := insertAfterAssignment(result, varName,
					fmt.Sprintf("%s.scale_to_fit_width(min(%s.width, %.1f))", varName, varName, GroupFitWidth))
				if withScale != result {
					result = withScale
					changed = true
				}
			}
		}
	}

	if !changed {
		return ""
	}
	return result
}

// fixTextOverlap anchors the second text below the first, or nudges it down
// when no anchor can be found.
func (f *Fixer) fixTextOverlap(code string, issue domain.ValidationIssue) string {
	if issue.Details == nil {
		return ""
	}
	text1, _ := issue.Details["text1"].(string)
	text2, _ := issue.Details["text2"].(string)
	var2 := findVariableForText(code, text2)
	if var2 == "" {
		return ""
	}
	var1 := findVariableForText(code, text1)

	var stmt string
	if var1 != "" {
		stmt = fmt.Sprintf("%s.next_to(%s, DOWN, buff=0.4)", var2, var1)
	} else {
		stmt = fmt.Sprintf("%s.shift(DOWN * 0.8)", var2)
	}
	return insertAfterAssignment(code, var2, stmt)
}

// fixObjectOcclusion empties the fill of the occluding object.
func (f *Fixer) fixObjectOcclusion(code string, issue domain.ValidationIssue) string {
	if issue.Details == nil {
		return ""
	}
	objType, _ := issue.Details["object_type"].(string)
	varName := findVariableForType(code, objType)
	if varName == "" {
		return ""
	}
	return insertAfterAssignment(code, varName, fmt.Sprintf("%s.set_fill(opacity=0)", varName))
}

// insertAfterAssignment adds stmt (at matching indentation) right after the
// first assignment to varName. Returns code unchanged when the assignment is
// missing or the statement is already present.
func insertAfterAssignment(code, varName, stmt string) string {
	lines := strings.Split(code, "\n")
	assignRe := regexp.MustCompile(`^(\s*)` + regexp.QuoteMeta(varName) + `\s*=\s*`)
	for i, line := range lines {
		m := assignRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if i+1 < len(lines) && strings.TrimSpace(lines[i+1]) == stmt {
			return code
		}
		inserted := append([]string{}, lines[:i+1]...)
		inserted = append(inserted, m[1]+stmt)
		inserted = append(inserted, lines[i+1:]...)
		return strings.Join(inserted, "\n")
	}
	return code
}

// findVariableForType locates the first variable assigned a call to objType.
func findVariableForType(code, objType string) string {
	if objType == "" {
		return ""
	}
	re := regexp.MustCompile(`^\s*([A-Za-z_]\w*)\s*=\s*(?:[\w.]*\.)?` + regexp.QuoteMeta(objType) + `\(`)
	for _, line := range strings.Split(code, "\n") {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

var textCtorRe = regexp.MustCompile(`^\s*([A-Za-z_]\w*)\s*=\s*(?:Text|Tex|MathTex)\(\s*r?(['"])(.*?)(['"])`)

// findVariableForText locates the variable holding a Text/Tex object whose
// literal contains the first 20 characters of content.
func findVariableForText(code, content string) string {
	if content == "" {
		return ""
	}
	needle := content
	if len(needle) > 20 {
		needle = needle[:20]
	}
	for _, line := range strings.Split(code, "\n") {
		if m := textCtorRe.FindStringSubmatch(line); m != nil {
			if strings.Contains(m[3], needle) {
				return m[1]
			}
		}
	}
	return ""
}
