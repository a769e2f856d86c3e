package animation

import (
	"fmt"
	"regexp"
	"strings"
)

// spatialCheckMethod is appended to the Scene class before the runtime probe.
// It walks self.mobjects at the end of construct(): hard violations exit
// non-zero through sys.exit so the probe sees them even when the runtime
// swallows exceptions; soft findings are emitted as structured JSON on stderr.
const spatialCheckMethod = `
    def _perform_spatial_checks(self):
        import sys, json
        SCREEN_X_LIMIT = %.1f
        SCREEN_Y_LIMIT = %.1f

        def is_overlapping(m1, m2):
            try:
                c1 = m1.get_center()
                c2 = m2.get_center()
                return (abs(c1[0] - c2[0]) * 2 < (m1.width + m2.width)
                        and abs(c1[1] - c2[1]) * 2 < (m1.height + m2.height))
            except Exception:
                return False

        warnings = []
        for m in self.mobjects:
            if not hasattr(m, 'get_center') or not hasattr(m, 'width'):
                continue
            if m.width > 0.1 and m.height > 0.1:
                x, y = m.get_center()[0], m.get_center()[1]
                w, h = m.width, m.height
                if (x - w / 2 < -SCREEN_X_LIMIT or x + w / 2 > SCREEN_X_LIMIT
                        or y - h / 2 < -SCREEN_Y_LIMIT or y + h / 2 > SCREEN_Y_LIMIT):
                    sys.exit("Spatial Error: Object '%%s' is out of bounds (X/Y limits). Center: (%%.2f, %%.2f)." %% (type(m).__name__, x, y))
                if m.width > 2 * SCREEN_X_LIMIT * 0.95:
                    warnings.append({"category": "out_of_bounds", "severity": "warning",
                                     "confidence": "low", "message": "Object '%%s' nearly spans the full frame width" %% type(m).__name__})

        texts = [m for m in self.mobjects if "Text" in type(m).__name__ and hasattr(m, 'text')]
        for i, t1 in enumerate(texts):
            for t2 in texts[i + 1:]:
                if is_overlapping(t1, t2):
                    sys.exit("Spatial Error: Text overlap detected between '%%s' and '%%s'." %% (getattr(t1, 'text', '')[:20], getattr(t2, 'text', '')[:20]))

        if warnings:
            print("SPATIAL_ISSUES_JSON:" + json.dumps(warnings), file=sys.stderr)
`

// Injector rewrites a scene file to run spatial checks during the probe.
type Injector struct{}

func NewInjector() *Injector { return &Injector{} }

var constructDefRe = regexp.MustCompile(`^(\s+)def\s+construct\s*\(\s*self\s*\)\s*:`)

// Inject appends a `self._perform_spatial_checks()` call at the end of
// construct() and adds the helper method to the Scene class. Returns the code
// unchanged when the expected structure is missing.
func (in *Injector) Inject(code string) string {
	lines := strings.Split(code, "\n")

	constructIdx := -1
	var methodIndent string
	for i, line := range lines {
		if m := constructDefRe.FindStringSubmatch(line); m != nil {
			constructIdx = i
			methodIndent = m[1]
			break
		}
	}
	if constructIdx == -1 {
		return code
	}

	// The construct body ends at the first line indented at or below the
	// method level (or EOF).
	bodyIndent := methodIndent + "    "
	endIdx := len(lines)
	lastStmt := -1
	for i := constructIdx + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(lines[i], bodyIndent) {
			endIdx = i
			break
		}
		lastStmt = i
	}
	if lastStmt == -1 {
		return code
	}

	checkCall := bodyIndent + "self._perform_spatial_checks()"
	var out []string
	out = append(out, lines[:lastStmt+1]...)
	out = append(out, checkCall)
	out = append(out, lines[lastStmt+1:endIdx]...)

	// Helper method goes at the class level, right after the construct body.
	helper := fmt.Sprintf(spatialCheckMethod, ScreenXLimit, ScreenYLimit)
	out = append(out, strings.Split(strings.TrimRight(helper, "\n"), "\n")...)
	out = append(out, lines[endIdx:]...)
	return strings.Join(out, "\n")
}
