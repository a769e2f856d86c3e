package animation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Default runtimes the renderer assumes when a call omits them.
const (
	defaultPlayRunTime = 1.0
	defaultWaitTime    = 1.0
)

var (
	playCallRe   = regexp.MustCompile(`self\.play\s*\(`)
	runTimeRe    = regexp.MustCompile(`run_time\s*=\s*([\d.]+)`)
	waitCallRe   = regexp.MustCompile(`self\.wait\s*\(([^)]*)\)`)
	indentRe     = regexp.MustCompile(`^\s*`)
	anyWaitNumRe = regexp.MustCompile(`self\.wait\(\s*([+-]?\d+(?:\.\d+)?)\s*\)`)
)

// ExtractTiming computes the scene's total animation time from its play and
// wait calls, defaulting each unspecified duration to one second. Returns the
// total and the number of timed calls found.
func ExtractTiming(code string) (float64, int) {
	total := 0.0
	calls := 0

	for _, line := range strings.Split(code, "\n") {
		if playCallRe.MatchString(line) {
			calls++
			if m := runTimeRe.FindStringSubmatch(line); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					total += v
					continue
				}
			}
			total += defaultPlayRunTime
		}
		for _, m := range waitCallRe.FindAllStringSubmatch(line, -1) {
			calls++
			arg := strings.TrimSpace(m[1])
			if arg == "" {
				total += defaultWaitTime
				continue
			}
			if v, err := strconv.ParseFloat(arg, 64); err == nil {
				total += v
			} else {
				total += defaultWaitTime
			}
		}
	}
	return total, calls
}

// AdjustTiming pads the scene to targetDuration:
//   - within 0.5 s of target (or longer): leave it — long scenes are warned
//     about by the caller, never cut.
//   - short: extend the last wait (or append one) by the difference.
//
// A final pass rewrites any non-positive wait to the minimum.
func AdjustTiming(code string, targetDuration float64) string {
	adjusted := code
	current, calls := ExtractTiming(code)

	if calls == 0 {
		adjusted = addFinalWait(code, maxFloat(targetDuration, MinWaitSeconds))
	} else if diff := targetDuration - current; diff > 0.5 {
		adjusted = extendFinalWait(code, diff)
	}
	return sanitizeWaits(adjusted)
}

func addFinalWait(code string, duration float64) string {
	lines := strings.Split(code, "\n")
	indent := "        "
	insertAt := -1
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			indent = indentRe.FindString(lines[i])
			insertAt = i + 1
			break
		}
	}
	if insertAt == -1 {
		return code
	}
	waitLine := fmt.Sprintf("%sself.wait(%.2f)", indent, duration)
	out := append([]string{}, lines[:insertAt]...)
	out = append(out, waitLine)
	out = append(out, lines[insertAt:]...)
	return strings.Join(out, "\n")
}

func extendFinalWait(code string, additional float64) string {
	lines := strings.Split(code, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		m := waitCallRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		indent := indentRe.FindString(lines[i])
		arg := strings.TrimSpace(m[1])
		current := defaultWaitTime
		if arg != "" {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				// Not a literal wait; append a fresh one instead.
				return addFinalWait(code, maxFloat(additional, MinWaitSeconds))
			}
			current = v
		}
		newWait := maxFloat(current+additional, MinWaitSeconds)
		lines[i] = fmt.Sprintf("%sself.wait(%.2f)", indent, newWait)
		return strings.Join(lines, "\n")
	}
	return addFinalWait(code, maxFloat(additional, MinWaitSeconds))
}

// sanitizeWaits replaces zero or negative literal waits with the minimum.
func sanitizeWaits(code string) string {
	return anyWaitNumRe.ReplaceAllStringFunc(code, func(match string) string {
		m := anyWaitNumRe.FindStringSubmatch(match)
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v > 0 {
			return match
		}
		return fmt.Sprintf("self.wait(%.2f)", MinWaitSeconds)
	})
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
