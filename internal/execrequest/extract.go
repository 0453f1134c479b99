package execrequest

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Extract decodes tool-call arguments into a Request. ok is false when text is not a JSON object carrying a usable command.
//
// The command is read from "cmd", falling back to "command" when "cmd" is missing or is not a non-empty array of strings. "timeout" (milliseconds) is
// only honored when it is a JSON number, and "workdir" only when it is a JSON string. Other fields are ignored.
//
// JSON parsers disagree on which of several same-named keys wins, so an object that repeats any of these keys has no request.
func Extract(text string) (req Request, ok bool) {
	if !gjson.Valid(text) {
		log.Warn("tool-call arguments are not valid JSON: %s", truncateForLog(text))
		return Request{}, false
	}

	root := gjson.Parse(text)
	if !root.IsObject() {
		log.Debug("tool-call arguments are not a JSON object")
		return Request{}, false
	}

	if name, dup := duplicateKey(root, requestKeys); dup {
		log.Warn("tool-call arguments repeat the %q key", name)
		return Request{}, false
	}

	command, ok := stringArray(field(root, "cmd"))
	if !ok {
		command, ok = stringArray(field(root, "command"))
	}
	if !ok {
		return Request{}, false
	}

	req, err := New(command)
	if err != nil {
		return Request{}, false
	}

	if t := field(root, "timeout"); t.Type == gjson.Number {
		if ms, ok := millis(t.Num); ok {
			req = req.WithTimeoutMS(ms)
		}
	}

	if w := field(root, "workdir"); w.Type == gjson.String {
		req = req.WithWorkdir(w.Str)
	}

	return req, true
}

// requestKeys are the top-level keys Extract reads.
var requestKeys = []string{"cmd", "command", "timeout", "workdir"}

// field looks up a top-level key literally. gjson paths treat characters like '.' and '*' specially, so the object is walked instead. If the key repeats,
// the last one wins, as with encoding/json and JSON.parse.
func field(obj gjson.Result, name string) gjson.Result {
	var out gjson.Result
	obj.ForEach(func(key, value gjson.Result) bool {
		if key.Str == name {
			out = value
		}
		return true
	})
	return out
}

// duplicateKey returns the first of names that appears more than once at the top level of obj.
func duplicateKey(obj gjson.Result, names []string) (string, bool) {
	counts := make(map[string]int, len(names))
	for _, n := range names {
		counts[n] = 0
	}
	dup := ""
	obj.ForEach(func(key, _ gjson.Result) bool {
		n, ok := counts[key.Str]
		if !ok {
			return true
		}
		if n == 1 {
			dup = key.Str
			return false
		}
		counts[key.Str] = n + 1
		return true
	})
	return dup, dup != ""
}

// stringArray returns r's elements if r is a non-empty array whose every element is a string.
func stringArray(r gjson.Result) ([]string, bool) {
	if !r.IsArray() {
		return nil, false
	}
	elems := r.Array()
	if len(elems) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		if e.Type != gjson.String {
			return nil, false
		}
		out = append(out, e.Str)
	}
	return out, true
}

// MaxTimeoutMS is the largest timeout a Request carries: the longest time.Duration, in whole milliseconds.
const MaxTimeoutMS = int64(math.MaxInt64 / int64(time.Millisecond))

// millis converts a JSON number to whole milliseconds. Negative and non-finite values are rejected; fractions are truncated and large values are
// clamped to MaxTimeoutMS.
func millis(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	if f >= float64(MaxTimeoutMS) {
		return MaxTimeoutMS, true
	}
	return int64(f), true
}

// truncateForLog shortens s to at most 200 bytes without splitting a rune.
func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
