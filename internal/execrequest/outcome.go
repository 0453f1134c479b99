package execrequest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tidwall/gjson"
)

// FailureMessage is the Output of the Outcome returned for an undecodable result.
const FailureMessage = "Failed to parse JSON result"

// ErrMalformedResult is returned (wrapped) by ParseOutcome when the result isn't shaped like an execution result.
var ErrMalformedResult = errors.New("execrequest: malformed execution result")

// Outcome is the decoded result of a finished execution.
type Outcome struct {
	Output          string  `json:"output"`
	ExitCode        int     `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// FailedOutcome returns the Outcome used in place of a result that could not be decoded.
func FailedOutcome() Outcome {
	return Outcome{Output: FailureMessage, ExitCode: 1, DurationSeconds: 0}
}

// Succeeded reports whether the command exited with status 0.
func (o Outcome) Succeeded() bool {
	return o.ExitCode == 0
}

// MarshalJSON adds the derived "succeeded" field.
func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	return json.Marshal(struct {
		plain
		Succeeded bool `json:"succeeded"`
	}{plain: plain(o), Succeeded: o.Succeeded()})
}

// DecodeOutcome decodes text of the form {"output": "...", "metadata": {"exit_code": 0, "duration_seconds": 1.5}}. It never fails: anything else decodes
// to FailedOutcome().
func DecodeOutcome(text string) Outcome {
	o, err := ParseOutcome(text)
	if err != nil {
		log.Debug("decode execution result: %v", err)
		return FailedOutcome()
	}
	return o
}

// ParseOutcome is DecodeOutcome that reports why decoding failed. Extra fields are ignored.
func ParseOutcome(text string) (Outcome, error) {
	if !gjson.Valid(text) {
		return Outcome{}, fmt.Errorf("%w: not valid JSON", ErrMalformedResult)
	}
	root := gjson.Parse(text)
	if !root.IsObject() {
		return Outcome{}, fmt.Errorf("%w: not an object", ErrMalformedResult)
	}

	output := field(root, "output")
	if output.Type != gjson.String {
		return Outcome{}, fmt.Errorf("%w: output is not a string", ErrMalformedResult)
	}

	metadata := field(root, "metadata")
	if !metadata.IsObject() {
		return Outcome{}, fmt.Errorf("%w: metadata is not an object", ErrMalformedResult)
	}

	exitCode := field(metadata, "exit_code")
	if exitCode.Type != gjson.Number || exitCode.Num != math.Trunc(exitCode.Num) || math.Abs(exitCode.Num) > math.MaxInt32 {
		return Outcome{}, fmt.Errorf("%w: exit_code is not an integer", ErrMalformedResult)
	}

	duration := field(metadata, "duration_seconds")
	if duration.Type != gjson.Number || math.IsNaN(duration.Num) || math.IsInf(duration.Num, 0) {
		return Outcome{}, fmt.Errorf("%w: duration_seconds is not a number", ErrMalformedResult)
	}

	return Outcome{
		Output:          output.Str,
		ExitCode:        int(exitCode.Num),
		DurationSeconds: duration.Num,
	}, nil
}
