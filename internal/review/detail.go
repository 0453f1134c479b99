// Package review turns a proposed tool call into a Detail: the command, how to display it, and whether it may run without asking a human.
package review

import (
	"encoding/json"

	"github.com/codalotl/autoapprove/internal/shellsafety"
)

// Detail is the hand-off artifact for one proposed command. A nil Verdict means a human must approve the command.
type Detail struct {
	ID          string               `json:"id"`
	CallID      string               `json:"call_id,omitempty"`
	Command     []string             `json:"command"`
	DisplayText string               `json:"display_text"`
	Verdict     *shellsafety.Verdict `json:"verdict,omitempty"`
	Workdir     string               `json:"workdir,omitempty"`
	TimeoutMS   *int64               `json:"timeout_ms,omitempty"`
	Timeout     string               `json:"timeout,omitempty"` // Timeout is TimeoutMS for display. Ex: "1m30s".
}

// AutoApproved reports whether the command may run without review.
func (d Detail) AutoApproved() bool {
	return d.Verdict != nil
}

// MarshalJSON adds the derived "auto_approved" field.
func (d Detail) MarshalJSON() ([]byte, error) {
	type plain Detail
	return json.Marshal(struct {
		plain
		AutoApproved bool `json:"auto_approved"`
	}{plain: plain(d), AutoApproved: d.AutoApproved()})
}
