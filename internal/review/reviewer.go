package review

import (
	"github.com/codalotl/autoapprove/internal/execrequest"
	"github.com/codalotl/autoapprove/internal/logger"
	"github.com/codalotl/autoapprove/internal/shellsafety"
	"github.com/google/uuid"
)

var log = logger.New("review")

// Approver is the part of shellsafety.Evaluator a Reviewer needs.
type Approver interface {
	ComputeAutoApproval(argv []string) (shellsafety.Verdict, bool)
}

// Reviewer builds Details from tool-call arguments. It is safe for concurrent use if its Approver and Formatter are.
type Reviewer struct {
	approver  Approver
	formatter Formatter
	newID     func() string
}

// NewReviewer returns a Reviewer. A nil formatter means ShellFormatter{}.
func NewReviewer(approver Approver, formatter Formatter) *Reviewer {
	if formatter == nil {
		formatter = ShellFormatter{}
	}
	return &Reviewer{
		approver:  approver,
		formatter: formatter,
		newID:     uuid.NewString,
	}
}

// Review extracts an execution request from argumentsText and classifies it. ok is false if argumentsText doesn't carry a request; in that case nothing
// may run.
func (r *Reviewer) Review(callID string, argumentsText string) (Detail, bool) {
	req, ok := execrequest.Extract(argumentsText)
	if !ok {
		log.Debug("call %s: no execution request in arguments", callID)
		return Detail{}, false
	}
	return r.ReviewRequest(callID, req), true
}

// ReviewRequest classifies an already-extracted request.
func (r *Reviewer) ReviewRequest(callID string, req execrequest.Request) Detail {
	argv := req.Command()
	d := Detail{
		ID:          r.newID(),
		CallID:      callID,
		Command:     argv,
		DisplayText: r.formatter.FormatCommand(argv),
	}
	if dir, ok := req.Workdir(); ok {
		d.Workdir = dir
	}
	if ms, ok := req.TimeoutMS(); ok {
		d.TimeoutMS = &ms
	}
	if timeout, ok := req.Timeout(); ok {
		d.Timeout = timeout.String()
	}

	if r.approver != nil {
		if v, ok := r.approver.ComputeAutoApproval(argv); ok {
			d.Verdict = &v
		}
	}

	if d.AutoApproved() {
		log.Info("call %s auto-approved (%s): %s", callID, d.Verdict.Rule, d.DisplayText)
	} else {
		log.Debug("call %s needs review: %s", callID, d.DisplayText)
	}
	return d
}
