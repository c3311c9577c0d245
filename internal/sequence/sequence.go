// Package sequence decides the order in which permit types are requested
// for a job. It holds no state and performs no I/O.
package sequence

import (
	"errors"
	"fmt"

	"permitline/internal/domain"
)

// Canonical permit type names, in order, followed by the terminal marker.
const (
	Height   = "altura"
	Hookup   = "enganche"
	Closure  = "cierre"
	Finished = "finalizado"
)

// Rejection reasons returned by ValidateCreation.
const (
	ReasonJobFinished      = "job already finished"
	ReasonWrongPosition    = "wrong sequence position"
	ReasonDuplicatePending = "duplicate pending permit"
)

// Rejection explains why a permit cannot be created.
type Rejection struct {
	Reason    string
	Expected  string
	Requested string
}

func (r *Rejection) Error() string {
	return r.Reason
}

// Policy is a fixed total order over permit type names.
type Policy struct {
	order []string
}

// Default returns the canonical altura → enganche → cierre order.
func Default() Policy {
	return Policy{order: []string{Height, Hookup, Closure}}
}

// New builds a policy from an explicit order.
func New(order []string) (Policy, error) {
	if len(order) == 0 {
		return Policy{}, errors.New("sequence order is empty")
	}
	seen := make(map[string]struct{}, len(order))
	for _, name := range order {
		if name == "" {
			return Policy{}, errors.New("sequence order contains an empty name")
		}
		if name == Finished {
			return Policy{}, fmt.Errorf("%s is reserved as the terminal marker", Finished)
		}
		if _, dup := seen[name]; dup {
			return Policy{}, fmt.Errorf("sequence order repeats %s", name)
		}
		seen[name] = struct{}{}
	}
	return Policy{order: append([]string(nil), order...)}, nil
}

func (p Policy) steps() []string {
	if len(p.order) == 0 {
		return Default().order
	}
	return p.order
}

// Order returns a copy of the configured steps.
func (p Policy) Order() []string {
	return append([]string(nil), p.steps()...)
}

func (p Policy) First() string {
	return p.steps()[0]
}

func (p Policy) Last() string {
	s := p.steps()
	return s[len(s)-1]
}

func (p Policy) Contains(name string) bool {
	return p.index(name) >= 0
}

// index returns the position of name; Finished sorts after every step.
func (p Policy) index(name string) int {
	s := p.steps()
	if name == Finished {
		return len(s)
	}
	for i, n := range s {
		if n == name {
			return i
		}
	}
	return -1
}

// ValidateCreation checks a permit request against the job's cursor.
// hasPending reports whether the job already holds a pending permit of the
// requested type.
func (p Policy) ValidateCreation(job domain.Job, requested string, hasPending bool) error {
	if domain.JobTerminal(job.State) {
		return &Rejection{Reason: ReasonJobFinished, Expected: job.NextPermitType, Requested: requested}
	}
	if requested != job.NextPermitType {
		return &Rejection{Reason: ReasonWrongPosition, Expected: job.NextPermitType, Requested: requested}
	}
	if hasPending {
		return &Rejection{Reason: ReasonDuplicatePending, Expected: job.NextPermitType, Requested: requested}
	}
	return nil
}

// NextAfterApproval returns the step following current, or Finished after the
// last one. ok is false when current is not part of the order.
func (p Policy) NextAfterApproval(current string) (string, bool) {
	s := p.steps()
	i := p.index(current)
	if i < 0 || i >= len(s) {
		return "", false
	}
	if i == len(s)-1 {
		return Finished, true
	}
	return s[i+1], true
}

// Advance moves cursor past an approved step. The cursor never moves
// backwards and stays put for names outside the order.
func (p Policy) Advance(cursor, approved string) string {
	next, ok := p.NextAfterApproval(approved)
	if !ok {
		return cursor
	}
	if cur := p.index(cursor); cur >= 0 && p.index(next) <= cur {
		return cursor
	}
	return next
}
