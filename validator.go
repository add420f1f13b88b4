package questline

import (
	"fmt"
)

// PlayerState is the snapshot of a player the validator checks prerequisites
// and resource requirements against. It is supplied by an external provider;
// the engine never mutates it.
type PlayerState struct {
	PlayerID string `json:"player_id"`
	// Level is the overall player level.
	Level int64 `json:"level"`
	// Skills maps skill name to skill level.
	Skills map[string]int64 `json:"skills,omitempty"`
	// Stats maps stat name to value (e.g. "strength").
	Stats map[string]int64 `json:"stats,omitempty"`
	// Items maps item name to owned quantity.
	Items map[string]int64 `json:"items,omitempty"`
	// Resources maps consumable name to available quantity.
	Resources map[string]int64 `json:"resources,omitempty"`
	// Equipment maps slot name to the equipped item.
	Equipment map[string]string `json:"equipment,omitempty"`
	// CompletedActivities holds ids of activities the player finished.
	CompletedActivities map[string]bool `json:"completed_activities,omitempty"`
}

// PlayerStateProvider supplies the player snapshot used for validation.
// Implementations live outside the engine (the game's character service).
type PlayerStateProvider interface {
	PlayerState(playerID string) (*PlayerState, error)
}

// PlayerStateFunc adapts a function to the PlayerStateProvider interface.
type PlayerStateFunc func(playerID string) (*PlayerState, error)

func (f PlayerStateFunc) PlayerState(playerID string) (*PlayerState, error) { return f(playerID) }

// BypassReason restricts validation bypass to a closed set of attributable
// reasons. Bypass is never silent.
type BypassReason string

const (
	BypassAdminOverride BypassReason = "admin_override"
	BypassTesting       BypassReason = "testing"
	BypassDebug         BypassReason = "debug"
	BypassEmergency     BypassReason = "emergency"
	BypassMaintenance   BypassReason = "maintenance"
)

// ValidationOptions controls a single validation pass.
type ValidationOptions struct {
	// Bypass skips blocking on errors. It requires Reason and produces an
	// immutable audit record attributed to the context actor.
	Bypass bool
	// Reason is mandatory when Bypass is set.
	Reason BypassReason
}

// ValidationIssue is one problem found during validation. Blocking issues stop
// enqueue/execution; advisory ones are surfaced without blocking.
type ValidationIssue struct {
	// Code is a stable machine-readable identifier (e.g. "prereq_level").
	Code string `json:"code"`
	// Message is the player/operator-facing description.
	Message string `json:"message"`
	// Blocking distinguishes errors from warnings.
	Blocking bool `json:"blocking"`
}

// ValidationResult is the outcome of one validation pass. It is ephemeral and
// never persisted as part of queue state.
type ValidationResult struct {
	// Valid is true when no blocking issues were found (or bypass was used).
	Valid bool `json:"valid"`
	// Bypassed records that blocking issues were overridden.
	Bypassed bool `json:"bypassed,omitempty"`
	// Errors are the blocking issues.
	Errors []ValidationIssue `json:"errors,omitempty"`
	// Warnings are the advisory issues.
	Warnings []ValidationIssue `json:"warnings,omitempty"`
	// Prerequisites echoes the task's prerequisites with Met filled in.
	Prerequisites []Prerequisite `json:"prerequisites,omitempty"`
	// Requirements echoes the task's requirements with Met filled in.
	Requirements []ResourceRequirement `json:"requirements,omitempty"`
}

// ErrorMessages flattens the blocking issues into plain strings for storage
// on the task.
func (r *ValidationResult) ErrorMessages() []string {
	if len(r.Errors) == 0 {
		return nil
	}
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Message
	}
	return out
}

// Validate checks a task's prerequisites and resource requirements against the
// player snapshot. The two concerns are independent: every prerequisite and
// requirement gets its own Met flag so partial failure is diagnosable
// per item, not just pass/fail.
//
// With opts.Bypass set (and a recorded reason) the result is marked Valid
// even when blocking issues exist; callers are responsible for writing the
// audit record (Store does this for every mutation path).
func Validate(task *Task, player *PlayerState, opts ValidationOptions) (*ValidationResult, error) {
	if opts.Bypass && opts.Reason == "" {
		return nil, ErrBypassReasonRequired
	}
	res := &ValidationResult{}

	if _, err := ParseActivity(string(task.Activity)); err != nil {
		res.Errors = append(res.Errors, ValidationIssue{
			Code:     "activity_unknown",
			Message:  fmt.Sprintf("unknown activity type %q", task.Activity),
			Blocking: true,
		})
	}
	if task.DurationMs <= 0 {
		res.Errors = append(res.Errors, ValidationIssue{
			Code:     "duration_invalid",
			Message:  "task duration must be positive",
			Blocking: true,
		})
	}

	res.Prerequisites = checkPrerequisites(task, player, res)
	res.Requirements = checkRequirements(task, player, res)

	res.Valid = len(res.Errors) == 0
	if !res.Valid && opts.Bypass {
		res.Valid = true
		res.Bypassed = true
	}
	return res, nil
}

func checkPrerequisites(task *Task, player *PlayerState, res *ValidationResult) []Prerequisite {
	if len(task.Prerequisites) == 0 {
		return nil
	}
	out := make([]Prerequisite, len(task.Prerequisites))
	for i, p := range task.Prerequisites {
		p.Met = prereqMet(p, player)
		if !p.Met {
			res.Errors = append(res.Errors, ValidationIssue{
				Code:     "prereq_" + string(p.Kind),
				Message:  prereqMessage(p),
				Blocking: true,
			})
		}
		out[i] = p
	}
	return out
}

func prereqMet(p Prerequisite, player *PlayerState) bool {
	if player == nil {
		return false
	}
	switch p.Kind {
	case PrereqLevel:
		return player.Level >= p.Threshold
	case PrereqSkill:
		return player.Skills[p.Name] >= p.Threshold
	case PrereqStat:
		return player.Stats[p.Name] >= p.Threshold
	case PrereqItem:
		return player.Items[p.Name] > 0
	case PrereqEquipment:
		return player.Equipment[p.Name] != ""
	case PrereqActivity:
		return player.CompletedActivities[p.Name]
	default:
		return false
	}
}

func prereqMessage(p Prerequisite) string {
	switch p.Kind {
	case PrereqLevel:
		return fmt.Sprintf("requires level %d", p.Threshold)
	case PrereqSkill:
		return fmt.Sprintf("requires %s level %d", p.Name, p.Threshold)
	case PrereqStat:
		return fmt.Sprintf("requires %s of %d", p.Name, p.Threshold)
	case PrereqItem:
		return fmt.Sprintf("requires item %s", p.Name)
	case PrereqEquipment:
		return fmt.Sprintf("requires %s equipped", p.Name)
	case PrereqActivity:
		return fmt.Sprintf("requires completing %s", p.Name)
	default:
		return fmt.Sprintf("unknown prerequisite kind %q", p.Kind)
	}
}

func checkRequirements(task *Task, player *PlayerState, res *ValidationResult) []ResourceRequirement {
	if len(task.Requirements) == 0 {
		return nil
	}
	out := make([]ResourceRequirement, len(task.Requirements))
	for i, r := range task.Requirements {
		var have int64
		if player != nil {
			have = player.Resources[r.Resource]
		}
		r.Met = have >= r.Quantity
		if !r.Met {
			res.Errors = append(res.Errors, ValidationIssue{
				Code:     "resource_insufficient",
				Message:  fmt.Sprintf("requires %d %s, have %d", r.Quantity, r.Resource, have),
				Blocking: true,
			})
		} else if r.Quantity > 0 && have < r.Quantity*2 {
			// Advisory: the player can afford this task but is close to
			// running dry for follow-up work.
			res.Warnings = append(res.Warnings, ValidationIssue{
				Code:    "resource_low",
				Message: fmt.Sprintf("%s is running low (%d left)", r.Resource, have),
			})
		}
		out[i] = r
	}
	return out
}

// applyValidation stamps a validation result onto the task.
func applyValidation(task *Task, res *ValidationResult) {
	task.Valid = res.Valid
	task.ValidationErrors = res.ErrorMessages()
	if len(res.Prerequisites) > 0 {
		task.Prerequisites = res.Prerequisites
	}
	if len(res.Requirements) > 0 {
		task.Requirements = res.Requirements
	}
}
