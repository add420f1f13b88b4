package questline

import (
	"testing"
)

func validatorPlayer() *PlayerState {
	return &PlayerState{
		PlayerID:            "p1",
		Level:               10,
		Skills:              map[string]int64{"mining": 5},
		Stats:               map[string]int64{"strength": 20},
		Items:               map[string]int64{"pickaxe": 1},
		Resources:           map[string]int64{"ore": 30},
		Equipment:           map[string]string{"weapon": "iron_sword"},
		CompletedActivities: map[string]bool{"tutorial": true},
	}
}

func baseTask() *Task {
	return &Task{ID: "t1", Activity: ActivityHarvesting, PlayerID: "p1", DurationMs: 1000}
}

func TestValidate_CleanTask(t *testing.T) {
	res, err := Validate(baseTask(), validatorPlayer(), ValidationOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Bypassed || len(res.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestValidate_StructuralErrors(t *testing.T) {
	task := baseTask()
	task.Activity = "sleeping"
	task.DurationMs = 0
	res, err := Validate(task, validatorPlayer(), ValidationOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || len(res.Errors) != 2 {
		t.Fatalf("expected 2 blocking errors, got %+v", res.Errors)
	}
	if res.Errors[0].Code != "activity_unknown" || res.Errors[1].Code != "duration_invalid" {
		t.Fatalf("unexpected error codes: %+v", res.Errors)
	}
}

func TestValidate_PrerequisiteKinds(t *testing.T) {
	cases := []struct {
		name string
		p    Prerequisite
		met  bool
	}{
		{"level met", Prerequisite{Kind: PrereqLevel, Threshold: 10}, true},
		{"level unmet", Prerequisite{Kind: PrereqLevel, Threshold: 11}, false},
		{"skill met", Prerequisite{Kind: PrereqSkill, Name: "mining", Threshold: 5}, true},
		{"skill unknown", Prerequisite{Kind: PrereqSkill, Name: "fishing", Threshold: 1}, false},
		{"stat met", Prerequisite{Kind: PrereqStat, Name: "strength", Threshold: 20}, true},
		{"item met", Prerequisite{Kind: PrereqItem, Name: "pickaxe"}, true},
		{"item unmet", Prerequisite{Kind: PrereqItem, Name: "rod"}, false},
		{"equipment met", Prerequisite{Kind: PrereqEquipment, Name: "weapon"}, true},
		{"equipment unmet", Prerequisite{Kind: PrereqEquipment, Name: "helmet"}, false},
		{"activity met", Prerequisite{Kind: PrereqActivity, Name: "tutorial"}, true},
		{"activity unmet", Prerequisite{Kind: PrereqActivity, Name: "raid"}, false},
		{"unknown kind", Prerequisite{Kind: "karma"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := baseTask()
			task.Prerequisites = []Prerequisite{tc.p}
			res, err := Validate(task, validatorPlayer(), ValidationOptions{})
			if err != nil {
				t.Fatal(err)
			}
			if res.Valid != tc.met {
				t.Fatalf("expected valid=%v, got %+v", tc.met, res)
			}
			if len(res.Prerequisites) != 1 || res.Prerequisites[0].Met != tc.met {
				t.Fatalf("per-item Met not filled in: %+v", res.Prerequisites)
			}
		})
	}
}

func TestValidate_RequirementsAndWarnings(t *testing.T) {
	task := baseTask()
	task.Requirements = []ResourceRequirement{
		{Resource: "ore", Quantity: 10},  // 30 available, comfortable
		{Resource: "wood", Quantity: 10}, // none available
	}
	res, err := Validate(task, validatorPlayer(), ValidationOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("expected blocking error for missing wood")
	}
	if len(res.Errors) != 1 || res.Errors[0].Code != "resource_insufficient" {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
	if res.Requirements[0].Met != true || res.Requirements[1].Met != false {
		t.Fatalf("per-item Met not filled in: %+v", res.Requirements)
	}

	// Affordable but nearly exhausted: advisory, not blocking.
	task.Requirements = []ResourceRequirement{{Resource: "ore", Quantity: 20}}
	res, err = Validate(task, validatorPlayer(), ValidationOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Fatalf("expected valid, got %+v", res.Errors)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Code != "resource_low" {
		t.Fatalf("expected resource_low warning, got %+v", res.Warnings)
	}
}

func TestValidate_NilPlayerFailsChecks(t *testing.T) {
	task := baseTask()
	task.Prerequisites = []Prerequisite{{Kind: PrereqLevel, Threshold: 1}}
	task.Requirements = []ResourceRequirement{{Resource: "ore", Quantity: 1}}
	res, err := Validate(task, nil, ValidationOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("expected validation to fail without player state")
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %+v", res.Errors)
	}
}

func TestValidate_Bypass(t *testing.T) {
	task := baseTask()
	task.Prerequisites = []Prerequisite{{Kind: PrereqLevel, Threshold: 99}}

	// Bypass without a reason is refused outright.
	if _, err := Validate(task, validatorPlayer(), ValidationOptions{Bypass: true}); err != ErrBypassReasonRequired {
		t.Fatalf("expected ErrBypassReasonRequired, got %v", err)
	}

	res, err := Validate(task, validatorPlayer(), ValidationOptions{Bypass: true, Reason: BypassTesting})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || !res.Bypassed {
		t.Fatalf("expected bypassed valid result, got %+v", res)
	}
	// The blocking issues stay visible even when bypassed.
	if len(res.Errors) != 1 {
		t.Fatalf("expected the underlying error to be reported, got %+v", res.Errors)
	}

	// A clean task is not marked bypassed.
	res, err = Validate(baseTask(), validatorPlayer(), ValidationOptions{Bypass: true, Reason: BypassTesting})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Bypassed {
		t.Fatalf("clean task should not be flagged bypassed: %+v", res)
	}
}

func TestApplyValidation_StampsTask(t *testing.T) {
	task := baseTask()
	task.Prerequisites = []Prerequisite{{Kind: PrereqLevel, Threshold: 99}}
	res, err := Validate(task, validatorPlayer(), ValidationOptions{})
	if err != nil {
		t.Fatal(err)
	}
	applyValidation(task, res)
	if task.Valid {
		t.Fatal("expected task marked invalid")
	}
	if len(task.ValidationErrors) != 1 {
		t.Fatalf("expected validation errors stored, got %v", task.ValidationErrors)
	}
	if task.Prerequisites[0].Met {
		t.Fatalf("expected Met=false stamped, got %+v", task.Prerequisites[0])
	}
}
