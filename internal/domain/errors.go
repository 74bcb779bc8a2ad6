package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound          = errors.New("domain: not found")
	ErrConflict          = errors.New("domain: conflict")
	ErrInvalidTransition = errors.New("task: invalid state transition")
)

// Recurrence engine errors.
var (
	// ErrInvalidRule marks a recurrence rule with missing or unsupported parameters.
	ErrInvalidRule = errors.New("domain: invalid recurrence rule")

	// ErrGenerationSkipped is a no-op result: the template is not owed new instances.
	ErrGenerationSkipped = errors.New("domain: generation skipped")

	// ErrStaleInstance marks an instance that already exists for a (template, due date) pair.
	ErrStaleInstance = errors.New("domain: instance already exists")

	// ErrCascadeConflict marks a status write onto a task already in the target state.
	ErrCascadeConflict = errors.New("domain: task already in target state")

	// ErrInvalidLineage marks a task that breaks the template/instance/subtask rules.
	ErrInvalidLineage = errors.New("domain: invalid task lineage")
)
