// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scenario loads declarative contention scripts and applies them
// to an allocation tracker.
//
// A scenario is a YAML document naming resources, processes, and a list
// of steps. Steps drive the tracker through the same operations a live
// system would issue, which makes known contention patterns (circular
// waits, starvation queues) reproducible fixtures instead of one-off
// curl sequences.
package scenario

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// identPattern constrains every user-supplied identifier: it must start
// with a letter and may continue with letters, digits, dots, underscores,
// colons, or hyphens.
var identPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._:-]*$`)

// scenarioValidate is the validator instance for scenario documents.
// Initialized in init() with custom validators.
var scenarioValidate *validator.Validate

func init() {
	scenarioValidate = validator.New()
	_ = scenarioValidate.RegisterValidation("ident", validateIdent)
}

// validateIdent validates that a string field is a well-formed identifier.
//
// # Description
//
// Scenario ids flow into event logs, component names, and API paths, so
// they are restricted to a conservative character set up front rather
// than escaped at every use site.
//
// # Inputs
//
//   - fl: Validator field level containing the string to validate
//
// # Outputs
//
//   - bool: true if the field matches the identifier pattern
func validateIdent(fl validator.FieldLevel) bool {
	return identPattern.MatchString(fl.Field().String())
}

// =============================================================================
// Step Operations
// =============================================================================

// Op identifies a scenario step operation.
type Op string

const (
	// OpRequest issues a normal resource request: granted if available,
	// queued otherwise.
	OpRequest Op = "request"

	// OpRelease returns instances. Zero (or omitted) instances means the
	// process's full allocation.
	OpRelease Op = "release"

	// OpOwn allocates instances directly, bypassing the request path.
	OpOwn Op = "own"

	// OpWait queues the process as a waiter directly.
	OpWait Op = "wait"

	// OpUnwait removes the process from a wait queue.
	OpUnwait Op = "unwait"

	// OpUnregisterProcess removes a process, force-releasing holdings.
	OpUnregisterProcess Op = "unregister_process"

	// OpUnregisterResource removes a resource, reclaiming allocations.
	OpUnregisterResource Op = "unregister_resource"

	// OpClear wipes all tracked state.
	OpClear Op = "clear"
)

// opNeeds records which ids each operation requires.
var opNeeds = map[Op]struct{ process, resource bool }{
	OpRequest:            {true, true},
	OpRelease:            {true, true},
	OpOwn:                {true, true},
	OpWait:               {true, true},
	OpUnwait:             {true, true},
	OpUnregisterProcess:  {true, false},
	OpUnregisterResource: {false, true},
	OpClear:              {false, false},
}

// =============================================================================
// Scenario Document
// =============================================================================

// ResourceDecl declares one resource a scenario needs.
//
// # Fields
//
//   - ID: Required. Unique resource identifier.
//   - Kind: Optional. One of lock, semaphore, shared_memory, pipe, queue.
//     Default: lock.
//   - Instances: Optional. Total instance count. Default: 1.
type ResourceDecl struct {
	ID        string `yaml:"id" json:"id" validate:"required,ident"`
	Kind      string `yaml:"kind,omitempty" json:"kind,omitempty" validate:"omitempty,oneof=lock semaphore shared_memory pipe queue"`
	Instances int    `yaml:"instances,omitempty" json:"instances,omitempty" validate:"gte=0"`
}

// Step is one tracker operation in a scenario.
//
// # Fields
//
//   - Op: Required. The operation to perform.
//   - Process: Process id. Required by every op except clear and
//     unregister_resource.
//   - Resource: Resource id. Required by every op except clear and
//     unregister_process.
//   - Instances: Instance count. Defaults to 1 for request, own, and
//     wait. For release, zero means the full allocation.
type Step struct {
	Op        Op     `yaml:"op" json:"op" validate:"required,oneof=request release own wait unwait unregister_process unregister_resource clear"`
	Process   string `yaml:"process,omitempty" json:"process,omitempty" validate:"omitempty,ident"`
	Resource  string `yaml:"resource,omitempty" json:"resource,omitempty" validate:"omitempty,ident"`
	Instances int    `yaml:"instances,omitempty" json:"instances,omitempty" validate:"gte=0"`
}

// Scenario is a declarative contention script.
//
// # Description
//
// Resources and processes are registered before any step runs, so steps
// can reference them in any order. Steps execute sequentially against
// the tracker; queued requests and refused operations are recorded, not
// fatal.
//
// # Example
//
//	name: circular-wait
//	description: two workers each holding what the other needs
//	resources:
//	  - id: db-lock
//	  - id: cache-lock
//	processes: [worker-1, worker-2]
//	steps:
//	  - {op: own, process: worker-1, resource: db-lock}
//	  - {op: own, process: worker-2, resource: cache-lock}
//	  - {op: wait, process: worker-1, resource: cache-lock}
//	  - {op: wait, process: worker-2, resource: db-lock}
type Scenario struct {
	Name        string         `yaml:"name" json:"name" validate:"required,ident"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Resources   []ResourceDecl `yaml:"resources,omitempty" json:"resources,omitempty" validate:"dive"`
	Processes   []string       `yaml:"processes,omitempty" json:"processes,omitempty" validate:"dive,ident"`
	Steps       []Step         `yaml:"steps,omitempty" json:"steps,omitempty" validate:"dive"`
}

// ApplyDefaults fills unset optional fields in place.
func (s *Scenario) ApplyDefaults() {
	for i := range s.Resources {
		if s.Resources[i].Instances == 0 {
			s.Resources[i].Instances = 1
		}
		if s.Resources[i].Kind == "" {
			s.Resources[i].Kind = "lock"
		}
	}
}

// Validate checks the document structure and the per-op id requirements.
//
// # Outputs
//
//   - error: Non-nil if validation failed, naming the first offending
//     declaration or step.
func (s *Scenario) Validate() error {
	if err := scenarioValidate.Struct(s); err != nil {
		return err
	}

	seenRes := make(map[string]struct{}, len(s.Resources))
	for _, r := range s.Resources {
		if _, dup := seenRes[r.ID]; dup {
			return fmt.Errorf("resource %q declared twice", r.ID)
		}
		seenRes[r.ID] = struct{}{}
	}
	seenProc := make(map[string]struct{}, len(s.Processes))
	for _, p := range s.Processes {
		if _, dup := seenProc[p]; dup {
			return fmt.Errorf("process %q declared twice", p)
		}
		seenProc[p] = struct{}{}
	}

	for i, step := range s.Steps {
		needs := opNeeds[step.Op]
		if needs.process && step.Process == "" {
			return fmt.Errorf("step %d: op %q requires a process id", i+1, step.Op)
		}
		if needs.resource && step.Resource == "" {
			return fmt.Errorf("step %d: op %q requires a resource id", i+1, step.Op)
		}
		if step.Process != "" {
			if _, ok := seenProc[step.Process]; !ok {
				return fmt.Errorf("step %d: process %q is not declared", i+1, step.Process)
			}
		}
		if step.Resource != "" {
			if _, ok := seenRes[step.Resource]; !ok {
				return fmt.Errorf("step %d: resource %q is not declared", i+1, step.Resource)
			}
		}
	}
	return nil
}
