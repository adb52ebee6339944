// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"fmt"
	"sync"
)

// OperatorState represents a state in the refinement run state machine.
//
// Valid state transitions are enforced by the state machine. Invalid
// transitions return ErrInvalidTransition.
type OperatorState string

const (
	// StateInit is the initial state before any phase has started.
	StateInit OperatorState = "INIT"

	// StateAnalyze gathers context and diagnoses the input.
	StateAnalyze OperatorState = "ANALYZE"

	// StateGenerate produces the first candidate artifact.
	StateGenerate OperatorState = "GENERATE"

	// StateValidate runs the registered hooks over the candidate.
	StateValidate OperatorState = "VALIDATE"

	// StateFix revises the candidate using validation feedback.
	StateFix OperatorState = "FIX"

	// StateDone indicates the run has finished, successfully or not.
	StateDone OperatorState = "DONE"
)

// String returns the string representation of the state.
func (s OperatorState) String() string {
	return string(s)
}

// IsTerminal returns true if the state is the terminal state (DONE).
func (s OperatorState) IsTerminal() bool {
	return s == StateDone
}

// AllStates returns all valid operator states.
func AllStates() []OperatorState {
	return []OperatorState{
		StateInit,
		StateAnalyze,
		StateGenerate,
		StateValidate,
		StateFix,
		StateDone,
	}
}

// StateMachine manages valid state transitions for a refinement run.
//
// The state machine enforces the following transition graph:
//
//	INIT → ANALYZE       : Run started, analysis phase opens
//	INIT → DONE          : Run aborted before analysis
//	ANALYZE → GENERATE   : Analysis produced, generation begins
//	ANALYZE → DONE       : Analysis failed, run aborts
//	GENERATE → VALIDATE  : Candidate produced, first validation
//	GENERATE → DONE      : No candidate found, run aborts
//	VALIDATE → FIX       : Validation failed with budget remaining
//	VALIDATE → DONE      : Candidate valid, or budget exhausted
//	FIX → VALIDATE       : Revised candidate produced
//	FIX → DONE           : Fix step failed, run aborts
//
// Thread Safety:
//
//	StateMachine is safe for concurrent use.
type StateMachine struct {
	mu sync.RWMutex

	// transitions maps (from, to) pairs that are valid.
	transitions map[OperatorState]map[OperatorState]bool
}

// NewStateMachine creates a new state machine with all valid transitions.
//
// Outputs:
//
//	*StateMachine - Configured state machine
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[OperatorState]map[OperatorState]bool),
	}

	// Initialize all states with empty transition maps
	for _, state := range AllStates() {
		sm.transitions[state] = make(map[OperatorState]bool)
	}

	// Define valid transitions
	sm.addTransition(StateInit, StateAnalyze)
	sm.addTransition(StateInit, StateDone)

	sm.addTransition(StateAnalyze, StateGenerate)
	sm.addTransition(StateAnalyze, StateDone)

	sm.addTransition(StateGenerate, StateValidate)
	sm.addTransition(StateGenerate, StateDone)

	sm.addTransition(StateValidate, StateFix)
	sm.addTransition(StateValidate, StateDone)

	sm.addTransition(StateFix, StateValidate)
	sm.addTransition(StateFix, StateDone)

	return sm
}

// addTransition registers a valid transition.
func (sm *StateMachine) addTransition(from, to OperatorState) {
	sm.transitions[from][to] = true
}

// CanTransition checks if a transition from one state to another is valid.
//
// Inputs:
//
//	from - Current state
//	to - Target state
//
// Outputs:
//
//	bool - True if the transition is valid
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) CanTransition(from, to OperatorState) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition validates a transition and returns the target state.
//
// Outputs:
//
//	error - ErrInvalidTransition if transition not allowed
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) Transition(from, to OperatorState) (OperatorState, error) {
	if !sm.CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

// ValidTransitionsFrom returns all valid transitions from a given state.
//
// Inputs:
//
//	from - The source state
//
// Outputs:
//
//	[]OperatorState - All valid target states
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) ValidTransitionsFrom(from OperatorState) []OperatorState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var result []OperatorState
	if toMap, ok := sm.transitions[from]; ok {
		for state, valid := range toMap {
			if valid {
				result = append(result, state)
			}
		}
	}
	return result
}

// DefaultStateMachine is the shared state machine instance.
var DefaultStateMachine = NewStateMachine()
