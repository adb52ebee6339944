// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/Refinery/services/refine/trajectory"
	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Key prefixes. The full trajectory and its summary are written in the
// same transaction so the two namespaces never disagree.
const (
	trajectoryKeyPrefix = "trajectory/"
	summaryKeyPrefix    = "summary/"
)

func trajectoryKey(operationID string) []byte {
	return []byte(trajectoryKeyPrefix + operationID)
}

func summaryKey(operationID string) []byte {
	return []byte(summaryKeyPrefix + operationID)
}

// Summary is the listing record kept alongside each archived trajectory.
// It carries enough to render an operations table without decoding the
// full reasoning transcript.
type Summary struct {
	OperationID    string    `json:"operation_id"`
	OperationType  string    `json:"operation_type"`
	PhaseCount     int       `json:"phase_count"`
	TokensConsumed int       `json:"tokens_consumed"`
	CostIncurred   float64   `json:"cost_incurred"`
	OverallSuccess bool      `json:"overall_success"`
	ArchivedAt     time.Time `json:"archived_at"`
}

func summarize(traj *trajectory.Trajectory, archivedAt time.Time) Summary {
	return Summary{
		OperationID:    traj.OperationID,
		OperationType:  traj.OperationType,
		PhaseCount:     len(traj.Phases),
		TokensConsumed: traj.TotalTokensConsumed,
		CostIncurred:   traj.TotalCostIncurred,
		OverallSuccess: traj.OverallSuccess,
		ArchivedAt:     archivedAt,
	}
}

// Put archives a completed trajectory under its operation id.
//
// Description:
//
//	Serializes the trajectory and its summary as JSON and writes both in
//	one transaction. Re-archiving the same operation id overwrites the
//	previous record.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	traj - The trajectory to archive. Must carry an operation id.
//
// Outputs:
//
//	error - ErrNilContext, ErrStoreClosed, ErrNilTrajectory,
//	        ErrMissingOperationID, or a serialization/write failure.
func (s *TrajectoryStore) Put(ctx context.Context, traj *trajectory.Trajectory) error {
	if ctx == nil {
		return ErrNilContext
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if traj == nil {
		return ErrNilTrajectory
	}
	if traj.OperationID == "" {
		return ErrMissingOperationID
	}

	ctx, span := tracer.Start(ctx, "store.Put",
		trace.WithAttributes(
			attribute.String("operation.id", traj.OperationID),
			attribute.String("operation.type", traj.OperationType),
		),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	trajBytes, err := json.Marshal(traj)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("encode trajectory %s: %w", traj.OperationID, err)
	}
	sumBytes, err := json.Marshal(summarize(traj, time.Now().UTC()))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("encode summary %s: %w", traj.OperationID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(trajectoryKey(traj.OperationID), trajBytes); err != nil {
			return err
		}
		return txn.Set(summaryKey(traj.OperationID), sumBytes)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "archive write failed")
		return fmt.Errorf("archive trajectory %s: %w", traj.OperationID, err)
	}

	span.SetAttributes(attribute.Int("trajectory.bytes", len(trajBytes)))
	return nil
}

// Get loads the archived trajectory for an operation id.
//
// Outputs:
//
//	*trajectory.Trajectory - The archived record.
//	error - ErrTrajectoryNotFound if no record exists, or a read/decode
//	        failure.
func (s *TrajectoryStore) Get(ctx context.Context, operationID string) (*trajectory.Trajectory, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	if operationID == "" {
		return nil, ErrMissingOperationID
	}

	ctx, span := tracer.Start(ctx, "store.Get",
		trace.WithAttributes(attribute.String("operation.id", operationID)),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var traj trajectory.Trajectory
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(trajectoryKey(operationID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &traj)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTrajectoryNotFound, operationID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "archive read failed")
		return nil, fmt.Errorf("load trajectory %s: %w", operationID, err)
	}

	return &traj, nil
}

// List returns summaries of every archived trajectory, in operation-id
// order.
//
// Description:
//
//	Iterates the summary namespace only, so listing stays cheap no
//	matter how large the archived transcripts are.
func (s *TrajectoryStore) List(ctx context.Context) ([]Summary, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	ctx, span := tracer.Start(ctx, "store.List")
	defer span.End()

	var summaries []Summary
	prefix := []byte(summaryKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			err := it.Item().Value(func(val []byte) error {
				var sum Summary
				if err := json.Unmarshal(val, &sum); err != nil {
					return fmt.Errorf("decode summary %s: %w", it.Item().Key(), err)
				}
				summaries = append(summaries, sum)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "archive list failed")
		return nil, fmt.Errorf("list trajectories: %w", err)
	}

	span.SetAttributes(attribute.Int("store.trajectories", len(summaries)))
	return summaries, nil
}
