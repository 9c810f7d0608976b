package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shelftamer/internal/ledger"
	"shelftamer/internal/logging"
	"shelftamer/internal/services"
)

// processRecord claims a ready record and runs its stage to completion. The
// claim is the only mutual exclusion between workers; a lost claim just means
// another worker got there first.
func (m *Manager) processRecord(ctx context.Context, record *ledger.Record) error {
	binding, ok := m.bindingForStatus(record.Status)
	if !ok {
		m.logger.Warn("no stage for status", logging.String("status", string(record.Status)))
		return nil
	}

	claimed, err := m.store.Claim(ctx, record.ID, binding.ready, binding.processing)
	if err != nil {
		m.logger.Error("claim failed", logging.Error(err))
		return err
	}
	if !claimed {
		return nil
	}

	fresh, err := m.store.GetByID(ctx, record.ID)
	if err != nil {
		return err
	}
	if fresh == nil {
		return nil
	}
	record = fresh

	stageCtx := services.WithRecordID(ctx, record.ID)
	stageCtx = services.WithBookID(stageCtx, record.BookID)
	stageCtx = services.WithStage(stageCtx, binding.name)
	stageCtx = services.WithRequestID(stageCtx, uuid.NewString())
	logger := logging.WithContext(stageCtx, m.logger)

	stageStart := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("source", record.SourcePath))

	if err := binding.handler.Prepare(stageCtx, record); err != nil {
		m.handleStageFailure(stageCtx, binding, record, err)
		return err
	}
	if err := m.store.Update(stageCtx, record); err != nil {
		logger.Error("cannot persist stage preparation", logging.Error(err))
		return err
	}

	execErr := m.executeWithHeartbeat(stageCtx, binding, record)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			logger.Debug("stage interrupted by shutdown")
			// Roll the claim back so the next run re-attempts the stage
			// without waiting for stale-heartbeat reclamation.
			rollbackCtx := context.WithoutCancel(stageCtx)
			if _, err := m.store.Transition(rollbackCtx, record.ID, binding.processing, binding.ready); err != nil {
				logger.Warn("cannot release interrupted record", logging.Error(err))
			}
			return execErr
		}
		m.handleStageFailure(stageCtx, binding, record, execErr)
		return execErr
	}

	record.Status = binding.done
	record.LastHeartbeat = nil
	record.ErrorMessage = ""
	if record.Status == ledger.StatusCompleted {
		record.ProgressStage = "Completed"
		if record.EnrichmentDegraded() {
			m.degraded.Add(1)
		} else {
			m.succeeded.Add(1)
		}
	}
	if err := m.store.Update(stageCtx, record); err != nil {
		logger.Error("cannot persist stage result", logging.Error(err))
		return err
	}

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(record.Status)),
		logging.Duration("stage_duration", time.Since(stageStart)))
	return nil
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, binding stageBinding, record *ledger.Record) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, record.ID)

	execErr := binding.handler.Execute(ctx, record)
	hbCancel()
	hbWG.Wait()
	return execErr
}

func (m *Manager) handleStageFailure(ctx context.Context, binding stageBinding, record *ledger.Record, stageErr error) {
	message := strings.TrimSpace(stageErr.Error())
	if message == "" {
		message = binding.name + " failed"
	}
	retryable := services.Retryable(stageErr)
	record.SetFailed(message, retryable, binding.ready)
	m.failed.Add(1)

	logger := logging.WithContext(ctx, m.logger)
	logger.Error("stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("error_message", message),
		logging.Bool("retryable", retryable),
		logging.Error(stageErr))

	if err := m.store.Update(ctx, record); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutdown interrupted failure persistence")
		} else {
			logger.Error("cannot persist stage failure", logging.Error(err))
		}
	}
}
