// Package reconciler runs reconciliation passes over two transaction sets.
//
// A pass filters both sides by amount paid and by an optional date range,
// collapses literal duplicates, normalizes references and currencies, and
// joins the sides on reference number through the matcher package.
//
// The Orchestrator loads both sides from storage before running a pass:
//
//	orchestrator := reconciler.NewOrchestrator(rec, store)
//	orchestrator.AddProgressCallback(func(p *reconciler.Progress) {
//		fmt.Printf("%s (%d/%d)\n", p.CurrentStep, p.CompletedSteps, p.TotalSteps)
//	})
//	result, err := orchestrator.Run(ctx, &reconciler.Request{
//		TableA: "api_transactions",
//		TableB: "geral_transactions",
//	})
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/pkg/errors"
	"cnab-reconciliation-service/pkg/logger"
)

// Loader reads every transaction stored under a table.
type Loader interface {
	LoadAll(ctx context.Context, table string) ([]*models.Transaction, error)
}

// Request describes one orchestrated pass.
type Request struct {
	TableA    string
	TableB    string
	DateField models.DateField
	DateRange *DateRange
}

// Validate validates the request
func (r *Request) Validate() error {
	if r.TableA == "" || r.TableB == "" {
		return fmt.Errorf("both tables are required")
	}
	if r.TableA == r.TableB {
		return fmt.Errorf("cannot reconcile table %s against itself", r.TableA)
	}
	if r.DateField != "" && !r.DateField.IsValid() {
		return fmt.Errorf("invalid date field '%s'", r.DateField)
	}
	return nil
}

// Progress tracks the steps of an orchestrated pass.
type Progress struct {
	TotalSteps     int           `json:"total_steps"`
	CompletedSteps int           `json:"completed_steps"`
	CurrentStep    string        `json:"current_step"`
	StartTime      time.Time     `json:"start_time"`
	ElapsedTime    time.Duration `json:"elapsed_time"`
	LoadedA        int           `json:"loaded_a"`
	LoadedB        int           `json:"loaded_b"`
}

// ProgressCallback is called after each completed step.
type ProgressCallback func(*Progress)

// Orchestrator loads both sides and runs a pass. Only one pass runs at a
// time; a concurrent Run fails immediately instead of queueing.
type Orchestrator struct {
	reconciler *Reconciler
	loader     Loader
	logger     logger.Logger

	running   sync.Mutex
	callbacks []ProgressCallback
}

// NewOrchestrator creates an orchestrator over loader.
func NewOrchestrator(rec *Reconciler, loader Loader) *Orchestrator {
	return &Orchestrator{
		reconciler: rec,
		loader:     loader,
		logger:     logger.GetGlobalLogger().WithComponent("orchestrator"),
	}
}

// AddProgressCallback registers cb for subsequent runs.
func (o *Orchestrator) AddProgressCallback(cb ProgressCallback) {
	o.callbacks = append(o.callbacks, cb)
}

// Run loads both tables and reconciles them.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "request", req, err)
	}
	if !o.running.TryLock() {
		return nil, errors.ReconciliationError(errors.CodeConcurrentRun, "reconcile", fmt.Errorf("a reconciliation pass is already running"))
	}
	defer o.running.Unlock()

	progress := &Progress{TotalSteps: 3, StartTime: time.Now()}
	op := logger.NewOperationLogger("orchestrated_reconcile", o.logger).
		WithField("table_a", req.TableA).
		WithField("table_b", req.TableB)

	// Step 1: load side A
	a, err := o.load(ctx, req.TableA)
	if err != nil {
		op.Error(err, "Failed to load side A")
		return nil, err
	}
	progress.LoadedA = len(a)
	o.advance(progress, "load "+req.TableA)

	// Step 2: load side B
	b, err := o.load(ctx, req.TableB)
	if err != nil {
		op.Error(err, "Failed to load side B")
		return nil, err
	}
	progress.LoadedB = len(b)
	o.advance(progress, "load "+req.TableB)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 3: reconcile
	result, err := o.reconciler.Compare(a, b, req.DateField, req.DateRange)
	if err != nil {
		op.Error(err, "Reconciliation failed")
		return nil, err
	}
	o.advance(progress, "reconcile")

	op.Success("Orchestrated reconciliation completed", logger.Fields{
		"loaded_a": progress.LoadedA,
		"loaded_b": progress.LoadedB,
	})
	return result, nil
}

func (o *Orchestrator) load(ctx context.Context, table string) ([]*models.Transaction, error) {
	txs, err := o.loader.LoadAll(ctx, table)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageFailure, "failed to load "+table)
	}
	return txs, nil
}

func (o *Orchestrator) advance(p *Progress, step string) {
	p.CompletedSteps++
	p.CurrentStep = step
	p.ElapsedTime = time.Since(p.StartTime)
	for _, cb := range o.callbacks {
		cb(p)
	}
}
