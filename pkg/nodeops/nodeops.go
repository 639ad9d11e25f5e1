// Package nodeops renames and removes child nodes of a tree store.
//
// The store has no transactions, so Rename runs as a saga: it checks both
// names, copies the value, reads the copy back and only then deletes the
// source. When a step fails after the copy may have landed, the copy is
// rolled back; if the rollback cannot be performed the caller receives a
// PartialRename error naming both paths.
//
// A PartialRename error also unwraps to the store error that stopped the
// saga, so check ErrPartialRename (or KindOf) before other sentinels.
package nodeops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ratio1/treestore_sdk_go/internal/logging"
	"github.com/Ratio1/treestore_sdk_go/internal/saga"
	"github.com/Ratio1/treestore_sdk_go/internal/treeapi"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore"
)

// Saga step names, reported in logs and PartialRenameError.
const (
	StepCopy         = "copy"
	StepVerify       = "verify"
	StepDeleteSource = "delete-source"
)

// Option configures Operations.
type Option func(*Operations)

// WithCompensation controls whether a failed rename removes the destination
// it already wrote. Enabled by default.
func WithCompensation(enabled bool) Option {
	return func(o *Operations) {
		o.compensate = enabled
	}
}

// WithLogger sets the logger for rename and removal events.
func WithLogger(l *slog.Logger) Option {
	return func(o *Operations) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStepTimeout bounds each rename step, on top of the client's per-call
// timeout.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Operations) {
		if d > 0 {
			o.stepTimeout = d
		}
	}
}

// Operations performs node-level changes through a treestore.Client.
type Operations struct {
	client      *treestore.Client
	compensate  bool
	stepTimeout time.Duration
	logger      *slog.Logger
}

// New returns Operations bound to client.
func New(client *treestore.Client, opts ...Option) *Operations {
	o := &Operations{
		client:      client,
		compensate:  true,
		stepTimeout: 30 * time.Second,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PartialRenameError describes a rename that stopped after the destination
// may have been written and could not be rolled back. Destination may hold a
// copy of Source; Source may or may not still exist.
type PartialRenameError struct {
	Source      string
	Destination string
	// Step is the step that failed.
	Step string
	Err  error
	// CompensationErr is set when the rollback was attempted and failed.
	CompensationErr error
}

func (e *PartialRenameError) Error() string {
	msg := fmt.Sprintf("rename %s -> %s stopped at %s: %v", e.Source, e.Destination, e.Step, e.Err)
	if e.CompensationErr != nil {
		msg += fmt.Sprintf(" (rollback failed: %v)", e.CompensationErr)
	}
	return msg
}

func (e *PartialRenameError) Unwrap() error { return e.Err }

// Rename moves the node parentPath/oldName to parentPath/newName.
//
// It fails with ErrSourceNotFound or ErrDestinationExists without touching
// the store. A later failure is reported with the store's error kind when
// the destination is known to be gone again, and as ErrPartialRename
// otherwise. A failed copy counts as possibly written: it is rolled back, or
// with compensation disabled, read back to confirm it is absent.
func (o *Operations) Rename(ctx context.Context, parentPath, oldName, newName string) error {
	if err := validateNames(oldName, newName); err != nil {
		return treestore.NewError("rename", treestore.KindInvalidArgument, parentPath, err)
	}
	src := treestore.Join(parentPath, oldName)
	dst := treestore.Join(parentPath, newName)

	source, err := o.client.Get(ctx, src)
	if err != nil {
		return err
	}
	if source == nil {
		return treestore.NewError("rename", treestore.KindSourceNotFound, src, nil)
	}
	existing, err := o.client.Get(ctx, dst)
	if err != nil {
		return err
	}
	if existing != nil {
		return treestore.NewError("rename", treestore.KindDestinationExists, dst, nil)
	}

	s := saga.New(saga.Config{
		StepTimeout:      o.stepTimeout,
		SkipCompensation: !o.compensate,
		Logger:           o.logger.With("op", "rename", "source", src, "destination", dst),
	})
	s.AddStep(saga.Step{
		Name: StepCopy,
		Execute: func(ctx context.Context) error {
			return o.client.PutRaw(ctx, dst, source.Value)
		},
		Compensate: func(ctx context.Context) error {
			return o.rollbackCopy(ctx, src, dst, source.Value)
		},
		InDoubtOnFailure: true,
	})
	s.AddStep(saga.Step{
		Name: StepVerify,
		Execute: func(ctx context.Context) error {
			return o.verify(ctx, dst, source.Value)
		},
	})
	s.AddStep(saga.Step{
		Name: StepDeleteSource,
		Execute: func(ctx context.Context) error {
			return o.client.Delete(ctx, src)
		},
	})

	result, err := s.Execute(ctx)
	if err == nil {
		o.logger.Info("node renamed", "source", src, "destination", dst, "duration", result.Duration)
		return nil
	}

	cause := err
	var stepErr *saga.StepError
	if errors.As(err, &stepErr) {
		cause = stepErr.Err
	}
	if result.Clean() || o.copyAbsent(result, dst) {
		return treestore.NewError("rename", kindOrUnavailable(cause), src, cause)
	}

	partial := &PartialRenameError{
		Source:      src,
		Destination: dst,
		Step:        result.FailedStep,
		Err:         cause,
	}
	if len(result.CompensationErrors) > 0 {
		partial.CompensationErr = result.CompensationErrors[0].Err
	}
	o.logger.Error("rename left a partial result", "source", src, "destination", dst, "step", partial.Step, "error", cause)
	return treestore.NewError("rename", treestore.KindPartialRename, dst, partial)
}

// copyAbsent reports whether a rename that failed at the copy step, with
// compensation disabled, provably wrote nothing.
func (o *Operations) copyAbsent(result *saga.Result, dst string) bool {
	if o.compensate || result.InDoubt != StepCopy || len(result.CompletedSteps) > 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.stepTimeout)
	defer cancel()
	node, err := o.client.Get(ctx, dst)
	if err != nil {
		o.logger.Warn("cannot confirm destination is absent", "destination", dst, "error", err)
		return false
	}
	return node == nil
}

// verify reads the destination back and compares it with the source value.
func (o *Operations) verify(ctx context.Context, dst string, want []byte) error {
	node, err := o.client.Get(ctx, dst)
	if err != nil {
		return err
	}
	if node == nil {
		return treestore.NewError("verify", treestore.KindStoreUnavailable, dst, errors.New("destination missing after write"))
	}
	equal, err := treeapi.SemanticEqual(want, node.Value)
	if err != nil {
		return treestore.NewError("verify", treestore.KindStoreUnavailable, dst, err)
	}
	if !equal {
		return treestore.NewError("verify", treestore.KindStoreUnavailable, dst, errors.New("destination content differs from source"))
	}
	return nil
}

// rollbackCopy deletes the destination, but only while the source still holds
// the original value. If the source delete may have landed, removing the
// destination would lose the node, so the rollback is refused instead.
func (o *Operations) rollbackCopy(ctx context.Context, src, dst string, want []byte) error {
	node, err := o.client.Get(ctx, src)
	if err != nil {
		return fmt.Errorf("check source before rollback: %w", err)
	}
	if node == nil {
		return errors.New("source is gone; keeping destination")
	}
	if equal, err := treeapi.SemanticEqual(want, node.Value); err != nil || !equal {
		return errors.New("source changed; keeping destination")
	}
	return o.client.Delete(ctx, dst)
}

// RemoveError reports a RemoveMany call that stopped early.
type RemoveError struct {
	// Removed lists the names deleted before the failure, in order.
	Removed []string
	// Remaining lists the names not deleted, starting with the failed one.
	Remaining []string
	Err       error
}

func (e *RemoveError) Error() string {
	return fmt.Sprintf("removed %d of %d nodes, stopped at %q: %v",
		len(e.Removed), len(e.Removed)+len(e.Remaining), e.Remaining[0], e.Err)
}

func (e *RemoveError) Unwrap() error { return e.Err }

// RemoveMany deletes parentPath/name for each name, in order. Absent nodes
// count as removed. It stops at the first store error and returns a
// *RemoveError describing which names were handled.
func (o *Operations) RemoveMany(ctx context.Context, parentPath string, names ...string) error {
	for _, name := range names {
		if err := treeapi.ValidateName(name); err != nil {
			return treestore.NewError("remove", treestore.KindInvalidArgument, parentPath, err)
		}
	}

	removed := make([]string, 0, len(names))
	for i, name := range names {
		path := treestore.Join(parentPath, name)
		if err := o.client.Delete(ctx, path); err != nil {
			o.logger.Warn("remove stopped", "path", path, "removed", len(removed), "error", err)
			return &RemoveError{
				Removed:   removed,
				Remaining: append([]string(nil), names[i:]...),
				Err:       err,
			}
		}
		o.logger.Debug("node removed", "path", path)
		removed = append(removed, name)
	}
	return nil
}

func validateNames(oldName, newName string) error {
	if err := treeapi.ValidateName(oldName); err != nil {
		return err
	}
	if err := treeapi.ValidateName(newName); err != nil {
		return err
	}
	if oldName == newName {
		return fmt.Errorf("old and new name are both %q", oldName)
	}
	return nil
}

func kindOrUnavailable(err error) treestore.Kind {
	if kind := treestore.KindOf(err); kind != 0 {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return treestore.KindTimeout
	}
	return treestore.KindStoreUnavailable
}
