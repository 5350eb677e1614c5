package metadata

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/metastore/internal/codec"
	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/model"
	"github.com/devrev/pairdb/metastore/internal/store"
)

// Scale records an epoch transition that seals the given segments and
// replaces them with segments over newRanges. The new ranges must cover the
// sealed ranges exactly.
//
// The transition is recorded under CAS before the entity enters SCALING, so
// only one scale runs at a time. Calling Scale again with the same input
// resumes or confirms that scale; any other request fails with IllegalState
// until it completes.
func (e *Entity) Scale(ctx context.Context, sealed []int64, newRanges []model.KeyRange, scaleTime int64) (model.EpochRecord, error) {
	if err := validateScaleInput(sealed, newRanges); err != nil {
		return model.EpochRecord{}, err
	}

	table, err := e.table(ctx)
	if err != nil {
		return model.EpochRecord{}, err
	}
	// state is read before the transition: SCALING next to an empty
	// transition then means the scale completed
	state, err := e.GetVersionedState(ctx)
	if err != nil {
		return model.EpochRecord{}, err
	}
	transition, err := e.GetEpochTransition(ctx)
	if err != nil {
		return model.EpochRecord{}, err
	}
	active, err := e.GetActiveEpoch(ctx, true)
	if err != nil {
		return model.EpochRecord{}, err
	}

	if transition.Object.IsEmpty() {
		return e.startScale(ctx, table, state, transition, active, sealed, newRanges, scaleTime)
	}
	if !transition.Object.Matches(sealed, newRanges) {
		return model.EpochRecord{}, e.scaleInProgress(transition.Object)
	}
	return e.resumeScale(ctx, table, state, transition, active)
}

func validateScaleInput(sealed []int64, newRanges []model.KeyRange) error {
	if len(sealed) == 0 || len(newRanges) == 0 {
		return metaerrors.InvalidArgument("scale needs sealed segments and new ranges", nil)
	}
	seen := make(map[int64]bool, len(sealed))
	for _, id := range sealed {
		if seen[id] {
			return metaerrors.InvalidArgument(fmt.Sprintf("segment %d is listed more than once", id), nil)
		}
		seen[id] = true
	}
	for _, r := range newRanges {
		if err := r.Validate(); err != nil {
			return metaerrors.InvalidArgument("invalid key range", err)
		}
	}
	return nil
}

// startScale records a new transition and applies it
func (e *Entity) startScale(
	ctx context.Context,
	table string,
	state store.Versioned[model.State],
	transition store.Versioned[model.EpochTransitionRecord],
	active model.EpochRecord,
	sealed []int64,
	newRanges []model.KeyRange,
	scaleTime int64,
) (model.EpochRecord, error) {
	var err error
	switch state.Object {
	case model.StateActive:
	case model.StateScaling:
		// the last scale completed but its final state write was lost
		if state, err = e.UpdateVersionedState(ctx, state, model.StateActive); err != nil {
			return model.EpochRecord{}, err
		}
	default:
		return model.EpochRecord{}, metaerrors.IllegalState(e.ScopedName(), state.Object.String())
	}

	done, err := e.completedScale(ctx, table, active, sealed, newRanges)
	if err != nil {
		return model.EpochRecord{}, err
	}
	if done {
		return active, nil
	}

	next, err := e.planScale(active, sealed, newRanges, scaleTime)
	if err != nil {
		return model.EpochRecord{}, err
	}
	if transition, err = e.updateEpochTransition(ctx, table, transition, transitionFor(active, next)); err != nil {
		return model.EpochRecord{}, fmt.Errorf("failed to record epoch transition: %w", err)
	}
	if state, err = e.enterScaling(ctx, table, state, transition); err != nil {
		return model.EpochRecord{}, err
	}
	return e.completeScale(ctx, table, state, transition, active)
}

// resumeScale finishes a recorded transition on behalf of the same request
func (e *Entity) resumeScale(
	ctx context.Context,
	table string,
	state store.Versioned[model.State],
	transition store.Versioned[model.EpochTransitionRecord],
	active model.EpochRecord,
) (model.EpochRecord, error) {
	t := transition.Object
	if active.Epoch != t.ActiveEpoch && active.Epoch != t.NewEpoch() {
		return model.EpochRecord{}, metaerrors.IllegalState(e.ScopedName(), state.Object.String()).
			WithDetail("active_epoch", active.Epoch).
			WithDetail("pending_epoch", t.NewEpoch())
	}

	var err error
	switch state.Object {
	case model.StateScaling:
	case model.StateActive:
		// the transition was recorded but the state never moved
		if state, err = e.enterScaling(ctx, table, state, transition); err != nil {
			return model.EpochRecord{}, err
		}
	default:
		return model.EpochRecord{}, metaerrors.IllegalState(e.ScopedName(), state.Object.String())
	}
	return e.completeScale(ctx, table, state, transition, active)
}

// enterScaling moves ACTIVE to SCALING for a recorded transition. If the
// state cannot move, the transition is withdrawn so it does not block later
// scales.
func (e *Entity) enterScaling(
	ctx context.Context,
	table string,
	state store.Versioned[model.State],
	transition store.Versioned[model.EpochTransitionRecord],
) (store.Versioned[model.State], error) {
	for {
		scaling, err := e.UpdateVersionedState(ctx, state, model.StateScaling)
		if err == nil {
			return scaling, nil
		}
		if metaerrors.IsConcurrentModification(err) && ctx.Err() == nil {
			current, rerr := e.GetVersionedState(ctx)
			switch {
			case rerr != nil:
				err = rerr
			case current.Object == model.StateActive:
				state = current
				continue
			default:
				err = metaerrors.IllegalState(e.ScopedName(), current.Object.String())
			}
		}

		if _, werr := e.updateEpochTransition(ctx, table, transition, model.EmptyEpochTransition); werr != nil {
			e.logger.Warn("Failed to withdraw epoch transition",
				zap.Int32("epoch", transition.Object.NewEpoch()),
				zap.Error(werr))
		}
		return state, err
	}
}

// completeScale applies the transition if the active epoch has not moved yet,
// clears it, and returns the entity to ACTIVE
func (e *Entity) completeScale(
	ctx context.Context,
	table string,
	state store.Versioned[model.State],
	transition store.Versioned[model.EpochTransitionRecord],
	active model.EpochRecord,
) (model.EpochRecord, error) {
	t := transition.Object
	next := active
	if active.Epoch == t.ActiveEpoch {
		next = applyDelta(active, historyRecordFor(t))
		if err := e.applyScale(ctx, table, t, next); err != nil {
			return model.EpochRecord{}, err
		}
	}
	if err := e.resetEpochTransition(ctx, table, transition); err != nil {
		return model.EpochRecord{}, fmt.Errorf("failed to reset epoch transition: %w", err)
	}
	if err := e.finishScaling(ctx, state); err != nil {
		return model.EpochRecord{}, err
	}

	e.logger.Info("Entity scaled",
		zap.Int32("epoch", next.Epoch),
		zap.Int("sealed", len(t.SegmentsToSeal)),
		zap.Int("created", len(t.NewSegments)))
	return next, nil
}

// applyScale writes the new epoch: the snapshot of an anchor epoch, the
// history record and the current-epoch pointer
func (e *Entity) applyScale(ctx context.Context, table string, t model.EpochTransitionRecord, next model.EpochRecord) error {
	record := historyRecordFor(t)
	if e.isAnchor(record) {
		if err := e.storeEpochSnapshot(ctx, table, next); err != nil {
			return err
		}
	}
	if err := e.appendHistoryRecord(ctx, table, record); err != nil {
		return err
	}
	stored, err := e.historyRecord(ctx, table, next.Epoch)
	if err != nil {
		return err
	}
	if !sameIDs(stored.SegmentsSealed, record.SegmentsSealed) {
		return e.lostScale(next.Epoch)
	}
	if err := e.advanceActiveEpoch(ctx, table, next); err != nil {
		return fmt.Errorf("failed to advance active epoch: %w", err)
	}
	return nil
}

// finishScaling moves SCALING back to ACTIVE. A conflict means another
// caller already finished the state move for this scale.
func (e *Entity) finishScaling(ctx context.Context, state store.Versioned[model.State]) error {
	for {
		_, err := e.UpdateVersionedState(ctx, state, model.StateActive)
		if !metaerrors.IsConcurrentModification(err) {
			return err
		}
		if state, err = e.GetVersionedState(ctx); err != nil {
			return err
		}
		if state.Object != model.StateScaling {
			return nil
		}
		transition, err := e.GetEpochTransition(ctx)
		if err != nil {
			return err
		}
		if !transition.Object.IsEmpty() {
			// the next scale has already started
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// completedScale reports whether the request is the scale that produced the active epoch
func (e *Entity) completedScale(ctx context.Context, table string, active model.EpochRecord, sealed []int64, newRanges []model.KeyRange) (bool, error) {
	if active.Epoch == 0 {
		return false, nil
	}
	for _, id := range sealed {
		if active.ContainsSegment(id) {
			return false, nil
		}
	}
	last, err := e.historyRecord(ctx, table, active.Epoch)
	if err != nil {
		return false, err
	}
	return model.SameScale(last.SegmentsSealed, last.SegmentsCreated, sealed, newRanges), nil
}

func (e *Entity) scaleInProgress(t model.EpochTransitionRecord) error {
	return metaerrors.IllegalState(e.ScopedName(), model.StateScaling.String()).
		WithDetail("pending_epoch", t.NewEpoch())
}

// storeEpochSnapshot writes the full record of an anchor epoch and checks that
// an existing snapshot describes the same segments
func (e *Entity) storeEpochSnapshot(ctx context.Context, table string, next model.EpochRecord) error {
	created, err := e.helper.AddNewEntryIfAbsent(ctx, table, epochRecordKey(next.Epoch), codec.EncodeEpochRecord(next))
	if err != nil {
		return fmt.Errorf("failed to store epoch %d: %w", next.Epoch, err)
	}
	if created {
		return nil
	}
	existing, err := e.getEpochSnapshot(ctx, table, next.Epoch)
	if err != nil {
		return err
	}
	if !sameIDs(existing.SegmentIDs(), next.SegmentIDs()) {
		return e.lostScale(next.Epoch)
	}
	return nil
}

func (e *Entity) lostScale(epoch int32) error {
	return metaerrors.IllegalState(e.ScopedName(), model.StateScaling.String()).
		WithDetail("conflicting_epoch", epoch)
}

// planScale validates the request against the active epoch and builds the next epoch
func (e *Entity) planScale(active model.EpochRecord, sealed []int64, newRanges []model.KeyRange, scaleTime int64) (model.EpochRecord, error) {
	for _, id := range sealed {
		if !active.ContainsSegment(id) {
			return model.EpochRecord{}, metaerrors.InvalidArgument(
				fmt.Sprintf("segment %d is not active in epoch %d", id, active.Epoch), nil)
		}
	}

	// scale times are strictly increasing so the epoch-time index stays ordered
	if scaleTime <= active.CreationTime {
		scaleTime = active.CreationTime + 1
	}

	ranges := model.SortedKeyRanges(newRanges)

	epoch := active.Epoch + 1
	nextNumber := active.MaxSegmentNumber() + 1
	record := model.HistoryTimeSeriesRecord{
		Epoch:          epoch,
		ReferenceEpoch: epoch,
		SegmentsSealed: sealed,
		ScaleTime:      scaleTime,
	}
	for i, r := range ranges {
		record.SegmentsCreated = append(record.SegmentsCreated, model.SegmentRecord{
			SegmentNumber: nextNumber + int32(i),
			CreationEpoch: epoch,
			CreationTime:  scaleTime,
			KeyStart:      r.Start,
			KeyEnd:        r.End,
		})
	}

	next := applyDelta(active, record)
	// with the rest of the epoch unchanged, a full partition means the new
	// ranges cover the sealed ranges exactly
	if err := next.ValidateKeySpace(); err != nil {
		return model.EpochRecord{}, metaerrors.InvalidArgument("new ranges do not replace the sealed ranges", err)
	}
	return next, nil
}

func (e *Entity) historyRecord(ctx context.Context, table string, epoch int32) (model.HistoryTimeSeriesRecord, error) {
	chunk, err := e.getHistoryChunk(ctx, table, e.chunkOf(epoch), false)
	if err != nil {
		return model.HistoryTimeSeriesRecord{}, err
	}
	for _, r := range chunk.Object.Records {
		if r.Epoch == epoch {
			return r, nil
		}
	}
	return model.HistoryTimeSeriesRecord{}, metaerrors.NotFound(table, historyChunkKey(e.chunkOf(epoch)))
}

// Seal moves the entity through SEALING to SEALED. Sealing a sealed entity is a no-op.
func (e *Entity) Seal(ctx context.Context) error {
	state, err := e.GetVersionedState(ctx)
	if err != nil {
		return err
	}
	switch state.Object {
	case model.StateSealed:
		return nil
	case model.StateActive:
		if state, err = e.UpdateVersionedState(ctx, state, model.StateSealing); err != nil {
			return err
		}
	case model.StateSealing:
	default:
		return metaerrors.OperationNotAllowed(e.ScopedName(), state.Object.String(), model.StateSealing.String())
	}
	if _, err := e.UpdateVersionedState(ctx, state, model.StateSealed); err != nil {
		return err
	}
	e.logger.Info("Entity sealed")
	return nil
}

// GetScaleMetadata summarizes every epoch created within [from, to], with the
// number of splits and merges relative to the previous epoch
func (e *Entity) GetScaleMetadata(ctx context.Context, from, to int64) ([]model.ScaleMetadata, error) {
	if from > to {
		return nil, metaerrors.InvalidArgument(fmt.Sprintf("invalid time range [%d, %d]", from, to), nil)
	}
	start, err := e.FindEpochAtTime(ctx, from)
	if err != nil {
		return nil, err
	}
	end, err := e.FindEpochAtTime(ctx, to)
	if err != nil {
		return nil, err
	}
	if start > 0 {
		start--
	}

	epochs, err := e.GetEpochsInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	var result []model.ScaleMetadata
	for i, epoch := range epochs {
		if epoch.CreationTime < from || epoch.CreationTime > to {
			continue
		}
		md := model.ScaleMetadata{Timestamp: epoch.CreationTime, Segments: epoch.Segments}
		if i > 0 {
			md.Splits, md.Merges = splitsAndMerges(epochs[i-1], epoch)
		}
		result = append(result, md)
	}
	return result, nil
}

// splitsAndMerges counts sealed segments replaced by more than one segment and
// new segments that replace more than one sealed segment
func splitsAndMerges(prev, next model.EpochRecord) (splits, merges int64) {
	sealed := sealedRecords(prev, next)
	created := createdSegments(prev, next)
	for _, s := range sealed {
		if overlapCount(s, created) > 1 {
			splits++
		}
	}
	for _, c := range created {
		if overlapCount(c, sealed) > 1 {
			merges++
		}
	}
	return splits, merges
}

func overlapCount(s model.SegmentRecord, others []model.SegmentRecord) int {
	n := 0
	for _, o := range others {
		if s.Overlaps(o) {
			n++
		}
	}
	return n
}

func createdSegments(prev, next model.EpochRecord) []model.SegmentRecord {
	var created []model.SegmentRecord
	for _, s := range next.Segments {
		if !prev.ContainsSegment(s.SegmentID()) {
			created = append(created, s)
		}
	}
	return created
}

func sealedRecords(prev, next model.EpochRecord) []model.SegmentRecord {
	var sealed []model.SegmentRecord
	for _, s := range prev.Segments {
		if !next.ContainsSegment(s.SegmentID()) {
			sealed = append(sealed, s)
		}
	}
	return sealed
}

func sealedSegments(prev, next model.EpochRecord) []int64 {
	records := sealedRecords(prev, next)
	ids := make([]int64, len(records))
	for i, s := range records {
		ids[i] = s.SegmentID()
	}
	return ids
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[int64]int, len(a))
	for _, id := range a {
		set[id]++
	}
	for _, id := range b {
		if set[id] == 0 {
			return false
		}
		set[id]--
	}
	return true
}
