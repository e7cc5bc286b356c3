package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/levels"
	"github.com/mohammed-shakir/terrain-contours/internal/mosaic"
	"github.com/mohammed-shakir/terrain-contours/internal/raster"
	"github.com/mohammed-shakir/terrain-contours/internal/tiles"
)

const (
	StageValidate = "validate"
	StageZoom     = "zoom"
	StageResolve  = "resolve"
	StageAssemble = "assemble"
	StageCrop     = "crop"
	StagePlan     = "plan"
	StageOverlay  = "overlay"
)

// Render failure kinds.
const (
	KindInvalidBBox       = "invalid_bounding_box"
	KindInvalidParameters = "invalid_parameters"
	KindNoTilesFound      = "no_tiles_found"
	KindTooManyTiles      = "too_many_tiles"
	KindEmptyCrop         = "empty_crop"
	KindMosaicEmpty       = "mosaic_empty"
	KindNoFiniteElevation = "no_finite_elevation"
	KindTooManyLevels     = "too_many_levels"
	KindCanceled          = "canceled"
	KindTimeout           = "timeout"
	KindInternal          = "internal"

	// warning only; the render still succeeds
	KindOverlaySourceFailure = "overlay_source_failure"
)

var ErrInvalidParameters = errors.New("invalid parameters")

// StageError reports which pipeline stage failed and why.
type StageError struct {
	Stage string
	Kind  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// KindOf returns the failure kind carried by err, or KindInternal.
func KindOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

func stageErr(ctx context.Context, stage string, err error) *StageError {
	return &StageError{Stage: stage, Kind: classify(ctx, err), Err: err}
}

func classify(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidBoundingBox):
		return KindInvalidBBox
	case errors.Is(err, ErrInvalidParameters):
		return KindInvalidParameters
	case errors.Is(err, tiles.ErrNoTilesFound):
		return KindNoTilesFound
	case errors.Is(err, tiles.ErrTooManyTiles):
		return KindTooManyTiles
	case errors.Is(err, raster.ErrEmptyCrop):
		return KindEmptyCrop
	case errors.Is(err, levels.ErrNoFiniteElevation):
		return KindNoFiniteElevation
	case errors.Is(err, levels.ErrTooManyLevels):
		return KindTooManyLevels
	}
	// a cancelled request empties the mosaic too; report the cause
	if cerr := ctx.Err(); cerr != nil {
		if errors.Is(cerr, context.DeadlineExceeded) {
			return KindTimeout
		}
		return KindCanceled
	}
	if errors.Is(err, mosaic.ErrMosaicEmpty) {
		return KindMosaicEmpty
	}
	return KindInternal
}
