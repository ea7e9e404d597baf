package planner

import (
	"errors"

	"github.com/flor3z/ct-planner-bot/internal/capture"
)

// Validation errors. They are shown to the user and never retried.
var (
	ErrNotPlanner     = errors.New("channel is not a planner")
	ErrAlreadyPlanner = errors.New("channel is already a planner")
	ErrTileNotTracked = errors.New("tile is not tracked by this planner")
	ErrAlreadyClaimed = errors.New("tile is already claimed by someone else")
	ErrClaimLimit     = errors.New("claim limit reached")
	ErrInvalidTile    = capture.ErrInvalidTile
	ErrEditTooEarly   = errors.New("no capture to edit after the planner's floor")
)
