package service

import (
	"errors"
	"fmt"
)

var (
	ErrNoTransactions   = errors.New("no transactions found in file")
	ErrImportNotFound   = errors.New("import not found")
	ErrNoConfirmations  = errors.New("no confirmations supplied")
	ErrArchiveDisabled  = errors.New("upload archiving is disabled")
	ErrInvalidThreshold = errors.New("auto-confirm threshold must be between 0 and 100")
)

// Stage names a pipeline step.
type Stage string

const (
	StageDetect    Stage = "detect"
	StageParse     Stage = "parse"
	StageLayout    Stage = "layout"
	StageBank      Stage = "bank"
	StageNormalize Stage = "normalize"
	StageValidate  Stage = "validate"
	StageDedupe    Stage = "dedupe"
	StageAllocate  Stage = "allocate"
	StageJournal   Stage = "journal"
	StagePersist   Stage = "persist"
	StageArchive   Stage = "archive"
)

// PipelineError is a fatal failure at one stage. Nothing has been stored
// when it is returned from Upload.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// StageOf returns the failing stage of a pipeline error, or "".
func StageOf(err error) Stage {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}
