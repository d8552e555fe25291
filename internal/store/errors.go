package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/JhanGutierrez/ventry/internal/model"
)

// classify converts a SQLite failure into a model storage error.
// Errors that are already *model.Error pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var me *model.Error
	if errors.As(err, &me) {
		return err
	}

	return model.NewStorageError(op, codeFor(err), err)
}

func codeFor(err error) model.ErrorCode {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return model.CodeIO
	}

	switch se.Code {
	case sqlite3.ErrFull:
		return model.CodeQuotaExceeded
	case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
		return model.CodeCorrupted
	case sqlite3.ErrConstraint:
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return model.CodeDuplicateKey
		}
	}
	return model.CodeIO
}
