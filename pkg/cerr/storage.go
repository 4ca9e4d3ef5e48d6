package cerr

import (
	"context"
	"errors"
	"fmt"

	"github.com/kazz187/taskflow/pkg/storage"
)

// Document names the kind of stored document a storage failure concerns.
type Document string

const (
	DocTask      Document = "task"
	DocRule      Document = "workflow rule"
	DocJob       Document = "job"
	DocActionLog Document = "action log"
)

type storageOp string

const (
	opRead   storageOp = "read"
	opWrite  storageOp = "write"
	opDelete storageOp = "delete"
	opList   storageOp = "list"
)

// StorageReadError reports a failed read of one document. A missing document
// is NotFound; any other backend failure is Unavailable and may be retried.
func StorageReadError(doc Document, id string, err error) error {
	return wrapStorage(opRead, doc, id, err)
}

func StorageWriteError(doc Document, id string, err error) error {
	return wrapStorage(opWrite, doc, id, err)
}

func StorageDeleteError(doc Document, id string, err error) error {
	return wrapStorage(opDelete, doc, id, err)
}

func StorageListError(doc Document, err error) error {
	return wrapStorage(opList, doc, "", err)
}

func wrapStorage(op storageOp, doc Document, id string, err error) error {
	target := string(doc)
	if id != "" {
		target = fmt.Sprintf("%s %s", doc, id)
	}
	cause := fmt.Errorf("%s %s: %w", op, target, err)

	switch {
	case errors.Is(err, storage.ErrNotFound) && (op == opRead || op == opDelete):
		return NewError(NotFound, fmt.Sprintf("%s not found", doc), cause).
			AddDetailMessage(fmt.Sprintf("%s does not exist", target))
	case errors.Is(err, context.Canceled):
		return NewError(Canceled, "request canceled", cause)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(DeadlineExceeded, fmt.Sprintf("%s storage timed out", doc), cause)
	default:
		return NewError(Unavailable, fmt.Sprintf("%s storage unavailable", doc), cause)
	}
}
