// Maps domain errors to API errors.

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Abd0M0hamed/jsdb/internal/jsondb"
	"github.com/Abd0M0hamed/jsdb/internal/query"
	"github.com/Abd0M0hamed/jsdb/internal/server/dto"
)

var errNotAllowed = dto.Forbidden(dto.ErrorCodeForbidden, "Basic commands are disabled")

// ToAPIError returns err as a dto.ErrorWithStatus, classifying errors from
// the query and storage layers.
func ToAPIError(err error) dto.ErrorWithStatus {
	var ews dto.ErrorWithStatus
	if errors.As(err, &ews) {
		return ews
	}
	switch {
	case errors.Is(err, query.ErrProtectedTable):
		return dto.Forbidden(dto.ErrorCodeProtectedTable, err.Error())
	case errors.Is(err, query.ErrInvalidClause):
		return dto.BadRequest(dto.ErrorCodeInvalidClause, err.Error())
	case errors.Is(err, query.ErrInvalidOperator):
		return dto.BadRequest(dto.ErrorCodeInvalidOperator, err.Error())
	case errors.Is(err, jsondb.ErrIO), errors.Is(err, jsondb.ErrFormat):
		return dto.StorageError(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dto.NewAPIError(http.StatusServiceUnavailable, dto.ErrorCodeInternal, "Request cancelled").Wrap(err)
	default:
		return dto.InternalWithError("Internal error", err)
	}
}
