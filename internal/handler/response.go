package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"go-docspace/internal/model"
	"go-docspace/internal/storage"
	"go-docspace/pkg/apierror"
)

func writeSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var (
		apiErr      *apierror.APIError
		securityErr *model.SecurityError
		quotaErr    *model.QuotaExceededError
		formatErr   *model.FormatError
	)
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	case errors.Is(err, model.ErrTaskNotFound):
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "Task not found"
	case errors.Is(err, model.ErrTooManyDownloads):
		status = http.StatusTooManyRequests
		body.Code = "TOO_MANY_DOWNLOADS"
		body.Message = "A download is already being prepared"
	case errors.As(err, &formatErr):
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Invalid entry id"
		body.Details = formatErr.Value
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, storage.ErrInvalidKey):
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Invalid input"
		body.Details = err.Error()
	case errors.As(err, &securityErr):
		status = http.StatusForbidden
		body.Code = "FORBIDDEN"
		body.Message = "Access denied"
		body.Details = securityErr.Title
	case errors.Is(err, model.ErrForbidden), errors.Is(err, model.ErrSystemFolder):
		status = http.StatusForbidden
		body.Code = "FORBIDDEN"
		body.Message = "Access denied"
	case errors.Is(err, model.ErrUnauthorized):
		status = http.StatusUnauthorized
		body.Code = "UNAUTHORIZED"
		body.Message = "Authentication required"
	case errors.Is(err, model.ErrFileNotFound),
		errors.Is(err, model.ErrFolderNotFound),
		errors.Is(err, model.ErrLinkNotFound):
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = err.Error()
	case errors.Is(err, storage.ErrObjectNotFound), errors.Is(err, os.ErrNotExist):
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "Download not found"
	case errors.Is(err, model.ErrLockedFile), errors.Is(err, model.ErrEditingConflict):
		status = http.StatusConflict
		body.Code = "CONFLICT"
		body.Message = err.Error()
	case errors.As(err, &quotaErr):
		status = http.StatusRequestEntityTooLarge
		body.Code = "QUOTA_EXCEEDED"
		body.Message = quotaErr.Error()
	case errors.Is(err, model.ErrRoomsQuota):
		status = http.StatusForbidden
		body.Code = "QUOTA_EXCEEDED"
		body.Message = "Rooms quota exceeded"
	case model.IsCancellation(err):
		status = http.StatusServiceUnavailable
		body.Code = "CANCELLED"
		body.Message = "Request cancelled"
	default:
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}
