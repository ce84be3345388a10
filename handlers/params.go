// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/danielhkuo/verivote/apperr"
	"github.com/danielhkuo/verivote/auth"
	"github.com/danielhkuo/verivote/middleware"
)

// AdminKeyHeader carries the admin key of a draft.
const AdminKeyHeader = "X-Admin-Key"

// pathID parses the {id} path value. It writes the error response and
// reports false when the id is not a positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteError(w, apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "id must be a positive integer"))
		return 0, false
	}
	return id, true
}

// requireAdmin checks the admin key header against the draft id.
func requireAdmin(w http.ResponseWriter, r *http.Request, draftID int64, salt string) bool {
	if err := auth.ValidateAdminKey(draftID, r.Header.Get(AdminKeyHeader), salt); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "invalid_admin_key", "Invalid admin key")
		return false
	}
	return true
}
