/*
errors.go - HTTP status mapping for wallet errors

PURPOSE:
  Translates the wallet error taxonomy into HTTP responses. Every handler
  reports failures through writeServiceError or writeResult so the mapping
  lives in one place.

STATUS MAPPING:
  VALIDATION_ERROR          400
  FORBIDDEN                 403
  NOT_FOUND                 404
  ALREADY_DECIDED           409
  INVALID_STATE_TRANSITION  409
  INSUFFICIENT_APPROVERS    422
  INSUFFICIENT_BALANCE      422
  INTERNAL                  500

SEE ALSO:
  - wallet/errors.go: Sentinels and CodeOf
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/warp/municipal-wallet/wallet"
)

func statusFor(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case wallet.CodeValidation:
		return http.StatusBadRequest
	case wallet.CodeForbidden:
		return http.StatusForbidden
	case wallet.CodeNotFound:
		return http.StatusNotFound
	case wallet.CodeAlreadyDecided, wallet.CodeInvalidTransition:
		return http.StatusConflict
	case wallet.CodeInsufficientApprovers, wallet.CodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeServiceError maps err through the taxonomy. Internal details are
// logged, never returned.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := wallet.CodeOf(err)
	if code == wallet.CodeInternal {
		h.logRequestError(r, err)
		writeError(w, http.StatusInternalServerError, code, wallet.ErrInternal.Error())
		return
	}
	writeError(w, statusFor(code), code, err.Error())
}

// writeResult answers a workflow operation. Refusals carry the same body
// shape as successes with success=false.
func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, okStatus int, res *wallet.Result, err error) {
	if res == nil {
		if err == nil {
			err = wallet.ErrInternal
		}
		h.writeServiceError(w, r, err)
		return
	}
	if err != nil {
		if res.Code == wallet.CodeInternal {
			h.logRequestError(r, err)
		}
		writeJSON(w, statusFor(res.Code), toResultDTO(res))
		return
	}
	writeJSON(w, okStatus, toResultDTO(res))
}
