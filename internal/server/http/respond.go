package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/and161185/event-ledger/internal/auth"
	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/limiter"
)

const maxBody = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError hides the message of unexpected errors. A 401 caused by a
// rejected credential reports that credential's error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusUnauthorized {
		if cerr := auth.CredentialError(r.Context()); cerr != nil {
			err = cerr
		}
	}
	var blocked *limiter.BlockedError
	if errors.As(err, &blocked) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(blocked.RetryAfter.Seconds()))))
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

// decode reads a JSON body into dst and validates it. allowEmpty accepts a
// missing body as the zero value.
func decode(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	return nil
}

func uid(r *http.Request) string {
	id, _ := auth.UIDFromCtx(r.Context())
	return id
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
