package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ayo6706/custody-ledger/internal/api/middleware"
	"github.com/ayo6706/custody-ledger/internal/api/problem"
	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

var validate = validator.New()

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// decodeBody reads a JSON body into dst and runs its validate tags.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field %s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
		}
		return err
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func optionalUUID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// requestActor returns the operator id recorded in audit entries.
func requestActor(r *http.Request) (*uuid.UUID, error) {
	operatorID := middleware.OperatorIDFromContext(r.Context())
	if operatorID == "" {
		return nil, errors.New("missing operator in auth context")
	}
	actorID, err := uuid.Parse(operatorID)
	if err != nil {
		return nil, errors.New("invalid operator_id in auth context")
	}
	return &actorID, nil
}

type errorMapping struct {
	target      error
	status      int
	problemType string
}

var serviceErrors = []errorMapping{
	{domain.ErrWalletNotFound, http.StatusNotFound, "wallet/not-found"},
	{domain.ErrWithdrawNotFound, http.StatusNotFound, "withdraw/not-found"},
	{domain.ErrDepositAddressNotFound, http.StatusNotFound, "deposit/address-not-found"},
	{repository.ErrNotFound, http.StatusNotFound, "resource/not-found"},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "ledger/insufficient-balance"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "ledger/invalid-amount"},
	{domain.ErrInvalidTransfer, http.StatusBadRequest, "ledger/invalid-transfer"},
	{domain.ErrCurrencyMismatch, http.StatusBadRequest, "ledger/currency-mismatch"},
	{domain.ErrUnknownCurrency, http.StatusBadRequest, "catalog/unknown-currency"},
	{domain.ErrUnknownNetwork, http.StatusBadRequest, "catalog/unknown-network"},
	{domain.ErrInvalidDestination, http.StatusBadRequest, "withdraw/invalid-destination"},
	{domain.ErrInvalidVerificationCode, http.StatusBadRequest, "withdraw/invalid-verification-code"},
	{domain.ErrUnsupportedSettlementMethod, http.StatusBadRequest, "settlement/unsupported-method"},
	{domain.ErrWalletInactive, http.StatusConflict, "wallet/inactive"},
	{domain.ErrDuplicateReference, http.StatusConflict, "ledger/duplicate-reference"},
	{domain.ErrNotCancelable, http.StatusConflict, "withdraw/not-cancelable"},
	{domain.ErrNotDispatchable, http.StatusConflict, "withdraw/not-dispatchable"},
	{domain.ErrOutsideDispatchWindow, http.StatusConflict, "withdraw/outside-dispatch-window"},
	{domain.ErrAlreadySettled, http.StatusConflict, "withdraw/already-settled"},
	{domain.ErrInternalTransfer, http.StatusConflict, "withdraw/internal-transfer"},
	{domain.ErrRequestLimitExceeded, http.StatusTooManyRequests, "withdraw/request-limit-exceeded"},
	{domain.ErrInvalidSignature, http.StatusUnauthorized, "settlement/invalid-signature"},
	{domain.ErrInvalidCallback, http.StatusBadRequest, "settlement/invalid-callback"},
	{domain.ErrExternalQueryFailed, http.StatusBadGateway, "upstream/unavailable"},
}

// respondServiceError maps a service error to a problem document. Unknown
// errors are logged and answered with 500.
func respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.target) {
			RespondError(w, r, m.status, m.problemType, err.Error())
			return
		}
	}
	if status, pType, msg, ok := mapDBError(err); ok {
		RespondError(w, r, status, pType, msg)
		return
	}
	zap.L().Error(op+" failed", zap.Error(err), zap.String("path", r.URL.Path))
	RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
