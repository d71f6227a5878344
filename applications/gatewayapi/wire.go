package gatewayapi

import (
	"encoding/json"
	"net/http"

	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
	"github.com/enclagent/gateway/infrastructure/logging"
)

var wireLog = logging.NewFromEnv("gatewayapi")

// writeJSON writes a 2xx JSON body.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		wireLog.WithError(err).Warn("write json response")
	}
}

// errorEnvelope is the fixed failure body: {error, error_code, operator_hint}.
type errorEnvelope struct {
	Error        string                  `json:"error"`
	ErrorCode    gatewayerrors.ErrorCode `json:"error_code"`
	OperatorHint string                  `json:"operator_hint,omitempty"`
	Details      map[string]interface{}  `json:"details,omitempty"`
}

// writeError converts err to the error taxonomy before it reaches the
// wire; anything unclassified becomes internal_error.
func writeError(w http.ResponseWriter, err error) {
	svcErr := gatewayerrors.GetServiceError(err)
	if svcErr == nil {
		svcErr = gatewayerrors.Internal("unhandled error", err)
	}
	writeJSON(w, svcErr.HTTPStatus, errorEnvelope{
		Error:        svcErr.Message,
		ErrorCode:    svcErr.Code,
		OperatorHint: svcErr.OperatorHint(),
		Details:      svcErr.Details,
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
