package httpapi

import (
	"errors"
	"net/http"

	"github.com/Tangerg/ragguard/internal/pipeline"
)

// kindToStatus maps a pipeline.Error's Kind to the HTTP status it should
// produce: one table, one mapping point, instead of scattering status
// codes across handlers.
var kindToStatus = map[pipeline.Kind]int{
	pipeline.KindRetrieval: http.StatusServiceUnavailable,
	pipeline.KindTimeout:   http.StatusGatewayTimeout,
}

// statusFor resolves the HTTP status for an error returned by the pipeline.
// Anything that isn't a *pipeline.Error is an unexpected internal failure.
func statusFor(err error) int {
	var perr *pipeline.Error
	if errors.As(err, &perr) {
		if status, ok := kindToStatus[perr.Kind]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}
