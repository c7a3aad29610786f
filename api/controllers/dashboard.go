package controllers

import (
	"net/http"

	"github.com/daniellecour/storefront-backend/api/responses"
	dashboardsvc "github.com/daniellecour/storefront-backend/internal/dashboard"
	"github.com/daniellecour/storefront-backend/pkg/logger"
)

// AdminDashboard returns the aggregated storefront figures.
func AdminDashboard(svc dashboardsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics, err := svc.Compute(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, metrics)
	}
}
