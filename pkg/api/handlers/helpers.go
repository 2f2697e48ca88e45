package handlers

import (
	"net/http"

	"github.com/wtsi-hgi/irobot/pkg/api"
	"github.com/wtsi-hgi/irobot/pkg/precache/model"
)

// writeError projects a precache error onto its fixed HTTP status and a
// JSON error body. Any error that isn't a *model.PrecacheError is treated
// as an internal failure (500), per the design note that every typed
// error return gets its HTTP projection applied exactly once, here.
func writeError(w http.ResponseWriter, err error) {
	if pe, ok := model.AsPrecacheError(err); ok {
		api.JSON(w, pe.Code.HTTPStatus(), api.ErrorResponse(pe.Error()))
		return
	}
	api.JSON(w, http.StatusInternalServerError, api.ErrorResponse(err.Error()))
}
