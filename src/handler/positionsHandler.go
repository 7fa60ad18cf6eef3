package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"newstrader/src/model"
)

type positionReader interface {
	Account(id string) (model.Account, bool)
	Positions(accountID string) []model.Position
}

func PositionsHandler(reg positionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := reg.Account(id); !ok {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		positions := reg.Positions(id)
		if positions == nil {
			positions = []model.Position{}
		}
		writeJSON(w, http.StatusOK, positions)
	}
}
