package controllers

import (
	"net/http"

	"bankcards/services"

	"github.com/google/uuid"
)

// TransferController обрабатывает переводы между картами
type TransferController struct {
	transfers *services.TransferService
	validate  *requestValidator
}

func NewTransferController(transfers *services.TransferService) *TransferController {
	return &TransferController{
		transfers: transfers,
		validate:  newRequestValidator(),
	}
}

// Transfer выполняет перевод между своими картами
func (c *TransferController) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req services.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	if err := c.validate.Struct(req); err != nil {
		handleError(w, r, err)
		return
	}

	transfer, err := c.transfers.Transfer(r.Context(), caller, req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

// ListTransfers возвращает историю переводов, ?cardId= ограничивает одной картой
func (c *TransferController) ListTransfers(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	page, err := pagination(r)
	if err != nil {
		handleError(w, r, err)
		return
	}

	query := services.TransferQuery{Pagination: page}
	if raw := r.URL.Query().Get("cardId"); raw != "" {
		cardID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid cardId")
			return
		}
		query.CardID = &cardID
	}

	transfers, err := c.transfers.ListTransfers(r.Context(), caller, query)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

func (c *TransferController) GetTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}

	transfer, err := c.transfers.GetTransfer(r.Context(), caller, id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}
