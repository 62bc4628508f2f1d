package controllers

import (
	"net/http"
	"strconv"

	"bankcards/services"
)

// CardController обрабатывает запросы, связанные с картами
type CardController struct {
	cards    *services.CardService
	validate *requestValidator
}

// NewCardController создает новый экземпляр CardController
func NewCardController(cards *services.CardService) *CardController {
	return &CardController{
		cards:    cards,
		validate: newRequestValidator(),
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

// CreateCard выпускает карту вызывающему
func (c *CardController) CreateCard(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	c.createFor(w, r, caller, caller.UserID)
}

// CreateCardForUser выпускает карту пользователю из параметра userId (администратор)
func (c *CardController) CreateCardForUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	ownerID, err := strconv.ParseUint(r.URL.Query().Get("userId"), 10, 64)
	if err != nil || ownerID == 0 {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	c.createFor(w, r, caller, uint(ownerID))
}

func (c *CardController) createFor(w http.ResponseWriter, r *http.Request, caller services.Caller, ownerID uint) {
	var req services.CardCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	if err := c.validate.Struct(req); err != nil {
		handleError(w, r, err)
		return
	}

	card, err := c.cards.CreateCard(r.Context(), caller, ownerID, req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

// ListCards возвращает страницу карт. Для пользователя только его карты.
func (c *CardController) ListCards(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	page, err := pagination(r)
	if err != nil {
		handleError(w, r, err)
		return
	}

	query := services.CardQuery{
		Status:       r.URL.Query().Get("status"),
		MaskedNumber: r.URL.Query().Get("maskedNumber"),
		Pagination:   page,
	}
	if raw := r.URL.Query().Get("ownerId"); raw != "" {
		ownerID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "ownerId must be a number")
			return
		}
		id := uint(ownerID)
		query.OwnerID = &id
	}

	cards, err := c.cards.ListCards(r.Context(), caller, query)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

// GetCard возвращает карту по id
func (c *CardController) GetCard(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}

	card, err := c.cards.GetCard(r.Context(), caller, id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// UpdateStatus меняет статус карты. Статус берется из ?status= или из тела запроса.
func (c *CardController) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" && r.ContentLength != 0 {
		var req statusRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, err)
			return
		}
		status = req.Status
	}
	if status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	card, err := c.cards.UpdateStatus(r.Context(), caller, id, status)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// DeleteCard удаляет карту
func (c *CardController) DeleteCard(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}

	if err := c.cards.DeleteCard(r.Context(), caller, id); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
