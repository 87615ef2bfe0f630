package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"counterpos/backend/internal/checkout"
	"counterpos/backend/internal/domain"
	"counterpos/backend/internal/terminal"
)

type createTicketRequest struct {
	CustomerName string `json:"customerName"`
}

type addItemRequest struct {
	ItemID string `json:"itemId"`
}

type updateQuantityRequest struct {
	Delta int `json:"delta"`
}

func (a *API) engine(w http.ResponseWriter, r *http.Request) (*terminal.Engine, bool) {
	e, err := a.service.Terminal(r.Context(), chi.URLParam(r, "terminalID"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return e, true
}

func writeView(w http.ResponseWriter, view terminal.View, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	groups, err := a.service.ListCatalog(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups":  groups,
		"company": a.service.CompanyProfile(),
	})
}

func (a *API) handleRefreshCatalog(w http.ResponseWriter, r *http.Request) {
	if err := a.service.RefreshCatalog(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context(), r.URL.Query().Get("party_type"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.service.ActiveSessions(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleFindSale(w http.ResponseWriter, r *http.Request) {
	draft, err := a.service.FindSale(r.Context(), chi.URLParam(r, "billNumber"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (a *API) handleTerminalView(w http.ResponseWriter, r *http.Request) {
	e, ok := a.engine(w, r)
	if !ok {
		return
	}
	view, err := e.View()
	writeView(w, view, err)
}

func (a *API) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e, ok := a.engine(w, r)
	if !ok {
		return
	}
	view, err := e.CreateTicket(req.CustomerName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleSwitchTicket(w http.ResponseWriter, r *http.Request) {
	e, ok := a.engine(w, r)
	if !ok {
		return
	}
	view, err := e.SwitchTicket(chi.URLParam(r, "ticketID"))
	writeView(w, view, err)
}

func (a *API) handleRemoveTicket(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.RemoveTicket(r.Context(), chi.URLParam(r, "terminalID"), chi.URLParam(r, "ticketID"))
	writeView(w, view, err)
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e, ok := a.engine(w, r)
	if !ok {
		return
	}
	view, added, err := e.AddItem(req.ItemID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added, "view": view})
}

func (a *API) handleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req updateQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e, ok := a.engine(w, r)
	if !ok {
		return
	}
	view, err := e.UpdateQuantity(chi.URLParam(r, "lineID"), req.Delta)
	writeView(w, view, err)
}

func (a *API) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	e, ok := a.engine(w, r)
	if !ok {
		return
	}
	view, err := e.RemoveLine(chi.URLParam(r, "lineID"))
	writeView(w, view, err)
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	e, ok := a.engine(w, r)
	if !ok {
		return
	}
	view, err := e.ClearCart()
	writeView(w, view, err)
}

func (a *API) handleSetCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerBinding
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.BindCustomer(r.Context(), chi.URLParam(r, "terminalID"), req)
	writeView(w, view, err)
}

func (a *API) handleSetDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceDiscount
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e, ok := a.engine(w, r)
	if !ok {
		return
	}
	view, err := e.SetDiscount(req)
	writeView(w, view, err)
}

func (a *API) handleEnterPreview(w http.ResponseWriter, r *http.Request) {
	e, ok := a.engine(w, r)
	if !ok {
		return
	}
	view, err := e.EnterPreview()
	writeView(w, view, err)
}

func (a *API) handleProceedToPayment(w http.ResponseWriter, r *http.Request) {
	e, ok := a.engine(w, r)
	if !ok {
		return
	}
	view, err := e.ProceedToPayment()
	writeView(w, view, err)
}

func (a *API) handleCancelCheckout(w http.ResponseWriter, r *http.Request) {
	e, ok := a.engine(w, r)
	if !ok {
		return
	}
	view, err := e.CancelCheckout()
	writeView(w, view, err)
}

func (a *API) handleCompleteSale(w http.ResponseWriter, r *http.Request) {
	var req checkout.Payment
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.CompleteSale(r.Context(), chi.URLParam(r, "terminalID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}
