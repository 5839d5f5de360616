package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"singalong/internal/device"
	"singalong/internal/directory"
	"singalong/pkg/models"
)

// accountView is an account as the admin panel lists it
type accountView struct {
	models.Account
	Online bool `json:"online"`
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	filter := directory.Filter(r.URL.Query().Get("filter"))
	if filter == "" {
		filter = directory.FilterAll
	}
	now := h.Directory.Now()
	views := lo.Map(h.Directory.List(filter), func(a models.Account, _ int) accountView {
		return accountView{Account: a.Redacted(), Online: directory.IsOnline(a, now)}
	})
	writeJSON(w, http.StatusOK, Envelope{"data": views})
}

type createAccountRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required,oneof=admin user"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	account, err := h.Directory.Create(r.Context(), req.Username, req.Password, models.Role(req.Role))
	if err != nil {
		writeAccountError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Envelope{"data": account.Redacted()})
}

type updateAccountRequest struct {
	Username *string `json:"username" validate:"omitempty,min=1,max=64"`
	Password *string `json:"password" validate:"omitempty,min=6"`
	Role     *string `json:"role" validate:"omitempty,oneof=admin user"`
}

func (h *Handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var req updateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	changes := directory.Changes{Username: req.Username, Password: req.Password}
	if req.Role != nil {
		role := models.Role(*req.Role)
		changes.Role = &role
	}
	if err := h.Directory.Update(r.Context(), id, changes); err != nil {
		writeAccountError(w, err)
		return
	}
	account, _ := h.Directory.Get(id)
	writeJSON(w, http.StatusOK, Envelope{"data": account.Redacted()})
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	if err := h.Directory.Delete(r.Context(), id); err != nil {
		writeAccountError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setDisabledRequest struct {
	Disabled *bool `json:"disabled" validate:"required"`
}

func (h *Handler) setAccountDisabled(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var req setDisabledRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Directory.SetDisabled(r.Context(), id, *req.Disabled); err != nil {
		writeAccountError(w, err)
		return
	}
	account, _ := h.Directory.Get(id)
	writeJSON(w, http.StatusOK, Envelope{"data": account.Redacted()})
}

func (h *Handler) listClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Envelope{"data": h.Hub.GetConnectedClients(device.Label)})
}

func accountID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid account id"))
		return 0, false
	}
	return id, true
}

func writeAccountError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, directory.ErrDuplicateUsername):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, directory.ErrWeakPassword),
		errors.Is(err, directory.ErrEmptyUsername),
		errors.Is(err, directory.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
