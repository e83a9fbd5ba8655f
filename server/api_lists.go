package main

import (
	"errors"
	"io"
	"net/http"
)

func (a *api) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID *string `json:"userId"`
	}
	if err := readJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, 400, "invalid payload")
		return
	}
	l, err := a.matrix.CreateList(r.Context(), req.UserID)
	if err != nil {
		a.fail(w, "create list", err)
		return
	}
	a.rememberList(w, l.ListID)
	writeJSON(w, 201, map[string]any{"listId": l.ListID, "list": l})
}

func (a *api) handleGetList(w http.ResponseWriter, r *http.Request) {
	l, err := a.matrix.GetList(r.Context(), r.PathValue("listId"))
	if err != nil {
		a.fail(w, "get list", err)
		return
	}
	a.rememberList(w, l.ListID)
	writeJSON(w, 200, l)
}

func (a *api) handleUpdateList(w http.ResponseWriter, r *http.Request) {
	var req ListPatch
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	l, err := a.matrix.UpdateList(r.Context(), r.PathValue("listId"), req)
	if err != nil {
		a.fail(w, "update list", err)
		return
	}
	writeJSON(w, 200, l)
}

func (a *api) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	listID := r.PathValue("listId")
	ok, err := a.matrix.DeleteList(r.Context(), listID)
	if err != nil {
		a.fail(w, "delete list", err)
		return
	}
	if !ok {
		writeError(w, 404, "not found")
		return
	}
	if cur, found := a.rememberedList(r); found && cur == listID {
		a.forgetList(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleGetMatrixSettings(w http.ResponseWriter, r *http.Request) {
	s, err := a.matrix.MatrixSettings(r.Context(), r.PathValue("listId"))
	if err != nil {
		a.fail(w, "get matrix settings", err)
		return
	}
	writeJSON(w, 200, s)
}

func (a *api) handleUpdateMatrixSettings(w http.ResponseWriter, r *http.Request) {
	var req ListPatch
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	s, err := a.matrix.UpdateMatrixSettings(r.Context(), r.PathValue("listId"), req)
	if err != nil {
		a.fail(w, "update matrix settings", err)
		return
	}
	writeJSON(w, 200, s)
}

// GET /api/lists/{listId}/export
func (a *api) handleExportList(w http.ResponseWriter, r *http.Request) {
	exp, err := a.matrix.ExportList(r.Context(), r.PathValue("listId"))
	if err != nil {
		a.fail(w, "export list", err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="priority-matrix.json"`)
	writeJSON(w, 200, exp)
}

func (a *api) handleListEvents(w http.ResponseWriter, r *http.Request) {
	listID := r.PathValue("listId")
	if _, err := a.matrix.GetList(r.Context(), listID); err != nil {
		a.fail(w, "subscribe list", err)
		return
	}
	a.bus.ServeSSE(w, r, listID)
}

// GET /api/session/last-list
// Returns the list remembered by the session cookie while it still exists.
func (a *api) handleLastList(w http.ResponseWriter, r *http.Request) {
	listID, ok := a.rememberedList(r)
	if !ok {
		writeJSON(w, 200, map[string]any{"listId": nil})
		return
	}
	if _, err := a.matrix.GetList(r.Context(), listID); err != nil {
		if errors.Is(err, ErrNotFound) {
			a.forgetList(w)
			writeJSON(w, 200, map[string]any{"listId": nil})
			return
		}
		a.fail(w, "get last list", err)
		return
	}
	writeJSON(w, 200, map[string]any{"listId": listID})
}
