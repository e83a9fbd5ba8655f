package main

import (
	"net/http"
)

func (a *api) handleItemsByList(w http.ResponseWriter, r *http.Request) {
	items, err := a.matrix.ListItems(r.Context(), r.PathValue("listId"))
	if err != nil {
		a.fail(w, "list todo items", err)
		return
	}
	writeJSON(w, 200, items)
}

func (a *api) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req NewItem
	if err := readJSON(w, r, &req); err != nil {
		a.log.Debug("decode create item", "err", err)
		a.badPayload(w, err)
		return
	}
	it, err := a.matrix.CreateItem(r.Context(), r.PathValue("listId"), req)
	if err != nil {
		a.fail(w, "create todo item", err)
		return
	}
	writeJSON(w, 201, it)
}

func (a *api) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, 400, "bad id")
		return
	}
	var req ItemPatch
	if err := readJSON(w, r, &req); err != nil {
		a.badPayload(w, err)
		return
	}
	it, err := a.matrix.UpdateItem(r.Context(), r.PathValue("listId"), id, req)
	if err != nil {
		a.fail(w, "update todo item", err)
		return
	}
	writeJSON(w, 200, it)
}

func (a *api) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, 400, "bad id")
		return
	}
	ok, err := a.matrix.DeleteItem(r.Context(), r.PathValue("listId"), id)
	if err != nil {
		a.fail(w, "delete todo item", err)
		return
	}
	if !ok {
		writeError(w, 404, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/lists/{listId}/todo-items/reorder {draggedId, targetNumber}
func (a *api) handleReorderItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DraggedID    *int64 `json:"draggedId"`
		TargetNumber *int   `json:"targetNumber"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	if req.DraggedID == nil || req.TargetNumber == nil {
		writeError(w, 400, "draggedId and targetNumber are required")
		return
	}
	if err := a.matrix.ReorderItems(r.Context(), r.PathValue("listId"), *req.DraggedID, *req.TargetNumber); err != nil {
		a.fail(w, "reorder todo items", err)
		return
	}
	writeJSON(w, 200, map[string]any{"success": true})
}

// DELETE /api/lists/{listId}/todo-items/completed
func (a *api) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := a.matrix.ClearCompleted(r.Context(), r.PathValue("listId"))
	if err != nil {
		a.fail(w, "clear completed items", err)
		return
	}
	writeJSON(w, 200, map[string]any{"deleted": n})
}

// POST /api/lists/{listId}/todo-items/clear-matrix
func (a *api) handleClearMatrix(w http.ResponseWriter, r *http.Request) {
	n, err := a.matrix.ClearMatrix(r.Context(), r.PathValue("listId"))
	if err != nil {
		a.fail(w, "clear matrix", err)
		return
	}
	writeJSON(w, 200, map[string]any{"cleared": n})
}
