package main

import (
	"errors"
	"io"
	"net/http"
)

const maxBackupBody = 8 << 20

// GET /api/backup/export
func (a *api) handleBackupExport(w http.ResponseWriter, r *http.Request) {
	b, err := a.matrix.ExportAll(r.Context())
	if err != nil {
		a.fail(w, "export backup", err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="priority-matrix-backup.json"`)
	writeJSON(w, 200, b)
}

// POST /api/backup/import
// Replaces every list and item with the uploaded snapshot.
func (a *api) handleBackupImport(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBackupBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, 413, "backup too large")
			return
		}
		writeError(w, 400, "invalid payload")
		return
	}
	b, err := DecodeBackup(raw)
	if err != nil {
		a.fail(w, "import backup", err)
		return
	}
	if err := a.matrix.ImportAll(r.Context(), b); err != nil {
		a.fail(w, "import backup", err)
		return
	}
	writeJSON(w, 200, map[string]any{"success": true, "lists": len(b.Lists), "todoItems": len(b.TodoItems)})
}
