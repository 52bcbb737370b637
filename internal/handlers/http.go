package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"nfstrace/internal/engine"
	"nfstrace/internal/models"
)

const maxUploadSize = 100 << 20 // 100 MB

// RegisterRoutes sets up all HTTP routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, eng *engine.Engine) {
	// WebSocket endpoint
	mux.HandleFunc("/ws", HandleWebSocket(eng))

	// Replay of files already on the server
	mux.HandleFunc("/api/traces", handleTraces(eng))

	// PCAP file upload
	mux.HandleFunc("/api/upload", handleUpload(eng))
}

func handleTraces(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req models.LoadTracesRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Files) == 0 {
			http.Error(w, "no files", http.StatusBadRequest)
			return
		}
		replay(w, eng, req)
	}
}

func handleUpload(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			http.Error(w, "File too large (max 100MB)", http.StatusBadRequest)
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		tmpFile, err := os.CreateTemp("", "nfstrace-*.pcap")
		if err != nil {
			http.Error(w, "Failed to create temp file", http.StatusInternalServerError)
			return
		}
		tmpPath := tmpFile.Name()
		defer os.Remove(tmpPath)

		if _, err := io.Copy(tmpFile, file); err != nil {
			tmpFile.Close()
			http.Error(w, "Failed to save file", http.StatusInternalServerError)
			return
		}
		tmpFile.Close()

		replay(w, eng, models.LoadTracesRequest{Files: []string{tmpPath}, Match: r.FormValue("match")})
	}
}

func replay(w http.ResponseWriter, eng *engine.Engine, req models.LoadTracesRequest) {
	stats, err := eng.LoadTraces(req)
	switch {
	case errors.Is(err, engine.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		logrus.WithError(err).WithField("files", req.Files).Warn("trace replay failed")
		http.Error(w, "Failed to read traces: "+err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
