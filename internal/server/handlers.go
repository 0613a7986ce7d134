package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/T-SHELLY/aeroAR/internal/auth"
	"github.com/T-SHELLY/aeroAR/internal/audio"
	"github.com/T-SHELLY/aeroAR/internal/pipeline"
	"github.com/T-SHELLY/aeroAR/internal/qr"
	"github.com/T-SHELLY/aeroAR/internal/store"
)

// handleLogin implements the trainer login form. Valid credentials issue a
// trainer session cookie; anything else is rejected.
func (h *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	if username != h.config.Session.TrainerUsername || password != h.config.Session.TrainerPassword {
		h.logger.Warn("Login rejected", slog.String("username", username))
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := h.sessions.Issue(username, auth.RoleTrainer, "")
	if err != nil {
		h.logger.Error("Failed to issue session", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.sessions.SetCookie(w, token)
	h.writeJSON(w, http.StatusOK, map[string]string{"role": string(auth.RoleTrainer)})
}

// handleLogout clears the session cookie
func (h *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleSelectModule records the trainee's active module in a fresh
// session so subsequent scans can omit the code
func (h *HTTPServer) handleSelectModule(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	code := r.PostFormValue("code")
	if _, err := h.store.ReadModule(code); err != nil {
		h.writeStoreError(w, err)
		return
	}

	username := "trainee"
	role := auth.RoleTrainee
	if claims, err := h.sessions.FromRequest(r); err == nil {
		username = claims.Username
		role = claims.Role
	}

	token, err := h.sessions.Issue(username, role, code)
	if err != nil {
		h.logger.Error("Failed to issue session", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.sessions.SetCookie(w, token)
	h.writeJSON(w, http.StatusOK, map[string]string{"module": code})
}

// handleCreateModule accepts a multipart batch of labelled audio clips,
// stages them durably and hands the module to the background pipeline.
// The response returns as soon as staging completes; clients learn the
// outcome by polling the status surface.
func (h *HTTPServer) handleCreateModule(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(h.config.Storage.MaxUploadBytes()); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	name := r.FormValue("name")
	if name == "" {
		http.Error(w, "Module name is required", http.StatusBadRequest)
		return
	}

	labels := r.MultipartForm.Value["label"]
	transcripts := r.MultipartForm.Value["transcript"]
	files := r.MultipartForm.File["audio"]

	if len(files) == 0 {
		http.Error(w, "At least one audio file is required", http.StatusBadRequest)
		return
	}
	if len(labels) != len(files) {
		http.Error(w, fmt.Sprintf("Got %d labels for %d audio files", len(labels), len(files)), http.StatusBadRequest)
		return
	}
	if len(transcripts) != 0 && len(transcripts) != len(files) {
		http.Error(w, fmt.Sprintf("Got %d transcripts for %d audio files", len(transcripts), len(files)), http.StatusBadRequest)
		return
	}

	// Labels must stay unique after filesystem-safe normalization, since
	// the normalized form names the canonical audio file.
	seen := make(map[string]string, len(labels))
	for _, label := range labels {
		safe, err := store.SafeLabel(label)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid label %q", label), http.StatusBadRequest)
			return
		}
		if prev, dup := seen[safe]; dup {
			http.Error(w, fmt.Sprintf("Labels %q and %q collide after normalization", prev, label), http.StatusBadRequest)
			return
		}
		seen[safe] = label
	}

	code, err := h.store.CreateModule(claims.Username, name)
	if err != nil {
		h.logger.Error("Failed to create module", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	tasks := make([]pipeline.Task, 0, len(files))
	for i, fileHeader := range files {
		f, err := fileHeader.Open()
		if err != nil {
			h.abortSubmission(w, code, fmt.Errorf("failed to open upload %q: %w", fileHeader.Filename, err))
			return
		}

		rawPath, err := h.store.StageUpload(code, f)
		f.Close()
		if err != nil {
			h.abortSubmission(w, code, fmt.Errorf("failed to stage upload %q: %w", fileHeader.Filename, err))
			return
		}

		transcript := ""
		if len(transcripts) > 0 {
			transcript = transcripts[i]
		}

		tasks = append(tasks, pipeline.Task{
			Label:      labels[i],
			RawPath:    rawPath,
			Transcript: transcript,
		})
	}

	// Raw files are durably staged: the module enters PROCESSING before
	// the worker is scheduled, so a poller never sees PENDING after the
	// submission response.
	if err := h.store.SetStatus(code, store.Status{State: store.StateProcessing}); err != nil {
		h.abortSubmission(w, code, err)
		return
	}

	handle, err := h.pool.Submit(func(ctx context.Context) error {
		return h.pipeline.Process(ctx, code, tasks)
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			h.abortSubmissionWithStatus(w, code, err, http.StatusServiceUnavailable, "Server busy, retry later")
			return
		}
		h.abortSubmission(w, code, err)
		return
	}

	h.metrics.ModulesCreated.Inc()
	h.metrics.QueueDepth.Set(float64(h.pool.QueueDepth()))

	go func() {
		<-handle.Done()
		h.metrics.QueueDepth.Set(float64(h.pool.QueueDepth()))
	}()

	h.logger.Info("Module submitted",
		slog.String("code", code),
		slog.String("owner", claims.Username),
		slog.Int("items", len(tasks)),
	)

	h.writeJSON(w, http.StatusAccepted, map[string]string{"code": code})
}

// abortSubmission rolls back a half-submitted module
func (h *HTTPServer) abortSubmission(w http.ResponseWriter, code string, cause error) {
	h.abortSubmissionWithStatus(w, code, cause, http.StatusInternalServerError, "Internal server error")
}

func (h *HTTPServer) abortSubmissionWithStatus(w http.ResponseWriter, code string, cause error, status int, message string) {
	h.logger.Error("Submission aborted",
		slog.String("code", code),
		slog.String("error", cause.Error()),
	)

	if err := h.store.DeleteModule(code); err != nil {
		h.logger.Error("Failed to roll back module",
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
	}

	http.Error(w, message, status)
}

// handleListModules returns the caller's modules
func (h *HTTPServer) handleListModules(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}

	modules, err := h.store.ListModulesByOwner(claims.Username)
	if err != nil {
		h.logger.Error("Failed to list modules", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":   len(modules),
		"modules": modules,
	})
}

// handleOwnerStatus returns a code-to-status mapping for every module
// owned by the caller, the bulk form of the polling protocol
func (h *HTTPServer) handleOwnerStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}

	modules, err := h.store.ListModulesByOwner(claims.Username)
	if err != nil {
		h.logger.Error("Failed to list modules", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	statuses := make(map[string]string, len(modules))
	for _, module := range modules {
		statuses[module.Code] = module.Status.Marker()
	}

	h.writeJSON(w, http.StatusOK, statuses)
}

// handleModuleStatus returns one module's status marker as plain text
func (h *HTTPServer) handleModuleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.store.GetStatus(r.PathValue("code"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, status.Marker())
}

// handleManifest returns the module's content listing, empty until the
// pipeline has completed
func (h *HTTPServer) handleManifest(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.Manifest(r.PathValue("code"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, entries)
}

// handleModuleAudio serves one item's canonical audio as a download
func (h *HTTPServer) handleModuleAudio(w http.ResponseWriter, r *http.Request) {
	h.serveAudio(w, r, r.PathValue("code"), r.URL.Query().Get("name"))
}

// handleScanAudio is the scan-side lookup: a QR payload plus an optional
// module code. Without a code the session's active module is used, falling
// back to the demo module.
func (h *HTTPServer) handleScanAudio(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		if claims, err := h.sessions.FromRequest(r); err == nil && claims.Module != "" {
			code = claims.Module
		}
	}
	if code == "" {
		code = store.DemoCode
	}

	h.serveAudio(w, r, code, r.URL.Query().Get("name"))
}

func (h *HTTPServer) serveAudio(w http.ResponseWriter, r *http.Request, code, label string) {
	if label == "" {
		http.Error(w, "Query parameter 'name' is required", http.StatusBadRequest)
		return
	}

	path, err := h.store.ResolveAudio(code, label)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", audio.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", label+store.AudioExt))
	http.ServeFile(w, r, path)
}

// handleDeleteModule removes a module and all its items, owner only
func (h *HTTPServer) handleDeleteModule(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}

	code := r.PathValue("code")
	if _, err := h.store.ReadModuleOwned(code, claims.Username); err != nil {
		if errors.Is(err, store.ErrNotOwner) {
			h.logger.Warn("Delete rejected: not owner",
				slog.String("code", code),
				slog.String("caller", claims.Username),
			)
		}
		h.writeStoreError(w, err)
		return
	}

	if err := h.store.DeleteModule(code); err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.metrics.ModulesDeleted.Inc()
	w.WriteHeader(http.StatusNoContent)
}

// handleQRArchive streams a ZIP of QR images, one per item, owner only
func (h *HTTPServer) handleQRArchive(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}

	code := r.PathValue("code")
	if _, err := h.store.ReadModuleOwned(code, claims.Username); err != nil {
		h.writeStoreError(w, err)
		return
	}

	entries, err := h.store.Manifest(code)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	archive, err := qr.ModuleArchive(entries, qr.DefaultImageSize)
	if err != nil {
		h.logger.Error("Failed to build QR archive",
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", code+"-qr.zip"))
	w.Write(archive)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	moduleCount, err := h.store.ModuleCount()
	if err != nil {
		h.logger.Error("Failed to count modules", slog.String("error", err.Error()))
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"components": map[string]interface{}{
			"store": map[string]interface{}{
				"status":  "running",
				"modules": moduleCount,
			},
			"pipeline": map[string]interface{}{
				"status":      "running",
				"queue_depth": h.pool.QueueDepth(),
			},
		},
	}

	h.writeJSON(w, http.StatusOK, health)
}

// requireTrainer extracts the caller identity and rejects non-trainers
func (h *HTTPServer) requireTrainer(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, err := h.sessions.FromRequest(r)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return nil, false
	}

	if claims.Role != auth.RoleTrainer {
		http.Error(w, "Trainer role required", http.StatusForbidden)
		return nil, false
	}

	return claims, true
}

// writeStoreError maps store sentinel errors onto HTTP status codes
func (h *HTTPServer) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidCode), errors.Is(err, store.ErrInvalidLabel):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrNotOwner):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		h.logger.Error("Unexpected store error", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
