// Package api exposes the gateway's HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nartechsolution/wagateway/internal/domain"
	"github.com/nartechsolution/wagateway/internal/service"
	"github.com/nartechsolution/wagateway/internal/storage"
	apiTypes "github.com/nartechsolution/wagateway/pkg/api"
)

// Gateway is the façade surface the handler needs. Implemented by
// *service.Gateway; narrowed here so tests can script it.
type Gateway interface {
	CheckSession(ctx context.Context, forceNew bool) (service.CheckResult, error)
	SendMessage(ctx context.Context, phone, text, attachmentPath string) error
	Logout(ctx context.Context)
	Profile(ctx context.Context) (service.ProfileResult, error)
	History(ctx context.Context, limit int) ([]storage.OutboundMessage, error)
	Phase() domain.Phase
}

const maxUploadBytes = 32 << 20 // 32 MiB multipart memory cap

// Handler routes gateway HTTP requests to the operations façade.
type Handler struct {
	gateway   Gateway
	uploadDir string
	logger    *slog.Logger
}

func NewHandler(gateway Gateway, uploadDir string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}
	return &Handler{gateway: gateway, uploadDir: uploadDir, logger: logger.With("component", "http")}
}

// Mount registers all routes on the provided router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/checkSession", h.checkSession)
	r.Post("/sendWhatsAppMessage", h.sendMessage)
	r.Post("/logoutWhatsApp", h.logout)
	r.Get("/getUserProfile", h.getUserProfile)
	r.Get("/messageHistory", h.messageHistory)
	r.Get("/healthz", h.healthz)
}

func (h *Handler) checkSession(w http.ResponseWriter, r *http.Request) {
	forceNew, _ := strconv.ParseBool(r.URL.Query().Get("forceNew"))

	result, err := h.gateway.CheckSession(r.Context(), forceNew)
	if err != nil {
		h.logger.Warn("session check failed", "error", err)
		writeJSON(w, http.StatusOK, apiTypes.CheckSessionResponse{
			Status:     "error",
			Message:    checkErrorMessage(err),
			NeedsRetry: errors.Is(err, service.ErrInitInFlight),
		})
		return
	}

	switch result.Status {
	case service.StatusReady:
		writeJSON(w, http.StatusOK, apiTypes.CheckSessionResponse{
			Status:  "success",
			Message: "WhatsApp session is active",
		})
	case service.StatusQR:
		writeJSON(w, http.StatusOK, apiTypes.CheckSessionResponse{
			Status:           "qr_required",
			Message:          "Scan the QR code to connect",
			QRCode:           result.QRCode,
			NeedsQR:          true,
			SessionCorrupted: result.SessionCorrupted,
		})
	default:
		writeJSON(w, http.StatusOK, apiTypes.CheckSessionResponse{
			Status:           "error",
			Message:          "Session could not be restored",
			NeedsQR:          result.NeedsQR,
			SessionCorrupted: result.SessionCorrupted,
		})
	}
}

func checkErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInitTimeout):
		return "Connection timed out, please try again"
	case errors.Is(err, service.ErrInitInFlight):
		return "Another connection attempt is in progress, please retry shortly"
	default:
		return "Could not reach WhatsApp, check your connection"
	}
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	phone, text, attachmentPath, err := h.parseSendRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	if err := h.gateway.SendMessage(r.Context(), phone, text, attachmentPath); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPhoneNumber), errors.Is(err, service.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		case errors.Is(err, service.ErrNotConnected):
			writeError(w, http.StatusBadRequest, "WhatsApp not connected.", "connect the session via /checkSession first")
		default:
			h.logger.Error("send failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to send message", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, apiTypes.SendMessageResponse{
		Status:  "success",
		Message: "Messages sent successfully!",
	})
}

// parseSendRequest accepts either a JSON body or a multipart form with an
// optional attachment. An uploaded attachment is copied to a temp file
// under uploadDir; ownership of that path passes to the façade.
func (h *Handler) parseSendRequest(r *http.Request) (phone, text, attachmentPath string, err error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return "", "", "", fmt.Errorf("parse multipart form: %w", err)
		}
		phone = r.FormValue("phoneNumber")
		text = r.FormValue("messageText")

		file, header, ferr := r.FormFile("attachment")
		switch {
		case ferr == nil:
			defer file.Close()
			attachmentPath, err = h.saveUpload(file, header)
			if err != nil {
				return "", "", "", err
			}
		case errors.Is(ferr, http.ErrMissingFile):
			// Text-only send.
		default:
			return "", "", "", fmt.Errorf("read attachment: %w", ferr)
		}
		return phone, text, attachmentPath, nil
	}

	var req apiTypes.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", "", "", fmt.Errorf("decode request body: %w", err)
	}
	return req.PhoneNumber, req.MessageText, "", nil
}

func (h *Handler) saveUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	name := uuid.NewString() + filepath.Ext(filepath.Base(header.Filename))
	path := filepath.Join(h.uploadDir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return path, nil
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.gateway.Logout(r.Context())
	writeJSON(w, http.StatusOK, apiTypes.LogoutResponse{
		Status:  "success",
		Message: "Logged out and cleared session data",
	})
}

func (h *Handler) getUserProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.gateway.Profile(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrReconnectRequired):
			writeError(w, http.StatusInternalServerError, "session corrupted", "reconnect via /checkSession?forceNew=true")
		case errors.Is(err, service.ErrInitializing):
			writeError(w, http.StatusBadRequest, "session initializing", "try again shortly")
		case errors.Is(err, service.ErrNotConnected):
			writeError(w, http.StatusBadRequest, "WhatsApp not connected.", "connect the session via /checkSession first")
		default:
			h.logger.Error("profile fetch failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to fetch profile", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, apiTypes.ProfileResponse{
		Status: "success",
		Data: apiTypes.ProfileData{
			Name:          profile.Name,
			Number:        profile.Number,
			ProfilePicURL: profile.AvatarURL,
		},
	})
}

func (h *Handler) messageHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	msgs, err := h.gateway.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load message history", err.Error())
		return
	}

	resp := apiTypes.MessageHistoryResponse{Messages: make([]apiTypes.MessageRecord, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, apiTypes.MessageRecord{
			ID:            m.ID,
			Destination:   m.Destination,
			Body:          m.Body,
			HasAttachment: m.HasAttachment,
			Status:        m.Status,
			Error:         m.Error,
			CreatedAt:     m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiTypes.HealthResponse{
		Status: "ok",
		Phase:  h.gateway.Phase().String(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := apiTypes.ErrorResponse{Error: message}
	if details != "" {
		resp.Details = details
	}
	_ = json.NewEncoder(w).Encode(resp)
}
