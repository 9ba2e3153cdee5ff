package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/facepay-ledger/internal/auth"
	"github.com/riteshkumar/facepay-ledger/internal/models"
	"github.com/riteshkumar/facepay-ledger/internal/service"
	u "github.com/riteshkumar/facepay-ledger/internal/utils"
)

// FacePayHandler serves the vendor terminal. Every step acts on a session
// owned by the authenticated vendor.
type FacePayHandler struct {
	facePayService service.FacePayService
	logger         *slog.Logger
}

func NewFacePayHandler(facePayService service.FacePayService, logger *slog.Logger) *FacePayHandler {
	return &FacePayHandler{
		facePayService: facePayService,
		logger:         logger,
	}
}

func (h *FacePayHandler) RegisterRoutes(router *mux.Router, requireAuth mux.MiddlewareFunc) {
	router.Handle("/facepay/initiate", requireAuth(http.HandlerFunc(h.Initiate))).Methods(http.MethodPost)
	router.Handle("/facepay/confirm-amount", requireAuth(http.HandlerFunc(h.ConfirmAmount))).Methods(http.MethodPost)
	router.Handle("/facepay/verify-phone", requireAuth(http.HandlerFunc(h.VerifyPhone))).Methods(http.MethodPost)
	router.Handle("/facepay/verify-face", requireAuth(http.HandlerFunc(h.VerifyFace))).Methods(http.MethodPost)
	router.Handle("/facepay/verify-pin", requireAuth(http.HandlerFunc(h.VerifyPIN))).Methods(http.MethodPost)
	router.Handle("/facepay/sessions/{id}", requireAuth(http.HandlerFunc(h.GetSession))).Methods(http.MethodGet)
	router.HandleFunc("/facepay/report-fraud", h.ReportFraud).Methods(http.MethodPost)
}

func (h *FacePayHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req models.InitiateFacePayRequest
	if !u.DecodeJSON(w, r, &req) {
		return
	}

	session, err := h.facePayService.Initiate(r.Context(), auth.GetAccountNumber(r.Context()), req.Amount)
	if err != nil {
		writeServiceError(w, h.logger, err, "initiate facepay")
		return
	}

	u.WriteJSON(w, http.StatusCreated, models.InitiateFacePayResponse{
		SessionID: session.ID,
		Amount:    session.Amount.StringFixed(2),
		ExpiresAt: session.ExpiresAt,
	})
}

func (h *FacePayHandler) ConfirmAmount(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmAmountRequest
	if !u.DecodeJSON(w, r, &req) {
		return
	}

	session, err := h.facePayService.ConfirmAmount(r.Context(), auth.GetAccountNumber(r.Context()), req.SessionID, req.Confirmed)
	if err != nil {
		writeServiceError(w, h.logger, err, "confirm amount")
		return
	}

	u.WriteJSON(w, http.StatusOK, models.SessionStatusResponse{
		SessionID: session.ID,
		Status:    string(session.State),
	})
}

func (h *FacePayHandler) VerifyPhone(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyPhoneRequest
	if !u.DecodeJSON(w, r, &req) {
		return
	}

	session, err := h.facePayService.VerifyCustomer(r.Context(), auth.GetAccountNumber(r.Context()), req.SessionID, req.CustomerPhone)
	if err != nil {
		writeServiceError(w, h.logger, err, "verify phone")
		return
	}

	u.WriteJSON(w, http.StatusOK, models.VerifyPhoneResponse{
		SessionID:    session.ID,
		CustomerName: session.CustomerName,
	})
}

func (h *FacePayHandler) VerifyFace(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyFaceRequest
	if !u.DecodeJSON(w, r, &req) {
		return
	}

	image, err := decodeImage(req.FaceImage)
	if err != nil {
		u.WriteError(w, http.StatusBadRequest, "validation error", err.Error())
		return
	}

	session, err := h.facePayService.VerifyFace(r.Context(), auth.GetAccountNumber(r.Context()), req.SessionID, image)
	if err != nil {
		writeServiceError(w, h.logger, err, "verify face")
		return
	}

	u.WriteJSON(w, http.StatusOK, models.VerifyFaceResponse{
		SessionID:       session.ID,
		SimilarityScore: session.SimilarityScore,
	})
}

func (h *FacePayHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyPINRequest
	if !u.DecodeJSON(w, r, &req) {
		return
	}

	session, err := h.facePayService.VerifyPINAndSettle(r.Context(), auth.GetAccountNumber(r.Context()), req.SessionID, req.PIN)
	if err != nil {
		writeServiceError(w, h.logger, err, "verify pin")
		return
	}

	u.WriteJSON(w, http.StatusOK, models.VerifyPINResponse{
		SessionID:     session.ID,
		TransactionID: session.TransactionID,
		Amount:        session.Amount.StringFixed(2),
		CustomerName:  session.CustomerName,
	})
}

func (h *FacePayHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.facePayService.GetSession(r.Context(), auth.GetAccountNumber(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err, "get session")
		return
	}

	u.WriteJSON(w, http.StatusOK, newSessionResponse(session))
}

func (h *FacePayHandler) ReportFraud(w http.ResponseWriter, r *http.Request) {
	var req models.ReportFraudRequest
	if !u.DecodeJSON(w, r, &req) {
		return
	}

	if _, err := h.facePayService.ReportFraud(r.Context(), req.SessionID); err != nil {
		writeServiceError(w, h.logger, err, "report fraud")
		return
	}

	u.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func newSessionResponse(s *models.FacePaySession) models.SessionResponse {
	return models.SessionResponse{
		SessionID:       s.ID,
		State:           string(s.State),
		Amount:          s.Amount.StringFixed(2),
		CustomerName:    s.CustomerName,
		SimilarityScore: s.SimilarityScore,
		TransactionID:   s.TransactionID,
		ExpiresAt:       s.ExpiresAt,
	}
}
