// Session status and message send endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/logger"
)

const (
	// defaultDocumentName is used when a media send omits fileName.
	defaultDocumentName = "document.pdf"

	maxSendBodyBytes = 1 << 20
)

// Status values reported by GET /api/v1/status.
const (
	statusReady   = "ready"
	statusLoading = "loading"
	statusQRReady = "qr_ready"
)

// sendRequest is the body of POST /api/v1/messages/send.
type sendRequest struct {
	Number   string `json:"number"`
	Message  string `json:"message"`
	MediaURL string `json:"mediaUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// GET /api/v1/status
//
//	{"status":"ready","message":"..."}          200
//	{"status":"qr_ready","qr":"<code>"}         200
//	{"status":"loading","message":"..."}        404
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.sessions.Status()

	switch {
	case st.IsReady:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  statusReady,
			"message": "WhatsApp is already linked.",
		})
	case st.HasPairingCode():
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": statusQRReady,
			"qr":     st.PendingPairingCode,
		})
	default:
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"status":  statusLoading,
			"message": "Waiting for the engine to generate a QR code...",
		})
	}
}

// POST /api/v1/messages/send
//
// Body: {"number": "...", "message": "...", "mediaUrl": "...", "fileName": "..."}
//
// With mediaUrl the document is fetched and sent with message as caption;
// otherwise message is sent as text.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "invalid request body",
			"success": false,
		})
		return
	}

	if strings.TrimSpace(req.Number) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "number is required",
			"success": false,
		})
		return
	}

	var msg channel.OutboundMessage
	if req.MediaURL != "" {
		fileName := req.FileName
		if fileName == "" {
			fileName = defaultDocumentName
		}
		msg = channel.MediaMessage{
			SourceURL: req.MediaURL,
			FileName:  fileName,
			Caption:   req.Message,
		}
	} else {
		if req.Message == "" {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":   "message is required when mediaUrl is absent",
				"success": false,
			})
			return
		}
		msg = channel.TextMessage{Body: req.Message}
	}

	res, err := s.messages.Send(r.Context(), req.Number, msg)
	if err != nil {
		if errors.Is(err, channel.ErrInvalidRecipient) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":   err.Error(),
				"success": false,
			})
			return
		}
		logger.ErrorCF("api", "Send failed", map[string]interface{}{
			"error": err.Error(),
		})
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "internal error",
			"details": err.Error(),
			"success": false,
		})
		return
	}

	resp := map[string]interface{}{
		"status":  "success",
		"success": true,
		"message": "Message sent successfully.",
	}
	if res.Advisory() {
		resp["delivery"] = string(channel.DeliveryCheckDevice)
		resp["details"] = res.Details
	}
	writeJSON(w, http.StatusOK, resp)
}
