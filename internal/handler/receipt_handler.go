// internal/handler/receipt_handler.go
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/unclebandit/crces-dispatch/internal/controller"
	"github.com/unclebandit/crces-dispatch/internal/model"
)

// DeliveryConfirmer promotes a sent job to delivered.
type DeliveryConfirmer interface {
	ConfirmDelivery(ctx context.Context, providerRef string) (*model.DispatchJob, error)
}

// SecretHeader carries the shared receipt webhook secret.
const SecretHeader = "X-Webhook-Secret"

// ReceiptHandler accepts provider delivery receipts.
type ReceiptHandler struct {
	Campaigns DeliveryConfirmer
	Secret    string
	Log       zerolog.Logger
}

// RequireSecret rejects requests whose SecretHeader does not match. An
// empty Secret rejects everything.
func (h *ReceiptHandler) RequireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(SecretHeader)
		if h.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
			h.Log.Warn().Str("remote_addr", r.RemoteAddr).Msg("receipt webhook rejected")
			controller.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid webhook secret"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ReceiptsHandler accepts {"provider_ref": "..."} or a batch
// {"receipts": [{"provider_ref": "..."}]}. Unknown refs are ignored so
// providers do not retry them forever.
func (h *ReceiptHandler) ReceiptsHandler(w http.ResponseWriter, r *http.Request) {
	type receipt struct {
		ProviderRef string `json:"provider_ref"`
	}
	var body struct {
		receipt
		Receipts []receipt `json:"receipts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		controller.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if body.ProviderRef != "" {
		body.Receipts = append(body.Receipts, body.receipt)
	}

	confirmed, unknown := 0, 0
	for _, rc := range body.Receipts {
		if rc.ProviderRef == "" {
			continue
		}
		job, err := h.Campaigns.ConfirmDelivery(r.Context(), rc.ProviderRef)
		switch {
		case controller.StatusFor(err) == http.StatusNotFound:
			unknown++
		case err != nil:
			controller.WriteError(w, h.Log, err)
			return
		case job.Status == model.JobDelivered:
			confirmed++
		}
	}
	h.Log.Debug().Int("confirmed", confirmed).Int("unknown", unknown).Msg("delivery receipts processed")
	controller.WriteJSON(w, http.StatusOK, map[string]int{"confirmed": confirmed, "unknown": unknown})
}
