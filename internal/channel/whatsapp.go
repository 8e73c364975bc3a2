package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/unclebandit/crces-dispatch/internal/model"
)

// WhatsAppSender posts text messages to the WhatsApp Cloud API.
type WhatsAppSender struct {
	BaseURL       string
	PhoneNumberID string
	Token         string
	Client        *http.Client
}

func NewWhatsAppSender(baseURL, phoneNumberID, token string) *WhatsAppSender {
	return &WhatsAppSender{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		PhoneNumberID: phoneNumberID,
		Token:         token,
		Client:        &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *WhatsAppSender) Channel() model.Channel { return model.ChannelWhatsApp }

type waTextRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type waResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (s *WhatsAppSender) Send(ctx context.Context, msg Message) (Outcome, error) {
	reqBody := waTextRequest{MessagingProduct: "whatsapp", To: normalizePhone(msg.To), Type: "text"}
	reqBody.Text.Body = msg.Body
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Outcome{}, err
	}

	url := fmt.Sprintf("%s/%s/messages", s.BaseURL, s.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Token)

	resp, err := s.Client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var parsed waResponse
	_ = json.Unmarshal(raw, &parsed)

	out := Outcome{Status: ClassifyHTTPStatus(resp.StatusCode), Code: strconv.Itoa(resp.StatusCode)}
	if out.Status == model.OutcomeSent {
		if len(parsed.Messages) > 0 {
			out.ProviderRef = parsed.Messages[0].ID
		}
		return out, nil
	}
	if parsed.Error != nil {
		out.Detail = parsed.Error.Message
	} else {
		out.Detail = http.StatusText(resp.StatusCode)
	}
	return out, nil
}

// normalizePhone strips formatting so "+55 (27) 99999-0000" becomes digits only.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
