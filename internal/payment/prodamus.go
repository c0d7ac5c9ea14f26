package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"mac-bot/internal/models"
)

const ProviderProdamus = "prodamus"

type ProdamusConfig struct {
	MerchantURL     string
	SecretKey       string
	TestMode        bool
	Sys             string
	NotificationURL string
	SuccessURL      string
	ReturnURL       string
}

// ProdamusGateway builds signed payment form links and verifies the
// form-encoded notifications the gateway posts back.
type ProdamusGateway struct {
	cfg    ProdamusConfig
	secret string
}

func NewProdamusGateway(cfg ProdamusConfig) *ProdamusGateway {
	secret := cfg.SecretKey
	if cfg.TestMode {
		// Demo payments are signed with the key plus a fixed suffix.
		secret += "demo"
	}
	return &ProdamusGateway{cfg: cfg, secret: secret}
}

func (g *ProdamusGateway) Name() string { return ProviderProdamus }

// linkParams returns the parameters of a payment link before signing.
func (g *ProdamusGateway) linkParams(order Order) map[string]string {
	params := map[string]string{
		"do":              "link",
		"order_id":        order.ID,
		"customer_extra":  strconv.FormatInt(order.TelegramID, 10),
		"urlNotification": g.cfg.NotificationURL,
		"urlSuccess":      g.cfg.SuccessURL,
		"sys":             g.cfg.Sys,
	}

	if order.Plan.SubscriptionID != "" {
		params["subscription"] = order.Plan.SubscriptionID
	} else {
		params["products[0][name]"] = order.Plan.Name
		params["products[0][price]"] = strconv.FormatInt(order.Plan.Price, 10)
		params["products[0][quantity]"] = "1"
	}

	if g.cfg.ReturnURL != "" {
		params["urlReturn"] = g.cfg.ReturnURL
	}
	if order.Username != "" {
		params["customer_comment"] = "Telegram: @" + order.Username
	}
	if g.cfg.TestMode {
		params["do"] = "test"
	}
	return params
}

func (g *ProdamusGateway) CheckoutLink(_ context.Context, order Order) (*Link, error) {
	if g.cfg.MerchantURL == "" {
		return nil, fmt.Errorf("prodamus merchant url is not configured")
	}

	params := g.linkParams(order)
	signature := sign(g.secret, params)

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set("signature", signature)

	return &Link{
		URL:       g.cfg.MerchantURL + "?" + query.Encode(),
		Signature: signature,
	}, nil
}

// VerifyWebhook checks a form-encoded notification. The signature is taken
// from the Sign header, or from the signature field when the header is empty.
func (g *ProdamusGateway) VerifyWebhook(payload []byte, signature string) (*VerifiedEvent, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	fields := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			fields[k] = vs[len(vs)-1]
		}
	}

	if signature == "" {
		signature = fields["signature"]
	}
	delete(fields, "signature")

	orderID := fields["order_id"]
	gatewayStatus := strings.ToLower(fields["payment_status"])
	if orderID == "" || gatewayStatus == "" || signature == "" {
		return nil, fmt.Errorf("%w: order_id, payment_status and signature are required", ErrMalformedPayload)
	}

	if !signatureEqual(sign(g.secret, fields), signature) {
		return nil, ErrSignature
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	event := &VerifiedEvent{
		Provider:         ProviderProdamus,
		OrderID:          orderID,
		GatewayStatus:    gatewayStatus,
		GatewayPaymentID: fields["payment_id"],
		Raw:              raw,
	}
	switch gatewayStatus {
	case "success":
		event.Status = models.PaymentPaid
	case "failed", "cancelled", "canceled", "order_canceled", "order_denied":
		event.Status = models.PaymentFailed
	default:
		event.Ignored = true
	}
	return event, nil
}
