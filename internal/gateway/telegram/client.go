package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"donatebot/internal/ports"

	"go.uber.org/zap"
)

const (
	descChargeNotFound        = "CHARGE_NOT_FOUND"
	descChargeAlreadyRefunded = "CHARGE_ALREADY_REFUNDED"
)

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Client talks to the Telegram Bot API and implements ports.Gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

var _ ports.Gateway = (*Client)(nil)

func NewClient(apiURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(apiURL, "/") + "/bot" + token,
		httpClient: &http.Client{},
		timeout:    timeout,
		logger:     logger.Named("telegram"),
	}
}

func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}, extra time.Duration) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("telegram %s: encode: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout+extra)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the URL carries the token; don't let it reach the logs
		return fmt.Errorf("telegram %s: request failed: %w", method, unwrapURLError(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("telegram %s: read body: %w", method, err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return fmt.Errorf("telegram %s: status %d: decode: %w", method, resp.StatusCode, err)
	}
	if !apiResp.OK {
		apiErr := &APIError{Method: method, Code: apiResp.ErrorCode, Description: apiResp.Description}
		if apiResp.Parameters != nil {
			apiErr.RetryAfter = apiResp.Parameters.RetryAfter
		}
		c.logger.Debug("bot api error",
			zap.String("method", method),
			zap.Int("code", apiErr.Code),
			zap.String("description", apiErr.Description))
		return apiErr
	}
	if result != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

func unwrapURLError(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		if inner := u.Unwrap(); inner != nil {
			return inner
		}
	}
	return err
}

type sendMessageParams struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendMessage sends HTML-formatted text.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", sendMessageParams{ChatID: chatID, Text: text, ParseMode: "HTML"}, nil, 0)
}

// SendMenu sends text with an inline keyboard.
func (c *Client) SendMenu(ctx context.Context, chatID int64, text string, markup InlineKeyboardMarkup) error {
	return c.call(ctx, "sendMessage", sendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: &markup,
	}, nil, 0)
}

type sendInvoiceParams struct {
	ChatID                    int64                 `json:"chat_id"`
	Title                     string                `json:"title"`
	Description               string                `json:"description"`
	Payload                   string                `json:"payload"`
	ProviderToken             string                `json:"provider_token"`
	Currency                  string                `json:"currency"`
	Prices                    []ports.LabeledPrice  `json:"prices"`
	NeedName                  bool                  `json:"need_name"`
	NeedEmail                 bool                  `json:"need_email"`
	NeedPhoneNumber           bool                  `json:"need_phone_number"`
	SendEmailToProvider       bool                  `json:"send_email_to_provider"`
	SendPhoneNumberToProvider bool                  `json:"send_phone_number_to_provider"`
	ReplyMarkup               *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendInvoice sends a Stars invoice; Stars invoices take an empty provider token.
func (c *Client) SendInvoice(ctx context.Context, inv ports.Invoice) error {
	params := sendInvoiceParams{
		ChatID:      inv.ChatID,
		Title:       inv.Title,
		Description: inv.Description,
		Payload:     inv.Payload,
		Currency:    inv.Currency,
		Prices:      inv.Prices,
	}
	if inv.PayButtonText != "" {
		markup := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
			{{Text: inv.PayButtonText, Pay: true}},
		}}
		if inv.BackCallback != "" {
			markup.InlineKeyboard = append(markup.InlineKeyboard,
				[]InlineKeyboardButton{{Text: inv.BackText, CallbackData: inv.BackCallback}})
		}
		params.ReplyMarkup = markup
	}
	return c.call(ctx, "sendInvoice", params, nil, 0)
}

type refundStarPaymentParams struct {
	UserID                  int64  `json:"user_id"`
	TelegramPaymentChargeID string `json:"telegram_payment_charge_id"`
}

// IssueRefund reverses a Stars payment. Processor rejections for unknown or
// already refunded charges are reported as the ports sentinel errors.
func (c *Client) IssueRefund(ctx context.Context, payerID int64, transactionID string) error {
	err := c.call(ctx, "refundStarPayment", refundStarPaymentParams{
		UserID:                  payerID,
		TelegramPaymentChargeID: transactionID,
	}, nil, 0)
	if err == nil {
		return nil
	}
	return classifyRefundError(err)
}

func classifyRefundError(err error) error {
	apiErr, ok := err.(*APIError)
	if !ok {
		return err
	}
	switch {
	case strings.Contains(apiErr.Description, descChargeAlreadyRefunded):
		return fmt.Errorf("%w: %s", ports.ErrChargeAlreadyRefunded, apiErr.Error())
	case strings.Contains(apiErr.Description, descChargeNotFound):
		return fmt.Errorf("%w: %s", ports.ErrChargeNotFound, apiErr.Error())
	default:
		return apiErr
	}
}

func (c *Client) AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	params := map[string]interface{}{
		"pre_checkout_query_id": queryID,
		"ok":                    ok,
	}
	if !ok {
		params["error_message"] = errorMessage
	}
	return c.call(ctx, "answerPreCheckoutQuery", params, nil, 0)
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, queryID, text string) error {
	params := map[string]interface{}{"callback_query_id": queryID}
	if text != "" {
		params["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", params, nil, 0)
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil, 0)
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]interface{}{
		"offset":          offset,
		"timeout":         timeoutSeconds,
		"allowed_updates": []string{"message", "callback_query", "pre_checkout_query"},
	}, &updates, time.Duration(timeoutSeconds)*time.Second)
	return updates, err
}

func (c *Client) SetWebhook(ctx context.Context, url, secretToken string) error {
	params := map[string]interface{}{
		"url":             url,
		"allowed_updates": []string{"message", "callback_query", "pre_checkout_query"},
	}
	if secretToken != "" {
		params["secret_token"] = secretToken
	}
	return c.call(ctx, "setWebhook", params, nil, 0)
}

func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]interface{}{}, nil, 0)
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", map[string]interface{}{}, &me, 0); err != nil {
		return nil, err
	}
	return &me, nil
}
