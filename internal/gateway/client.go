package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ignatzorin/freelance-payments/internal/pkg/apperror"
)

// Client — синхронный клиент Stripe v1 API (form-encoded).
// Все деньги двигаются только через него: создание интента с ручным
// списанием, частичный capture, возвраты, переводы и connected-аккаунты.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient создаёт экземпляр клиента. baseURL переопределяется в тестах.
func NewClient(baseURL, secretKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreatePaymentIntent создаёт интент с capture_method=manual, выплатой на
// connected-аккаунт исполнителя и комиссией платформы. Средства будут
// удержаны до явного capture.
func (c *Client) CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("currency", params.Currency)
	form.Set("capture_method", "manual")
	form.Set("application_fee_amount", strconv.FormatInt(params.ApplicationFee, 10))
	form.Set("transfer_data[destination]", params.DestinationAccount)
	form.Set("automatic_payment_methods[enabled]", "true")
	if params.PaymentID != "" {
		form.Set("metadata[payment_id]", params.PaymentID)
	}
	if params.ContractID != "" {
		form.Set("metadata[contract_id]", params.ContractID)
	}

	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// RetrievePaymentIntent возвращает текущее состояние интента.
func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+id, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CapturePaymentIntent списывает удержанные средства частичной суммой.
// Перед capture интент перечитывается: если он уже списан или отменён
// (например, параллельным release), возвращается терминальная ошибка
// NotCapturable вместо повторной попытки списания.
func (c *Client) CapturePaymentIntent(ctx context.Context, id string, amountToCapture int64) (*PaymentIntent, error) {
	current, err := c.RetrievePaymentIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != IntentStatusRequiresCapture {
		return nil, apperror.Wrap(
			fmt.Errorf("intent %s in status %s", id, current.Status),
			apperror.ErrCodeGatewayTerminal,
			"интент не готов к списанию",
		)
	}

	form := url.Values{}
	form.Set("amount_to_capture", strconv.FormatInt(amountToCapture, 10))

	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents/"+id+"/capture", form, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CancelPaymentIntent отменяет интент, по которому не было списания.
func (c *Client) CancelPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents/"+id+"/cancel", url.Values{}, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CreateRefund возвращает полную сумму по интенту.
func (c *Client) CreateRefund(ctx context.Context, intentID string, amount int64) (*Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", intentID)
	form.Set("amount", strconv.FormatInt(amount, 10))

	var refund Refund
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", form, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

// CreateTransfer делает явный перевод на connected-аккаунт. В основном
// потоке не используется: комиссия платформы удерживается автоматически
// при capture через application_fee_amount.
func (c *Client) CreateTransfer(ctx context.Context, amount int64, currency, destination, transferGroup string) (*Transfer, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", currency)
	form.Set("destination", destination)
	if transferGroup != "" {
		form.Set("transfer_group", transferGroup)
	}

	var transfer Transfer
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", form, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

// CreateAccount создаёт express connected-аккаунт для исполнителя.
func (c *Client) CreateAccount(ctx context.Context, email string) (*Account, error) {
	form := url.Values{}
	form.Set("type", "express")
	form.Set("email", email)

	var account Account
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", form, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// RetrieveAccount возвращает состояние connected-аккаунта.
func (c *Client) RetrieveAccount(ctx context.Context, id string) (*Account, error) {
	var account Account
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+id, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateAccountLink выпускает одноразовую ссылку онбординга.
func (c *Client) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*AccountLink, error) {
	form := url.Values{}
	form.Set("account", accountID)
	form.Set("refresh_url", refreshURL)
	form.Set("return_url", returnURL)
	form.Set("type", "account_onboarding")

	var link AccountLink
	if err := c.do(ctx, http.MethodPost, "/v1/account_links", form, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// do выполняет запрос к Stripe и раскладывает ошибки на retryable/terminal.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("gateway: build request %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Сетевые сбои и таймауты всегда можно повторить: состояние
		// платежа при этом не менялось.
		return apperror.Wrap(err, apperror.ErrCodeGatewayRetryable, "платёжный шлюз недоступен")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("код ответа %d", resp.StatusCode)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return apperror.Wrap(
				fmt.Errorf("stripe %s %s: %s", method, path, msg),
				apperror.ErrCodeGatewayRetryable,
				msg,
			)
		}

		// 400/402/404 — терминальные: отклонение, невалидный запрос,
		// несуществующий объект. Повтор не поможет.
		return apperror.Wrap(
			fmt.Errorf("stripe %s %s: %s (%s)", method, path, msg, apiErr.Error.Code),
			apperror.ErrCodeGatewayTerminal,
			msg,
		)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("gateway: decode response %w", err)
		}
	}

	return nil
}
