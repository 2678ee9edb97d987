/**
 * @description
 * This package provides the client for the card processor API. It encapsulates
 * authenticated HTTP requests, request body construction, and the single
 * classification boundary that turns processor responses into the closed
 * result taxonomy {approved | declined | error(retryable)}. Downstream
 * code never re-parses raw processor fields.
 *
 * Every mutating call carries a caller-supplied idempotency token, so a
 * request that reached the processor but whose response was lost can be
 * retried without double-charging.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - internal/domain: For the error taxonomy produced at classification.
 */
package processorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/transfa/payment-service/internal/domain"
)

// ErrTransactionUnknown is returned by Lookup when the processor has no
// record of the idempotency token, i.e. the original call never landed.
var ErrTransactionUnknown = errors.New("processor has no transaction for token")

// OutcomeKind tags the closed processor result variant.
type OutcomeKind string

const (
	OutcomeApproved OutcomeKind = "approved"
	OutcomeDeclined OutcomeKind = "declined"
)

// Result is the classified outcome of a processor call. Transient and
// ambiguous failures are returned as errors from the taxonomy instead.
type Result struct {
	Outcome       OutcomeKind
	TransactionID string
	Status        string // processor-side status: authorized, captured, voided, refunded, settled
	DeclineCode   string
	DeclineReason string
}

// Client is a client for the processor API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new processor API client with a bounded timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// transactionRequest is the envelope for all mutating processor calls.
type transactionRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Amount          int64  `json:"amount"`
			Currency        string `json:"currency"`
			InstrumentToken string `json:"instrument_token,omitempty"`
			Reference       string `json:"reference,omitempty"`
			TransactionID   string `json:"transaction_id,omitempty"`
			Reason          string `json:"reason,omitempty"`
		} `json:"attributes"`
	} `json:"data"`
}

// transactionResponse is the expected success envelope.
type transactionResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status        string `json:"status"`
			DeclineCode   string `json:"decline_code"`
			DeclineReason string `json:"decline_reason"`
		} `json:"attributes"`
	} `json:"data"`
}

// errorResponse represents an error envelope from the processor API.
type errorResponse struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *errorResponse) first() (code, detail string) {
	if len(e.Errors) == 0 {
		return "unknown", "unknown processor error"
	}
	return e.Errors[0].Code, e.Errors[0].Detail
}

// Authorize places a hold for the amount. capture=true requests the combined
// auth+capture purchase path.
func (c *Client) Authorize(ctx context.Context, amount int64, currency, instrumentToken, reference string, capture bool, idempotencyToken string) (*Result, error) {
	req := transactionRequest{}
	req.Data.Type = "Authorization"
	if capture {
		req.Data.Type = "Purchase"
	}
	req.Data.Attributes.Amount = amount
	req.Data.Attributes.Currency = currency
	req.Data.Attributes.InstrumentToken = instrumentToken
	req.Data.Attributes.Reference = reference
	return c.do(ctx, "POST", "/api/v1/transactions", req, idempotencyToken)
}

// Capture captures a previously authorized transaction.
func (c *Client) Capture(ctx context.Context, processorTxID string, amount int64, idempotencyToken string) (*Result, error) {
	req := transactionRequest{}
	req.Data.Type = "Capture"
	req.Data.Attributes.Amount = amount
	req.Data.Attributes.TransactionID = processorTxID
	return c.do(ctx, "POST", "/api/v1/transactions/"+processorTxID+"/capture", req, idempotencyToken)
}

// Void releases an authorization hold.
func (c *Client) Void(ctx context.Context, processorTxID string, idempotencyToken string) (*Result, error) {
	req := transactionRequest{}
	req.Data.Type = "Void"
	req.Data.Attributes.TransactionID = processorTxID
	return c.do(ctx, "POST", "/api/v1/transactions/"+processorTxID+"/void", req, idempotencyToken)
}

// Refund refunds part or all of a captured transaction.
func (c *Client) Refund(ctx context.Context, processorTxID string, amount int64, reason string, idempotencyToken string) (*Result, error) {
	req := transactionRequest{}
	req.Data.Type = "Refund"
	req.Data.Attributes.Amount = amount
	req.Data.Attributes.TransactionID = processorTxID
	req.Data.Attributes.Reason = reason
	return c.do(ctx, "POST", "/api/v1/transactions/"+processorTxID+"/refund", req, idempotencyToken)
}

// Lookup resolves the outcome of a prior call by its idempotency token. Used
// by reconciliation when a mutating call ended ambiguously. A 404 means the
// original request never reached the processor.
func (c *Client) Lookup(ctx context.Context, idempotencyToken string) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v1/transactions/by-token/"+idempotencyToken, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-processor-key", c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		// A read can always be retried; no side effect is at stake.
		return nil, &domain.RetryableProcessorError{Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.RetryableProcessorError{Err: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTransactionUnknown
	}
	return c.classify(resp.StatusCode, body, "lookup")
}

// do executes one mutating call and routes the response through classify.
func (c *Client) do(ctx context.Context, method, path string, payload any, idempotencyToken string) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal processor request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create processor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-processor-key", c.APIKey)
	httpReq.Header.Set("Idempotency-Key", idempotencyToken)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		// The request may or may not have reached the processor. Timeouts and
		// cancellations on a mutating call are ambiguous and must be
		// reconciled, never assumed failed or successful.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || isTimeout(err) {
			return nil, &domain.AmbiguousProcessorError{Err: err}
		}
		return nil, &domain.RetryableProcessorError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.AmbiguousProcessorError{Err: err}
	}

	return c.classify(resp.StatusCode, respBody, path)
}

// classify is the single boundary turning a raw processor response into the
// closed taxonomy. Nothing outside this function inspects status codes or
// error bodies.
func (c *Client) classify(status int, body []byte, op string) (*Result, error) {
	switch {
	case status >= 200 && status < 300:
		var success transactionResponse
		if err := json.Unmarshal(body, &success); err != nil {
			return nil, fmt.Errorf("failed to decode processor response: %w", err)
		}
		attrs := success.Data.Attributes
		if attrs.Status == "declined" {
			return &Result{
				Outcome:       OutcomeDeclined,
				TransactionID: success.Data.ID,
				Status:        attrs.Status,
				DeclineCode:   attrs.DeclineCode,
				DeclineReason: attrs.DeclineReason,
			}, nil
		}
		return &Result{
			Outcome:       OutcomeApproved,
			TransactionID: success.Data.ID,
			Status:        attrs.Status,
		}, nil

	case status >= 500:
		log.Printf("level=warn component=processor_client op=%s status=%d msg=\"server error; retryable\"", op, status)
		return nil, &domain.RetryableProcessorError{Err: fmt.Errorf("processor returned status %d", status)}

	case status == http.StatusPaymentRequired:
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err == nil {
			code, detail := errResp.first()
			return &Result{Outcome: OutcomeDeclined, DeclineCode: code, DeclineReason: detail}, nil
		}
		return &Result{Outcome: OutcomeDeclined, DeclineCode: "declined", DeclineReason: "payment declined"}, nil

	default:
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			log.Printf("level=warn component=processor_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, status)
			return nil, &domain.TerminalProcessorError{Code: fmt.Sprintf("http_%d", status), Reason: "unparsable processor error"}
		}
		code, detail := errResp.first()
		log.Printf("level=warn component=processor_client op=%s status=%d code=%q detail=%q", op, status, code, detail)
		return nil, &domain.TerminalProcessorError{Code: code, Reason: detail}
	}
}

func isTimeout(err error) bool {
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
