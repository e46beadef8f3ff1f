package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// MaxBatchSize is the provider's hard cap on recipients per API call.
const MaxBatchSize = 100

// interBatchDelay spaces consecutive batch calls to respect the
// provider's rate limits.
const interBatchDelay = 200 * time.Millisecond

// Provider status codes, per the bulk messaging API docs.
const (
	CodeProcessed          = 100
	CodeSent               = 101
	CodeQueued             = 102
	CodeInvalidPhoneNumber = 403
	CodeUnsupportedNumber  = 404
	CodeInsufficientCredit = 405
	CodeUserInBlacklist    = 406
	CodeCouldNotRoute      = 407
	CodeInternalError      = 500
	CodeGatewayError       = 501
)

// PermanentCode reports whether a status code means the number itself
// will never receive messages (as opposed to a transient condition).
func PermanentCode(code int) bool {
	switch code {
	case CodeInvalidPhoneNumber, CodeUnsupportedNumber, CodeUserInBlacklist:
		return true
	}
	return false
}

// SendResult is the per-recipient outcome of one bulk call.
type SendResult struct {
	Number     string
	Accepted   bool
	MessageID  string
	Status     string
	StatusCode int
}

// Client talks to the bulk SMS provider's HTTP API.
type Client struct {
	BaseURL  string
	Username string
	APIKey   string
	SenderID string
	client   *http.Client

	// batchDelay is overridable in tests; zero means interBatchDelay.
	batchDelay time.Duration
}

func NewClient(baseURL, username, apiKey, senderID string) *Client {
	if baseURL == "" {
		baseURL = "https://api.sandbox.umoja-sms.co.ke"
	}
	return &Client{
		BaseURL:  baseURL,
		Username: username,
		APIKey:   apiKey,
		SenderID: senderID,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether the client has credentials to call the
// provider at all.
func (c *Client) Configured() bool {
	return c != nil && c.APIKey != "" && c.Username != ""
}

type bulkSendReq struct {
	Username string   `json:"username"`
	SenderID string   `json:"sender_id"`
	To       []string `json:"to"`
	Message  string   `json:"message"`
}

type bulkSendResp struct {
	MessageData struct {
		Message    string `json:"message"`
		Recipients []struct {
			Number     string `json:"number"`
			Status     string `json:"status"`
			StatusCode int    `json:"status_code"`
			MessageID  string `json:"message_id"`
		} `json:"recipients"`
	} `json:"sms_message_data"`
}

// SendOne sends a single message; a convenience over SendBulk.
func (c *Client) SendOne(ctx context.Context, number, text string) (SendResult, error) {
	results, err := c.SendBulk(ctx, []string{number}, text)
	if err != nil {
		return SendResult{Number: number}, err
	}
	return results[0], nil
}

// SendBulk sends one message to many recipients. Numbers are normalized
// first; those that fail normalization are failed immediately and never
// sent. The rest go out in provider-sized chunks with a small delay
// between calls, and the per-recipient outcomes are aggregated into one
// list. A batch-level provider error fails only that batch's
// recipients; it is never conflated with per-recipient statuses.
func (c *Client) SendBulk(ctx context.Context, numbers []string, text string) ([]SendResult, error) {
	results := make([]SendResult, 0, len(numbers))
	var valid []string
	normalized := make(map[string]string, len(numbers)) // canonical -> raw
	for _, raw := range numbers {
		num, err := NormalizeNumber(raw)
		if err != nil {
			results = append(results, SendResult{
				Number:     raw,
				Accepted:   false,
				Status:     "InvalidPhoneNumber",
				StatusCode: CodeInvalidPhoneNumber,
			})
			continue
		}
		valid = append(valid, num)
		normalized[num] = raw
	}

	for start := 0; start < len(valid); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(valid) {
			end = len(valid)
		}
		batch := valid[start:end]
		if start > 0 {
			delay := c.batchDelay
			if delay == 0 {
				delay = interBatchDelay
			}
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(delay):
			}
		}
		batchResults, err := c.sendBatch(ctx, batch, text)
		if err != nil {
			// Whole call failed: every recipient in this batch gets the
			// batch error, then move on to the next batch.
			log.Printf("[SMS] batch of %d failed: %v", len(batch), err)
			for _, num := range batch {
				results = append(results, SendResult{
					Number:     resolveRaw(normalized, num),
					Accepted:   false,
					Status:     "GatewayError",
					StatusCode: CodeGatewayError,
				})
			}
			continue
		}
		for i := range batchResults {
			batchResults[i].Number = resolveRaw(normalized, batchResults[i].Number)
		}
		results = append(results, batchResults...)
	}
	return results, nil
}

func (c *Client) sendBatch(ctx context.Context, numbers []string, text string) ([]SendResult, error) {
	body, _ := json.Marshal(bulkSendReq{
		Username: c.Username,
		SenderID: c.SenderID,
		To:       numbers,
		Message:  text,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messaging/bulk", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apiKey", c.APIKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("sms bulk send: %d", resp.StatusCode)
	}
	var out bulkSendResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	byNumber := make(map[string]SendResult, len(out.MessageData.Recipients))
	for _, rec := range out.MessageData.Recipients {
		byNumber[rec.Number] = SendResult{
			Number:     rec.Number,
			Accepted:   rec.StatusCode >= 100 && rec.StatusCode < 200,
			MessageID:  rec.MessageID,
			Status:     rec.Status,
			StatusCode: rec.StatusCode,
		}
	}
	// Keep request order; a recipient the provider did not echo back is
	// treated as routed nowhere.
	results := make([]SendResult, 0, len(numbers))
	for _, num := range numbers {
		if r, ok := byNumber[num]; ok {
			results = append(results, r)
			continue
		}
		results = append(results, SendResult{
			Number:     num,
			Accepted:   false,
			Status:     "CouldNotRoute",
			StatusCode: CodeCouldNotRoute,
		})
	}
	return results, nil
}

func resolveRaw(normalized map[string]string, num string) string {
	if raw, ok := normalized[num]; ok {
		return raw
	}
	return num
}
