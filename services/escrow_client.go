package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EscrowService is the wallet collaborator that holds staked funds. Reserve
// and Release are idempotent under retry with the same match id on the wallet
// side; Refund returns both stakes when a match is voided.
type EscrowService interface {
	Reserve(ctx context.Context, matchID string, amount int64, userIDs []string) (string, error)
	Release(ctx context.Context, matchID, winnerID string) (bool, error)
	Refund(ctx context.Context, matchID string) error
}

// EscrowServiceClient calls the wallet service over HTTP through the gateway
// service token.
type EscrowServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewEscrowServiceClient(baseURL, token string) *EscrowServiceClient {
	return &EscrowServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Reserve locks both players' stakes for a match and returns the lock id.
func (c *EscrowServiceClient) Reserve(ctx context.Context, matchID string, amount int64, userIDs []string) (string, error) {
	var out struct {
		LockID string `json:"lock_id"`
	}
	err := c.post(ctx, "/api/v1/escrow/reserve", map[string]interface{}{
		"match_id": matchID,
		"amount":   amount,
		"user_ids": userIDs,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("reserve escrow for match %s: %w", matchID, err)
	}
	return out.LockID, nil
}

// Release pays the held stakes out to the winner.
func (c *EscrowServiceClient) Release(ctx context.Context, matchID, winnerID string) (bool, error) {
	var out struct {
		Released bool `json:"released"`
	}
	err := c.post(ctx, "/api/v1/escrow/release", map[string]interface{}{
		"match_id":  matchID,
		"winner_id": winnerID,
	}, &out)
	if err != nil {
		return false, fmt.Errorf("release escrow for match %s: %w", matchID, err)
	}
	return out.Released, nil
}

// Refund returns both stakes after a void.
func (c *EscrowServiceClient) Refund(ctx context.Context, matchID string) error {
	err := c.post(ctx, "/api/v1/escrow/refund", map[string]interface{}{
		"match_id": matchID,
	}, nil)
	if err != nil {
		return fmt.Errorf("refund escrow for match %s: %w", matchID, err)
	}
	return nil
}

func (c *EscrowServiceClient) post(ctx context.Context, path string, body map[string]interface{}, out interface{}) error {
	jsonData, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("call wallet service: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("wallet service returned %d: %s", resp.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode wallet service response: %w", err)
		}
	}
	return nil
}
