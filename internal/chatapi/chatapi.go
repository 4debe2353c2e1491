// Package chatapi is a minimal client for the chat platform's server API.
// Only the channel-membership calls the reminder flow needs are covered.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"remindd/pkg/logx"
)

// Channels removes members from chat channels.
type Channels interface {
	Leave(ctx context.Context, channelURL string, userIDs []string) error
}

type Config struct {
	BaseURL  string `json:"base_url"`
	APIToken string `json:"api_token"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("chat: base_url is required")
	}
	if strings.TrimSpace(c.APIToken) == "" {
		return errors.New("chat: api_token is required")
	}
	return nil
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 5 * time.Second},
		log:  log,
	}, nil
}

// Leave removes the given users from a group channel. Users that are not
// members any more are ignored by the platform, so repeating the call is
// harmless.
func (c *Client) Leave(ctx context.Context, channelURL string, userIDs []string) error {
	if strings.TrimSpace(channelURL) == "" {
		return errors.New("chatapi: channel url is empty")
	}
	if len(userIDs) == 0 {
		return nil
	}

	payload := struct {
		UserIDs []string `json:"user_ids"`
	}{UserIDs: userIDs}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") +
		"/v3/group_channels/" + url.PathEscape(channelURL) + "/leave"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Token", strings.TrimSpace(c.cfg.APIToken))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("chatapi: leave failed: http=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.log.Debug("members removed from channel",
		logx.String("channel", channelURL),
		logx.Int("count", len(userIDs)))
	return nil
}
