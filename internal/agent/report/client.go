package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dhcptap/pkg/model"
)

type Client struct {
	url    string
	client *http.Client
}

// NewClient 的 serverURL 形如 http://host:port，缺省 scheme 时按 http 处理。
func NewClient(serverURL string, timeout time.Duration) *Client {
	if !strings.Contains(serverURL, "://") {
		serverURL = "http://" + serverURL
	}
	return &Client{
		url: strings.TrimRight(serverURL, "/") + "/api/v1/upload",
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) URL() string { return c.url }

func (c *Client) Upload(ctx context.Context, ev *model.DHCPEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("序列化 JSON 失败：%w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造 HTTP 请求失败：%w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST 上报失败：%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST 上报失败：status=%s", resp.Status)
	}
	return nil
}
