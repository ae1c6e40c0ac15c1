package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// LogChannel 日志告警通道
type LogChannel struct {
	logger *log.Logger
	name   string
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, output *os.File) *LogChannel {
	if output == nil {
		output = os.Stdout
	}
	return &LogChannel{
		logger: log.New(output, "[ALERT] ", log.LstdFlags),
		name:   name,
	}
}

// Send 发送告警到日志
func (c *LogChannel) Send(a Alert) error {
	msg := fmt.Sprintf("[%s]", a.Level)
	if a.TenantID != "" {
		msg += fmt.Sprintf("[tenant=%s]", a.TenantID)
	}
	msg += " " + a.Message
	for k, v := range a.Fields {
		msg += fmt.Sprintf(" %s=%v", k, v)
	}
	c.logger.Println(msg)
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string {
	return c.name
}

// WebhookChannel 推送告警到运维 webhook（如飞书/Slack 自定义机器人）
type WebhookChannel struct {
	url    string
	client *http.Client
	name   string
}

// NewWebhookChannel 创建 webhook 告警通道
func NewWebhookChannel(name, url string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: timeout},
		name:   name,
	}
}

// Send POST 告警 JSON
func (c *WebhookChannel) Send(a Alert) error {
	payload, err := json.Marshal(map[string]interface{}{
		"level":     a.Level,
		"tenant_id": a.TenantID,
		"message":   a.Message,
		"timestamp": a.Timestamp.UTC().Format(time.RFC3339),
		"fields":    a.Fields,
	})
	if err != nil {
		return err
	}
	resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned %d", c.name, resp.StatusCode)
	}
	return nil
}

// Name 返回通道名称
func (c *WebhookChannel) Name() string {
	return c.name
}
