// Package twilio implements the voice and chat channels against the Twilio
// REST API: programmable voice calls carrying inline TwiML and WhatsApp
// messages. The rest of the system only sees the channel interfaces.
package twilio

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"medremind/internal/channel"
	"medremind/pkg/logx"
)

const defaultBaseURL = "https://api.twilio.com"

type Config struct {
	AccountSID   string
	AuthToken    string
	VoiceFrom    string // E.164 caller number
	WhatsAppFrom string // E.164 WhatsApp sender number
	BaseURL      string // override for tests
	Timeout      time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("twilio: account sid and auth token are required")
	}
	if strings.TrimSpace(cfg.VoiceFrom) == "" || strings.TrimSpace(cfg.WhatsAppFrom) == "" {
		return nil, errors.New("twilio: voice and whatsapp sender numbers are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}, nil
}

// Call places a voice call that plays the custom audio asset, or speaks the
// text when no asset is configured.
func (c *Client) Call(ctx context.Context, phone string, content channel.CallContent) (channel.Receipt, error) {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", c.cfg.VoiceFrom)
	form.Set("Twiml", twiml(content))
	return c.post(ctx, "Calls", form)
}

// Send delivers one WhatsApp message, with optional media.
func (c *Client) Send(ctx context.Context, phone string, msg channel.Message) (channel.Receipt, error) {
	form := url.Values{}
	form.Set("To", "whatsapp:"+phone)
	form.Set("From", "whatsapp:"+c.cfg.WhatsAppFrom)
	form.Set("Body", msg.Body)
	if msg.MediaURL != "" {
		form.Set("MediaUrl", msg.MediaURL)
	}
	return c.post(ctx, "Messages", form)
}

func twiml(content channel.CallContent) string {
	var b strings.Builder
	b.WriteString("<Response>")
	if content.AudioURL != "" {
		b.WriteString("<Play>")
		_ = xml.EscapeText(&b, []byte(content.AudioURL))
		b.WriteString("</Play>")
	} else {
		b.WriteString("<Say>")
		_ = xml.EscapeText(&b, []byte(content.Say))
		b.WriteString("</Say><Hangup/>")
	}
	b.WriteString("</Response>")
	return b.String()
}

type apiResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) post(ctx context.Context, resource string, form url.Values) (channel.Receipt, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s.json", c.cfg.BaseURL, c.cfg.AccountSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return channel.Receipt{}, &channel.DeliveryError{Code: "request", Message: err.Error()}
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return channel.Receipt{}, &channel.DeliveryError{Code: "transport", Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return channel.Receipt{}, &channel.DeliveryError{Code: "transport", Message: err.Error()}
	}

	var ar apiResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return channel.Receipt{}, &channel.DeliveryError{
			Code:    strconv.Itoa(resp.StatusCode),
			Message: "unparseable provider response",
		}
	}

	if resp.StatusCode >= 400 {
		code := strconv.Itoa(resp.StatusCode)
		if ar.Code != 0 {
			code = strconv.Itoa(ar.Code)
		}
		c.log.Warn("provider rejected send",
			logx.String("resource", resource),
			logx.String("code", code))
		return channel.Receipt{}, &channel.DeliveryError{Code: code, Message: ar.Message}
	}

	c.log.Debug("provider accepted send",
		logx.String("resource", resource),
		logx.String("sid", ar.SID))
	return channel.Receipt{SID: ar.SID}, nil
}
