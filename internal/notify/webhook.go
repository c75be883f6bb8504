package notify

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jamox/tmc-sandbox/api"
)

// Webhook posts a single form-encoded notification to a caller-supplied
// URL, echoing the caller's opaque token.
type Webhook struct {
	targetUrl string
	token     string
	client    *http.Client
}

func NewWebhook(targetUrl string, token string) *Webhook {
	return &Webhook{
		targetUrl: targetUrl,
		token:     token,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Webhook) Notify(n api.Notification) error {
	vals := url.Values{}
	vals.Set(api.FieldToken, w.token)
	vals.Set(api.FieldStatus, string(n.Status))
	if n.ExitCode != nil {
		vals.Set(api.FieldExitCode, strconv.Itoa(*n.ExitCode))
	}
	vals.Set(api.FieldTestOutput, n.TestOutput)
	vals.Set(api.FieldStdout, n.Stdout)
	vals.Set(api.FieldStderr, n.Stderr)

	resp, err := w.client.PostForm(w.targetUrl, vals)
	if err != nil {
		return fmt.Errorf("failed to post notification to %s: %w", w.targetUrl, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
