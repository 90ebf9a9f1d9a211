package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserConfig configures the browser tool's navigation gate.
type BrowserConfig struct {
	Enabled   bool
	Headless  bool
	Allowlist DomainAllowlist
}

// BrowserTool is a CLI-proxy style tool around a headless Chromium
// instance: before every navigation it runs validate_url (ssrf.go) against
// the configured domain allowlist, matching the exec/shell tools' pattern
// of gating a side-effecting external action behind an explicit policy
// check rather than trusting caller-supplied input.
type BrowserTool struct {
	mu        sync.Mutex
	browser   *rod.Browser
	headless  bool
	allowlist DomainAllowlist
}

func NewBrowserTool(cfg BrowserConfig) *BrowserTool {
	return &BrowserTool{headless: cfg.Headless, allowlist: cfg.Allowlist}
}

func (t *BrowserTool) Name() string { return "browser" }

func (t *BrowserTool) Description() string {
	return "Navigate to a URL in a headless browser and return the rendered page text. URLs are checked against validate_url (public hosts only, domain allowlist) before navigation."
}

func (t *BrowserTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "http(s) URL to navigate to.",
			},
		},
		"required": []string{"url"},
	}
}

func (t *BrowserTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}
	if err := ValidateURL(ctx, rawURL, t.allowlist); err != nil {
		return ErrorResult(err.Error())
	}

	b, err := t.ensureBrowser()
	if err != nil {
		return ErrorResult(fmt.Sprintf("browser: %v", err))
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return ErrorResult(fmt.Sprintf("browser: open page: %v", err))
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := page.Navigate(rawURL); err != nil {
		return ErrorResult(fmt.Sprintf("browser: navigate: %v", err))
	}
	if err := page.WaitLoad(); err != nil {
		return ErrorResult(fmt.Sprintf("browser: wait load: %v", err))
	}

	html, err := page.HTML()
	if err != nil {
		return ErrorResult(fmt.Sprintf("browser: read content: %v", err))
	}

	text := htmlToText(html)
	wrapped := wrapExternalContent(text, "Browser", true)
	return NewResult(wrapped)
}

func (t *BrowserTool) ensureBrowser() (*rod.Browser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browser != nil {
		return t.browser, nil
	}
	b := rod.New()
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}
	slog.Info("browser tool: launched headless browser", "headless", t.headless)
	t.browser = b
	return t.browser, nil
}

// Close releases the underlying browser process, matching the defer
// browserMgr.Close() lifecycle pattern used for every other long-lived
// external resource wired into the gateway.
func (t *BrowserTool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browser == nil {
		return nil
	}
	err := t.browser.Close()
	t.browser = nil
	return err
}
