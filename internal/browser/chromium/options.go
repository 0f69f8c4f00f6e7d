package chromium

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/pagesource/internal/config"
)

// allocatorOptions builds the exec allocator options for cfg. Extra args may
// be written with or without the leading "--"; chromedp adds it itself.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+len(cfg.Args)+4)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		// Hardened hosts and containers refuse the sandbox.
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	// DefaultExecAllocatorOptions already contains headless.
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecutablePath))
	}

	for _, arg := range cfg.Args {
		if name, value, ok := parseArg(arg); ok {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}
	return opts
}

// parseArg splits "--name=value" or "name" into a chromedp flag. Boolean
// switches get the value true.
func parseArg(arg string) (name string, value interface{}, ok bool) {
	name, v, hasValue := strings.Cut(strings.TrimLeft(strings.TrimSpace(arg), "-"), "=")
	if name == "" {
		return "", nil, false
	}
	if hasValue {
		return name, v, true
	}
	return name, true, true
}
