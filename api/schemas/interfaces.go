package schemas

import (
	"context"
	"time"
)

// -- Engine Capability Interfaces --

// Engine launches a headless browser process. Implementations live under
// internal/browser (chromium via CDP, playwright).
type Engine interface {
	// Name identifies the engine in logs and metrics.
	Name() string
	// Launch starts the browser. ctx bounds the launch itself, not the
	// lifetime of the returned Browser.
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a launched browser instance shared by every fetch.
type Browser interface {
	// NewPage opens an isolated page context for exactly one fetch.
	NewPage(ctx context.Context) (Page, error)
	// Close terminates the browser process.
	Close(ctx context.Context) error
}

// Page is a single browsing context. It is owned by the fetch that created it
// and is never shared.
type Page interface {
	// ID is a unique identifier used for log correlation.
	ID() string
	// Route installs an interception rule. Every subresource request for which
	// block returns true is aborted before it reaches the network.
	Route(ctx context.Context, block func(RequestInfo) bool) error
	// Navigate loads url and waits for the engine's default readiness
	// criterion. The deadline of ctx bounds the navigation.
	Navigate(ctx context.Context, url string) error
	// Content returns the serialized HTML of the current document.
	Content(ctx context.Context) (string, error)
	// Close releases the page context.
	Close(ctx context.Context) error
}

// -- Centralized Core Service Interfaces --

// SessionProvider supplies the process-wide browser session.
type SessionProvider interface {
	// EnsureSession returns the shared Browser, launching it on first use.
	EnsureSession(ctx context.Context) (Browser, error)
	// State reports the current launch state.
	State() LaunchState
}

// PageFetcher renders a page and returns its serialized DOM.
type PageFetcher interface {
	FetchRenderedSource(ctx context.Context, url string, timeout time.Duration) (string, error)
}
