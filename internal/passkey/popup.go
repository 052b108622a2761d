package passkey

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/gear-foundation/one-of-us/internal/clock"
	"github.com/gear-foundation/one-of-us/internal/metrics"
)

// Default timings of the popup flow.
const (
	DefaultPollInterval = 300 * time.Millisecond
	DefaultSignTimeout  = 2 * time.Minute
	DefaultAuthTimeout  = 5 * time.Minute
)

// Window is an opened provider window.
type Window interface {
	Closed() bool
}

// Opener opens the provider URL. An error means the window could not be
// opened at all.
type Opener interface {
	Open(url string) (Window, error)
}

// OpenChecker is implemented by openers that can tell, before any window is
// requested, that no window can be opened at all.
type OpenChecker interface {
	CanOpen() error
}

// BrowserOpener opens the provider in the system browser. The browser does
// not report when the tab is closed, so its windows never read as closed and
// the flow ends by result, timeout or cancellation.
type BrowserOpener struct{}

type browserWindow struct{}

func (browserWindow) Closed() bool { return false }

// Open implements Opener.
func (BrowserOpener) Open(u string) (Window, error) {
	if err := browser.OpenURL(u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPopupBlocked, err)
	}
	return browserWindow{}, nil
}

// CanOpen implements OpenChecker. On Linux and the BSDs a browser needs a display
// and one of the launchers pkg/browser invokes.
func (BrowserOpener) CanOpen() error {
	switch runtime.GOOS {
	case "darwin", "windows":
		return nil
	}
	if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		return fmt.Errorf("%w: no display", ErrPopupBlocked)
	}
	for _, launcher := range []string{"xdg-open", "x-www-browser", "www-browser"} {
		if _, err := exec.LookPath(launcher); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: no browser launcher found", ErrPopupBlocked)
}

// Popup runs provider popup flows.
type Popup struct {
	bus          Bus
	opener       Opener
	clock        clock.Clock
	providerURL  string
	callbackURL  string
	pollInterval time.Duration
	signTimeout  time.Duration
	authTimeout  time.Duration
	logger       zerolog.Logger
}

// PopupConfig configures a Popup.
type PopupConfig struct {
	Bus          Bus
	Opener       Opener
	Clock        clock.Clock
	ProviderURL  string
	CallbackURL  string
	PollInterval time.Duration
	SignTimeout  time.Duration
	AuthTimeout  time.Duration
	Logger       zerolog.Logger
}

// NewPopup creates a Popup.
func NewPopup(cfg PopupConfig) (*Popup, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("message bus required")
	}
	if _, err := url.Parse(cfg.ProviderURL); err != nil || cfg.ProviderURL == "" {
		return nil, fmt.Errorf("invalid auth provider URL %q", cfg.ProviderURL)
	}
	if cfg.Opener == nil {
		cfg.Opener = BrowserOpener{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SignTimeout <= 0 {
		cfg.SignTimeout = DefaultSignTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	return &Popup{
		bus:          cfg.Bus,
		opener:       cfg.Opener,
		clock:        cfg.Clock,
		providerURL:  cfg.ProviderURL,
		callbackURL:  cfg.CallbackURL,
		pollInterval: cfg.PollInterval,
		signTimeout:  cfg.SignTimeout,
		authTimeout:  cfg.AuthTimeout,
		logger:       cfg.Logger.With().Str("component", "passkey_popup").Logger(),
	}, nil
}

// WaitForSignature asks the provider to sign hashToSign and waits for the
// callback keyed by that hash.
func (p *Popup) WaitForSignature(ctx context.Context, hashToSign string) (SignedResult, error) {
	q := url.Values{}
	q.Set("id", hashToSign)
	return p.run(ctx, ChannelSign, hashToSign, q, p.signTimeout)
}

// WaitForAuth authenticates with the provider and returns the account id.
func (p *Popup) WaitForAuth(ctx context.Context) (string, error) {
	rid := uuid.NewString()
	q := url.Values{}
	q.Set("rid", rid)
	res, err := p.run(ctx, ChannelAuth, rid, q, p.authTimeout)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

func (p *Popup) providerLink(q url.Values) (string, error) {
	u, err := url.Parse(p.providerURL)
	if err != nil {
		return "", err
	}
	merged := u.Query()
	for k, v := range q {
		merged[k] = v
	}
	if p.callbackURL != "" {
		merged.Set("callback_url", p.callbackURL)
	}
	u.RawQuery = merged.Encode()
	return u.String(), nil
}

// run subscribes, opens the window and waits. Every exit path closes the
// subscription and stops both timers.
func (p *Popup) run(ctx context.Context, channel, key string, q url.Values, timeout time.Duration) (res SignedResult, err error) {
	defer func() { metrics.RecordPopup(channel, outcome(err)) }()

	link, err := p.providerLink(q)
	if err != nil {
		return SignedResult{}, fmt.Errorf("build provider url: %w", err)
	}

	if checker, ok := p.opener.(OpenChecker); ok {
		if err := checker.CanOpen(); err != nil {
			p.logger.Warn().Err(err).Str("channel", channel).Msg("popup blocked")
			return SignedResult{}, ErrPopupBlocked
		}
	}

	sub, err := p.bus.Subscribe(ctx, channel)
	if err != nil {
		return SignedResult{}, fmt.Errorf("subscribe callback channel: %w", err)
	}
	defer sub.Close()

	win, err := p.opener.Open(link)
	if err != nil || win == nil {
		p.logger.Warn().Err(err).Str("channel", channel).Msg("popup blocked")
		return SignedResult{}, ErrPopupBlocked
	}

	logger := p.logger.With().Str("channel", channel).Str("key", key).Logger()
	logger.Debug().Dur("timeout", timeout).Msg("waiting for passkey callback")

	timedOut := make(chan struct{})
	deadline := p.clock.AfterFunc(timeout, func() { close(timedOut) })
	defer deadline.Stop()

	tick := make(chan struct{}, 1)
	arm := func() clock.Timer {
		return p.clock.AfterFunc(p.pollInterval, func() {
			select {
			case tick <- struct{}{}:
			default:
			}
		})
	}
	poll := arm()
	defer func() { poll.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return SignedResult{}, ctx.Err()

		case <-timedOut:
			logger.Warn().Msg("passkey popup timed out")
			return SignedResult{}, ErrPopupTimeout

		case <-tick:
			if win.Closed() {
				logger.Debug().Msg("popup closed before callback")
				return SignedResult{}, ErrPopupClosed
			}
			poll = arm()

		case msg, ok := <-sub.Messages():
			if !ok {
				return SignedResult{}, ErrBusClosed
			}
			if msg.ID != key {
				continue
			}
			switch msg.Type {
			case TypeResult:
				if msg.Payload == nil {
					return SignedResult{}, &ProviderError{Message: "empty passkey result"}
				}
				return *msg.Payload, nil
			case TypeError:
				return SignedResult{}, &ProviderError{Message: msg.Error}
			default:
				logger.Debug().Str("type", msg.Type).Msg("ignoring message of unknown type")
			}
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "result"
	case errors.Is(err, ErrPopupBlocked):
		return "blocked"
	case errors.Is(err, ErrPopupClosed):
		return "closed"
	case errors.Is(err, ErrPopupTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
