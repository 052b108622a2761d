package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/gear-foundation/one-of-us/internal/chain"
	"github.com/gear-foundation/one-of-us/internal/config"
	"github.com/gear-foundation/one-of-us/internal/counter"
	"github.com/gear-foundation/one-of-us/internal/join"
	"github.com/gear-foundation/one-of-us/internal/localstore"
	"github.com/gear-foundation/one-of-us/internal/membership"
	"github.com/gear-foundation/one-of-us/internal/passkey"
	"github.com/gear-foundation/one-of-us/internal/pending"
)

// stateFile holds the client's persisted pending join and passkey account.
const stateFile = "state.json"

// App wires the client components of one command invocation.
type App struct {
	cfg    config.Client
	logger zerolog.Logger

	chain      *chain.Client
	registry   *chain.Registry
	encoding   chain.CountEncoding
	api        *membership.Client
	storage    localstore.Storage
	pending    *pending.Store
	programIDs *passkey.ProgramIDs
	signer     *chain.WalletSigner

	bus      passkey.Bus
	redisBus *passkey.RedisBus
	popup    *passkey.Popup
	callback *http.Server
}

// NewApp builds the client from its configuration.
func NewApp(cfg config.Client, logger zerolog.Logger) (*App, error) {
	client, err := chain.NewClient(chain.Config{RPCURL: cfg.RPCURL, Logger: logger})
	if err != nil {
		return nil, err
	}
	program, err := chain.ParseProgramAddress(cfg.ProgramID)
	if err != nil {
		return nil, err
	}
	enc, err := chain.ParseCountEncoding(cfg.CountEncoding)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	storage, err := localstore.NewFile(filepath.Join(cfg.StateDir, stateFile))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		logger:     logger,
		chain:      client,
		registry:   chain.NewRegistry(program),
		encoding:   enc,
		api:        membership.NewClient(membership.ClientConfig{BaseURL: cfg.APIURL}),
		storage:    storage,
		pending:    pending.NewStore(storage),
		programIDs: passkey.NewProgramIDs(storage),
	}

	if cfg.WalletPrivateKey != "" {
		if a.signer, err = chain.NewWalletSigner(cfg.WalletPrivateKey); err != nil {
			return nil, err
		}
	}

	if cfg.RedisURL != "" {
		if a.redisBus, err = passkey.NewRedisBusFromURL(cfg.RedisURL, "oneofus", logger); err != nil {
			return nil, err
		}
		a.bus = a.redisBus
	} else {
		a.bus = passkey.NewMemoryBus()
	}

	a.popup, err = passkey.NewPopup(passkey.PopupConfig{
		Bus:         a.bus,
		ProviderURL: cfg.AuthProviderURL,
		CallbackURL: cfg.Callback(),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases the callback server and the Redis connection.
func (a *App) Close() {
	if a.callback != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.callback.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("callback server shutdown failed")
		}
	}
	if a.redisBus != nil {
		if err := a.redisBus.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("redis close failed")
		}
	}
}

// ServeCallback serves the passkey callback page on CALLBACK_ADDR. It is a
// no-op when results arrive from elsewhere: a configured CALLBACK_URL means
// another process serves the page and relays over Redis.
func (a *App) ServeCallback() error {
	if a.callback != nil || a.cfg.CallbackURL != "" {
		return nil
	}

	ln, err := net.Listen("tcp", a.cfg.CallbackAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.CallbackAddr, err)
	}

	r := mux.NewRouter()
	r.Handle("/auth/callback", passkey.CallbackHandler(a.bus, a.logger)).Methods(http.MethodGet)
	a.callback = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := a.callback.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("callback server failed")
		}
	}()
	a.logger.Debug().Str("addr", ln.Addr().String()).Msg("passkey callback listening")
	return nil
}

// CountReader returns a cached reader of the on-chain member count.
func (a *App) CountReader() *chain.CountReader {
	return chain.NewCountReader(chain.CountReaderConfig{
		Client:   a.chain,
		Registry: a.registry,
		Encoding: a.encoding,
		Logger:   a.logger,
	})
}

// Counter returns the displayed member count, fed by the chain.
func (a *App) Counter(onChange func(uint32)) *counter.Cache {
	return counter.New(counter.Config{
		Source:   a.CountReader(),
		Logger:   a.logger,
		OnChange: onChange,
	})
}

// Address resolves the account to act for: the explicit value, else the
// passkey account in passkey mode, else the wallet address.
func (a *App) Address(explicit string) (string, error) {
	switch {
	case explicit != "":
		return membership.NormalizeAddress(explicit)
	case a.cfg.Passkey():
		id, err := a.programIDs.Get()
		if err != nil {
			return "", err
		}
		if id == "" {
			return "", errors.New("not signed in, run `oneofus auth` first")
		}
		return membership.NormalizeAddress(id)
	case a.signer != nil:
		return membership.NormalizeAddress(a.signer.Address().Hex())
	default:
		return "", join.ErrNoAddress
	}
}

// Submitter returns the join submitter for the configured signing mode.
func (a *App) Submitter() (join.Submitter, error) {
	if !a.cfg.Passkey() {
		return join.NewDirectSubmitter(a.chain, a.signer), nil
	}

	verifier, err := chain.ParseProgramAddress(a.cfg.VerifierProgramID)
	if err != nil {
		return nil, err
	}
	nonces, err := chain.ParseProgramAddress(a.cfg.NonceProgramID)
	if err != nil {
		return nil, err
	}
	return join.NewPasskeySubmitter(join.PasskeySubmitterConfig{
		Sender:   a.chain,
		Relayer:  a.signer,
		Nonces:   chain.NewNonceService(a.chain, nonces),
		Signer:   a.popup,
		Accounts: a.programIDs,
		Verifier: verifier,
		Logger:   a.logger,
	}), nil
}

// Machine builds the join machine. Without VARA_ETH_WS an accepted join is
// treated as final.
func (a *App) Machine(counter join.Counter, onChange func(join.State)) (*join.Machine, error) {
	submitter, err := a.Submitter()
	if err != nil {
		return nil, err
	}

	var events join.Events
	if a.cfg.WSURL != "" {
		events = chain.NewEventSubscriber(a.cfg.WSURL, a.logger)
	} else {
		a.logger.Warn().Msg("VARA_ETH_WS not set, joins are not watched for finalization")
	}

	return join.New(join.Config{
		Store:                  a.api,
		Pending:                a.pending,
		Counter:                counter,
		Submitter:              submitter,
		Registry:               a.registry,
		Events:                 events,
		Logger:                 a.logger,
		RegistrationIsBlocking: a.cfg.RegistrationBlocking,
		WatchTimeout:           a.cfg.WatchTimeout,
		OnChange:               onChange,
	}), nil
}

// Program returns the registry program address.
func (a *App) Program() common.Address {
	return a.registry.Address()
}
