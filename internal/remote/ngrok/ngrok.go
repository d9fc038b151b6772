// Package ngrok exposes the local web console through an ngrok tunnel so the
// operator can reach it away from the box running the agent.
package ngrok

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	ngrok "golang.ngrok.com/ngrok"
	ngrokcfg "golang.ngrok.com/ngrok/config"

	"github.com/roostbot/roost/internal/config"
)

type Options struct {
	LocalAddr     string
	Authtoken     string
	Region        string
	Domain        string
	BasicAuthUser string
	BasicAuthPass string
}

// FromConfig builds tunnel options from the global configuration, pointing at
// the local web console port.
func FromConfig(cfg *config.RoostCfg) Options {
	return Options{
		LocalAddr:     fmt.Sprintf("http://localhost:%d", cfg.Web.Port),
		Authtoken:     cfg.Ngrok.Authtoken,
		Region:        cfg.Ngrok.Region,
		Domain:        cfg.Ngrok.Domain,
		BasicAuthUser: cfg.Ngrok.BasicAuthUser,
		BasicAuthPass: cfg.Ngrok.BasicAuthPass,
	}
}

// HasToken reports whether an authtoken is available, either configured or via
// the NGROK_AUTHTOKEN environment variable. Starting without one always fails,
// so callers check this first and log a warning instead.
func (o Options) HasToken() bool {
	return o.Authtoken != "" || os.Getenv("NGROK_AUTHTOKEN") != ""
}

func (o Options) endpointOptions() []ngrokcfg.HTTPEndpointOption {
	opts := make([]ngrokcfg.HTTPEndpointOption, 0, 2)
	if o.Domain != "" {
		opts = append(opts, ngrokcfg.WithDomain(o.Domain))
	}
	if o.BasicAuthUser != "" && o.BasicAuthPass != "" {
		opts = append(opts, ngrokcfg.WithBasicAuth(o.BasicAuthUser, o.BasicAuthPass))
	}
	return opts
}

func (o Options) connectOptions() []ngrok.ConnectOption {
	opts := make([]ngrok.ConnectOption, 0, 2)
	if o.Authtoken != "" {
		opts = append(opts, ngrok.WithAuthtoken(o.Authtoken))
	} else {
		opts = append(opts, ngrok.WithAuthtokenFromEnv())
	}
	if o.Region != "" {
		opts = append(opts, ngrok.WithRegion(o.Region))
	}
	return opts
}

type Tunnel struct {
	forwarder ngrok.Forwarder
}

// Start connects to ngrok and forwards the public endpoint to the local web
// console. The tunnel lives until Close or until ctx is cancelled.
func Start(ctx context.Context, opts Options) (*Tunnel, error) {
	if opts.LocalAddr == "" {
		return nil, errors.New("ngrok local address is required")
	}

	backend, err := url.Parse(opts.LocalAddr)
	if err != nil {
		return nil, err
	}

	fwd, err := ngrok.ListenAndForward(ctx, backend, ngrokcfg.HTTPEndpoint(opts.endpointOptions()...), opts.connectOptions()...)
	if err != nil {
		return nil, err
	}

	return &Tunnel{forwarder: fwd}, nil
}

func (t *Tunnel) URL() string {
	if t == nil || t.forwarder == nil {
		return ""
	}
	return t.forwarder.URL()
}

func (t *Tunnel) Close() error {
	if t == nil || t.forwarder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.forwarder.CloseWithContext(ctx)
}
