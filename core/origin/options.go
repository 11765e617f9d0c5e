package origin

import (
	"context"
	"fmt"
	"strings"
)

// ServerOptions is the server block handed to the host shell at launch.
type ServerOptions struct {
	URL           string `json:"url"`
	Cleartext     bool   `json:"cleartext"`
	AndroidScheme string `json:"androidScheme"`
}

// HostOptions is the launch configuration override. Server is nil when the
// host should use its bundled content.
type HostOptions struct {
	Server *ServerOptions `json:"server,omitempty"`
}

// Options derives the host launch override from the effective origin.
// Explicit cleartext and scheme settings win over values inferred from the
// URL.
func (s *State) Options(ctx context.Context) (HostOptions, error) {
	eff, err := s.Effective(ctx)
	if err != nil {
		return HostOptions{}, err
	}
	if eff.URL == "" {
		return HostOptions{}, nil
	}
	opts := serverOptions(eff.URL)
	cleartext, ok, err := s.deps.Prefs.GetBool(ctx, KeyCleartext)
	if err != nil {
		return HostOptions{}, fmt.Errorf("read cleartext: %w", err)
	}
	if ok {
		opts.Cleartext = cleartext
	}
	scheme, _, err := s.deps.Prefs.GetString(ctx, KeyScheme)
	if err != nil {
		return HostOptions{}, fmt.Errorf("read scheme: %w", err)
	}
	if scheme != "" {
		opts.AndroidScheme = scheme
	}
	return HostOptions{Server: opts}, nil
}

func serverOptions(url string) *ServerOptions {
	cleartext := strings.HasPrefix(url, "http://")
	scheme := "https"
	if cleartext {
		scheme = "http"
	}
	return &ServerOptions{URL: url, Cleartext: cleartext, AndroidScheme: scheme}
}

// SetCleartext records an explicit cleartext override.
func (s *State) SetCleartext(ctx context.Context, allow bool) error {
	return s.deps.Prefs.SetBool(ctx, KeyCleartext, allow)
}

// Cleartext returns the recorded override, false when unset.
func (s *State) Cleartext(ctx context.Context) (bool, error) {
	v, _, err := s.deps.Prefs.GetBool(ctx, KeyCleartext)
	return v, err
}

// SetScheme records an explicit scheme override.
func (s *State) SetScheme(ctx context.Context, scheme string) error {
	scheme = strings.TrimSpace(scheme)
	if scheme == "" {
		return s.deps.Prefs.Delete(ctx, KeyScheme)
	}
	return s.deps.Prefs.SetString(ctx, KeyScheme, scheme)
}

// Scheme returns the recorded override, empty when unset.
func (s *State) Scheme(ctx context.Context) (string, error) {
	v, _, err := s.deps.Prefs.GetString(ctx, KeyScheme)
	return v, err
}
