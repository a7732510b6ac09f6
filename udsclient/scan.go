package udsclient

import (
	"errors"
	"fmt"

	"github.com/LoveWonYoung/ptcomm/j2534"
	"github.com/LoveWonYoung/ptcomm/profile"
)

// AutoDetectProfiles is how many built-in profiles AutoConnect tries when
// no candidates are given.
const AutoDetectProfiles = 7

// ErrNoECU is returned by AutoConnect when no profile got an answer.
var ErrNoECU = errors.New("no ECU answered")

// ScanResult is one profile that answered its communication check.
type ScanResult struct {
	Profile  profile.Profile
	Response j2534.Message
}

func (r ScanResult) String() string {
	return fmt.Sprintf("%s: % X", r.Profile, r.Response.Payload)
}

func probe(cfg j2534.Config, p profile.Profile, opts []Option) (*Client, j2534.Message, error) {
	c, err := Dial(cfg, p, opts...)
	if err != nil {
		return nil, j2534.Message{}, err
	}
	m, err := c.CheckCommunication()
	if err != nil {
		_ = c.Close()
		return nil, j2534.Message{}, err
	}
	return c, m, nil
}

// Scan dials every profile in turn and reports the ones whose communication
// check was answered. Each connection is closed again.
func Scan(cfg j2534.Config, profiles []profile.Profile, opts ...Option) []ScanResult {
	log := cfg.Logger
	var results []ScanResult
	for _, p := range profiles {
		c, m, err := probe(cfg, p, opts)
		if err != nil {
			if log != nil {
				log.Debug("scan: no answer", "profile", p.Key, "err", err)
			}
			continue
		}
		results = append(results, ScanResult{Profile: p, Response: m})
		if err := c.Close(); err != nil && log != nil {
			log.Warn("scan: close failed", "profile", p.Key, "err", err)
		}
	}
	return results
}

// AutoConnect returns a connected Client for the first candidate that
// answers its communication check. Nil candidates means the first
// AutoDetectProfiles built-in profiles.
func AutoConnect(cfg j2534.Config, candidates []profile.Profile, opts ...Option) (*Client, error) {
	if candidates == nil {
		candidates = profile.Builtin()[:AutoDetectProfiles]
	}
	var lastErr error
	for _, p := range candidates {
		c, _, err := probe(cfg, p, opts)
		if err == nil {
			c.log.Info("auto connect succeeded")
			return c, nil
		}
		lastErr = err
		if cfg.Logger != nil {
			cfg.Logger.Debug("auto connect: no answer", "profile", p.Key, "err", err)
		}
	}
	if lastErr == nil {
		return nil, ErrNoECU
	}
	return nil, fmt.Errorf("%w after %d profiles: %w", ErrNoECU, len(candidates), lastErr)
}
