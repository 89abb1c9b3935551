// Package discovery resolves the connectivity and trust material of the
// gateway core that serves a thing, using the Greengrass discovery API.
package discovery

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"coffee-telemetry/internal/retry"
)

const (
	DefaultPort        = 8443
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 1

	maxBody = 1 << 20
)

type Config struct {
	Host string
	Port int

	RootCAPath string
	CertPath   string
	KeyPath    string

	Timeout     time.Duration
	MaxAttempts int
	// BackOff overrides the progressive schedule when set.
	BackOff backoff.BackOff

	GroupCADir string
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
	base *url.URL
}

// New loads the credentials and builds a mutual-TLS HTTP client. No
// network activity happens until Discover.
func New(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("discovery: empty endpoint host")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.GroupCADir == "" {
		cfg.GroupCADir = DefaultGroupCADir
	}
	if log == nil {
		log = zap.NewNop()
	}

	tlsCfg, err := clientTLS(cfg.RootCAPath, cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: cfg.Timeout}).DialContext,
		TLSClientConfig:     tlsCfg,
		TLSHandshakeTimeout: cfg.Timeout,
		ForceAttemptHTTP2:   false,
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: tr, Timeout: cfg.Timeout},
		log:  log,
		base: &url.URL{Scheme: "https", Host: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))},
	}, nil
}

func clientTLS(rootCAPath, certPath, keyPath string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(rootCAPath)
	if err != nil {
		return nil, fmt.Errorf("read root CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("root CA %s: no certificates found", rootCAPath)
	}
	crt, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load client key pair: %w", err)
	}
	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{crt},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Discover asks the service for thingName's core, retrying transient
// failures up to the configured attempt count. On success the group CA
// is written to the group CA directory.
func (c *Client) Discover(ctx context.Context, thingName string) (Result, error) {
	var res Result
	policy := retry.Policy{MaxAttempts: c.cfg.MaxAttempts, BackOff: c.cfg.BackOff}
	if policy.BackOff == nil {
		policy.BackOff = retry.Progressive()
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Info("backing off before next discovery attempt",
			zap.Int("retries_left", c.cfg.MaxAttempts-attempt),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Duration("delay", delay),
		)
	}

	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		r, err := c.discoverOnce(ctx, thingName)
		if err != nil {
			if errors.Is(err, ErrInvalidRequest) {
				c.log.Error("invalid discovery request",
					zap.String("category", "discovery_invalid"),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
			} else {
				c.log.Warn("discovery attempt failed",
					zap.String("category", "discovery_transient"),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
			}
			return err
		}
		res = r
		return nil
	}, Classify)
	if err != nil {
		return Result{}, err
	}

	path, err := WriteTrustAnchor(c.cfg.GroupCADir, res.GroupID, res.TrustAnchor)
	if err != nil {
		return Result{}, err
	}
	res.TrustAnchorPath = path
	c.log.Info("group CA stored", zap.String("group_id", res.GroupID), zap.String("path", path))
	return res, nil
}

// Classify maps discovery errors onto retry classes.
func Classify(err error) retry.Class {
	if errors.Is(err, ErrInvalidRequest) {
		return retry.Fatal
	}
	return retry.Retryable
}

func (c *Client) discoverOnce(ctx context.Context, thingName string) (Result, error) {
	u := c.base.JoinPath("greengrass", "discover", "thing", thingName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, invalid(0, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, transient(0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Result{}, transient(resp.StatusCode, err)
	}
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return Result{}, invalid(resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, trim(body)))
	case resp.StatusCode != http.StatusOK:
		return Result{}, transient(resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, trim(body)))
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{}, transient(resp.StatusCode, fmt.Errorf("decode discovery document: %w", err))
	}
	res, err := pickFirst(doc)
	if err != nil {
		return Result{}, transient(resp.StatusCode, err)
	}
	c.log.Info("discovered core device",
		zap.String("group_id", res.GroupID),
		zap.String("core_thing_arn", res.CoreThingArn),
		zap.Int("endpoints", len(res.Endpoints)),
	)
	return res, nil
}

// pickFirst takes the first group, its first CA and its first core.
// There is no preference scoring.
func pickFirst(doc Document) (Result, error) {
	if len(doc.Groups) == 0 {
		return Result{}, errors.New("no groups in discovery document")
	}
	g := doc.Groups[0]
	if len(g.CAs) == 0 {
		return Result{}, fmt.Errorf("group %s has no CA", g.GroupID)
	}
	if len(g.Cores) == 0 {
		return Result{}, fmt.Errorf("group %s has no core", g.GroupID)
	}
	core := g.Cores[0]
	eps := make([]Endpoint, 0, len(core.Connectivity))
	for _, ci := range core.Connectivity {
		eps = append(eps, Endpoint{Host: ci.HostAddress, Port: ci.PortNumber})
	}
	return Result{
		GroupID:      g.GroupID,
		CoreThingArn: core.ThingArn,
		TrustAnchor:  []byte(g.CAs[0]),
		Endpoints:    eps,
	}, nil
}

func trim(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
