package fetcher

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"golang.org/x/net/http/httpproxy"
)

// ProxyConfig carries the outbound-proxy settings for a transport.
type ProxyConfig struct {
	HTTP    string
	HTTPS   string
	NoProxy string
	// Username and Password, when set, are folded into the proxy URLs.
	Username string
	Password string
}

// TLSConfig carries the TLS material for a transport. A client
// certificate plus key is required for feeds like the RHEL CDN.
type TLSConfig struct {
	CABundle   string
	ClientCert string
	ClientKey  string
	// Insecure disables server-certificate verification.
	Insecure bool
}

// NewTransport builds an *http.Transport from proxy and TLS settings.
// Zero-value configs produce a default transport.
func NewTransport(proxy ProxyConfig, tlsc TLSConfig) (*http.Transport, error) {
	t := http.DefaultTransport.(*http.Transport).Clone()

	if proxy.HTTP != "" || proxy.HTTPS != "" || proxy.NoProxy != "" {
		cfg := &httpproxy.Config{
			HTTPProxy:  withCreds(proxy.HTTP, proxy.Username, proxy.Password),
			HTTPSProxy: withCreds(proxy.HTTPS, proxy.Username, proxy.Password),
			NoProxy:    proxy.NoProxy,
		}
		pf := cfg.ProxyFunc()
		t.Proxy = func(req *http.Request) (*url.URL, error) {
			return pf(req.URL)
		}
	}

	if tlsc.CABundle != "" || tlsc.ClientCert != "" || tlsc.Insecure {
		tc := &tls.Config{}
		if tlsc.CABundle != "" {
			pem, err := os.ReadFile(tlsc.CABundle)
			if err != nil {
				return nil, fmt.Errorf("fetcher: unable to read CA bundle: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("fetcher: no certificates in CA bundle %q", tlsc.CABundle)
			}
			tc.RootCAs = pool
		}
		if tlsc.ClientCert != "" {
			cert, err := tls.LoadX509KeyPair(tlsc.ClientCert, tlsc.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("fetcher: unable to load client certificate: %w", err)
			}
			tc.Certificates = []tls.Certificate{cert}
		}
		tc.InsecureSkipVerify = tlsc.Insecure
		t.TLSClientConfig = tc
	}
	return t, nil
}

func withCreds(raw, user, pass string) string {
	if raw == "" || user == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}
