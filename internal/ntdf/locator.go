package ntdf

import (
	"fmt"
	"net/url"
	"strings"
)

// Locator protocol bytes.
const (
	ProtocolHTTP  byte = 0x00
	ProtocolHTTPS byte = 0x01
)

// Locator identifies the key access server a link was encrypted for.
// Body is the URL without its scheme, host[:port] plus optional path.
type Locator struct {
	Protocol byte
	Body     string
}

// NewLocator builds a Locator from an http or https URL.
func NewLocator(rawurl string) (Locator, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return Locator{}, fmt.Errorf("parse locator URL: %w", err)
	}

	var proto byte
	switch u.Scheme {
	case "http":
		proto = ProtocolHTTP
	case "https":
		proto = ProtocolHTTPS
	default:
		return Locator{}, fmt.Errorf("locator scheme must be http or https, got %q", u.Scheme)
	}

	body := u.Host + strings.TrimSuffix(u.Path, "/")
	loc := Locator{Protocol: proto, Body: body}
	if err := loc.validate(); err != nil {
		return Locator{}, err
	}
	return loc, nil
}

// URL reassembles the locator into a fetchable URL.
func (l Locator) URL() string {
	scheme := "http"
	if l.Protocol == ProtocolHTTPS {
		scheme = "https"
	}
	return scheme + "://" + l.Body
}

func (l Locator) validate() error {
	if l.Protocol != ProtocolHTTP && l.Protocol != ProtocolHTTPS {
		return fmt.Errorf("unknown locator protocol 0x%02x", l.Protocol)
	}
	if l.Body == "" {
		return fmt.Errorf("locator body is empty")
	}
	if len(l.Body) > 255 {
		return fmt.Errorf("locator body is %d bytes, max 255", len(l.Body))
	}
	return nil
}
