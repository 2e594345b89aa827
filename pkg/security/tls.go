// Package security builds the TLS configuration used to dial the panel.
package security

import "crypto/tls"

// PanelTLSConfig builds the crypto/tls.Config used for the panel
// connection. The panel presents a self-signed certificate and is
// identified by IP, not by name, so hostname and chain verification are
// disabled by default: the out-of-band panel token is the actual
// authentication factor. Setting verify to true restores standard
// verification for deployments that front the panel with a real
// certificate.
//
// This is a deliberate, documented weakening of TLS's usual guarantees,
// not an oversight: it is a configuration default, never hardwired.
func PanelTLSConfig(verify bool) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !verify, //nolint:gosec // deliberate default; see doc comment
	}
}
