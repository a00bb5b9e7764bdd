package supervisor

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/retroshare-go/retronode/internal/identity"
	"github.com/retroshare-go/retronode/internal/model"
)

// cipherSuites restricts TLS 1.2 links to forward-secret AEAD suites.
// TLS 1.3 suites are AEAD-only already and not configurable.
var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// clientTLSConfig builds the config for an outbound attempt toward one
// expected location. Standard chain/hostname verification is replaced by
// the exact CN match against the expected 16-byte id plus the PGP vouch,
// since location certificates are self-issued.
func clientTLSConfig(cert tls.Certificate, verifier identity.Verifier, expected model.SslID, pgp model.PgpID) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		MinVersion:            tls.VersionTLS12,
		CipherSuites:          cipherSuites,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyAgainst(verifier, expected, pgp),
	}
}

// serverTLSConfig builds the listener-side config. The dialer's identity
// is not known until its certificate arrives, so verification resolves the
// claimed location from the CN and checks it is a known peer.
func serverTLSConfig(cert tls.Certificate, resolve func(model.SslID) (model.PgpID, bool), verifier identity.Verifier) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: cipherSuites,
		ClientAuth:   tls.RequireAnyClientCert,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("supervisor: peer sent no certificate")
			}
			id, err := peerSslID(rawCerts[0])
			if err != nil {
				return err
			}
			pgp, known := resolve(id)
			if !known {
				return fmt.Errorf("supervisor: inbound connection from unknown location %s", id)
			}
			return verifier.VerifyLocationCert(pgp, id, rawCerts[0])
		},
	}
}

func verifyAgainst(verifier identity.Verifier, expected model.SslID, pgp model.PgpID) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("supervisor: peer sent no certificate")
		}
		return verifier.VerifyLocationCert(pgp, expected, rawCerts[0])
	}
}

// peerSslID extracts the location id a raw leaf certificate claims.
func peerSslID(der []byte) (model.SslID, error) {
	cn, err := leafCN(der)
	if err != nil {
		return model.SslID{}, err
	}
	return identity.SslIDFromCN(cn)
}
