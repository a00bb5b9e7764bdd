package supervisor

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/retroshare-go/retronode/internal/identity"
	"github.com/retroshare-go/retronode/internal/model"
)

func locID(b byte) model.SslID {
	var id model.SslID
	for i := range id {
		id[i] = b
	}
	return id
}

func makeCertDER(t *testing.T, cn string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return der
}

func keyringWith(t *testing.T, pgp model.PgpID) *identity.Keyring {
	t.Helper()
	e, err := openpgp.NewEntity("peer", "", "peer@example.org", &packet.Config{})
	if err != nil {
		t.Fatal(err)
	}
	k := identity.NewKeyring()
	k.Add(pgp, e)
	return k
}

func TestClientTLSConfigPolicy(t *testing.T) {
	cfg := clientTLSConfig(tls.Certificate{}, identity.NewKeyring(), locID(1), 1)
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("min version = %x", cfg.MinVersion)
	}
	if !cfg.InsecureSkipVerify || cfg.VerifyPeerCertificate == nil {
		t.Fatal("chain verification must be replaced by the custom check")
	}
	for _, suite := range cfg.CipherSuites {
		switch suite {
		case tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256:
		default:
			t.Fatalf("non-forward-secret/non-AEAD suite 0x%04x", suite)
		}
	}
}

func TestClientVerifyMatchesExpectedLocation(t *testing.T) {
	id := locID(0xaa)
	const pgp = model.PgpID(42)
	k := keyringWith(t, pgp)

	cfg := clientTLSConfig(tls.Certificate{}, k, id, pgp)
	good := makeCertDER(t, id.String())
	if err := cfg.VerifyPeerCertificate([][]byte{good}, nil); err != nil {
		t.Fatalf("expected cert accepted: %v", err)
	}

	imposter := makeCertDER(t, locID(0xbb).String())
	if err := cfg.VerifyPeerCertificate([][]byte{imposter}, nil); err == nil {
		t.Fatal("certificate for another location must be rejected")
	}
	if err := cfg.VerifyPeerCertificate(nil, nil); err == nil {
		t.Fatal("empty chain must be rejected")
	}
}

func TestServerVerifyResolvesInboundPeer(t *testing.T) {
	known := locID(0xcc)
	const pgp = model.PgpID(7)
	k := keyringWith(t, pgp)
	resolve := func(id model.SslID) (model.PgpID, bool) {
		if id == known {
			return pgp, true
		}
		return 0, false
	}

	cfg := serverTLSConfig(tls.Certificate{}, resolve, k)
	if cfg.ClientAuth != tls.RequireAnyClientCert {
		t.Fatal("inbound side must require a client certificate")
	}

	if err := cfg.VerifyPeerCertificate([][]byte{makeCertDER(t, known.String())}, nil); err != nil {
		t.Fatalf("known inbound peer rejected: %v", err)
	}
	stranger := makeCertDER(t, locID(0xdd).String())
	if err := cfg.VerifyPeerCertificate([][]byte{stranger}, nil); err == nil {
		t.Fatal("unknown inbound location must be rejected")
	}
}
