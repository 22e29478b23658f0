package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"gopkg.in/square/go-jose.v2"
)

func TestCryptoSigner(t *testing.T) {
	ctx := context.Background()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	kid := "somekey"

	s, err := NewFromCrypto(key, kid)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	jwt := []byte(`{"sub": "sub ject"}`)

	signed, err := s.Sign(ctx, jwt)
	if err != nil {
		t.Fatalf("error signing: %v", err)
	}

	pl, err := s.VerifySignature(ctx, string(signed))
	if err != nil {
		t.Fatalf("error verifying signed jwt: %v", err)
	}

	if string(pl) != string(jwt) {
		t.Fatalf("want: %s, got: %s", string(jwt), string(pl))
	}
}

func TestCryptoSignerECDSACurves(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		Name    string
		Curve   elliptic.Curve
		WantAlg jose.SignatureAlgorithm
		WantErr bool
	}{
		{Name: "P-256", Curve: elliptic.P256(), WantAlg: jose.ES256},
		{Name: "P-384", Curve: elliptic.P384(), WantAlg: jose.ES384},
		{Name: "P-521", Curve: elliptic.P521(), WantAlg: jose.ES512},
		{Name: "P-224", Curve: elliptic.P224(), WantErr: true},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			key, err := ecdsa.GenerateKey(tc.Curve, rand.Reader)
			if err != nil {
				t.Fatal(err)
			}

			s, err := NewFromCrypto(key, "")
			if tc.WantErr {
				if err == nil {
					t.Fatal("want error for unsupported curve, got none")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			alg, err := s.SignerAlg(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if alg != tc.WantAlg {
				t.Errorf("want alg %s, got %s", tc.WantAlg, alg)
			}

			jwt := []byte(`{"sub":"user"}`)
			signed, err := s.Sign(ctx, jwt)
			if err != nil {
				t.Fatalf("error signing: %v", err)
			}
			pl, err := s.VerifySignature(ctx, string(signed))
			if err != nil {
				t.Fatalf("error verifying signed jwt: %v", err)
			}
			if string(pl) != string(jwt) {
				t.Errorf("want: %s, got: %s", jwt, pl)
			}

			jws, err := jose.ParseSigned(string(signed))
			if err != nil {
				t.Fatal(err)
			}
			if got := jws.Signatures[0].Header.Algorithm; got != string(tc.WantAlg) {
				t.Errorf("want header alg %s, got %s", tc.WantAlg, got)
			}
		})
	}
}

func TestParsePrivateKeyPEM(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	ecDER, err := x509.MarshalECPrivateKey(ecKey)
	if err != nil {
		t.Fatal(err)
	}
	pkcs8DER, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	if err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		Name    string
		PEM     []byte
		WantAlg jose.SignatureAlgorithm
		WantErr bool
	}{
		{
			Name:    "PKCS1 RSA",
			PEM:     pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}),
			WantAlg: jose.RS256,
		},
		{
			Name:    "SEC1 EC",
			PEM:     pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: ecDER}),
			WantAlg: jose.ES256,
		},
		{
			Name:    "PKCS8",
			PEM:     pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8DER}),
			WantAlg: jose.RS256,
		},
		{
			Name:    "Certificate",
			PEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("x")}),
			WantErr: true,
		},
		{
			Name:    "Not PEM",
			PEM:     []byte("hello"),
			WantErr: true,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			key, err := ParsePrivateKeyPEM(tc.PEM)
			if tc.WantErr {
				if err == nil {
					t.Fatal("want error, got none")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			s, err := NewFromCrypto(key, "")
			if err != nil {
				t.Fatal(err)
			}
			alg, err := s.SignerAlg(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if alg != tc.WantAlg {
				t.Errorf("want alg %s, got %s", tc.WantAlg, alg)
			}
			if s.keyID == "" {
				t.Error("want key ID derived from thumbprint")
			}
		})
	}
}
