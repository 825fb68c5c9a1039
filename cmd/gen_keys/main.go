package main

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"flag"
	"fmt"
	"log"

	"minimal-sessions/client"
	"minimal-sessions/crypto"
)

func main() {
	algo := flag.String("algo", "ecdsa", "signing key algorithm: ecdsa or ed25519")
	sign := flag.Bool("sign", false, "also print a signed ephemeral key")
	flag.Parse()

	// Generate a new signing key
	var priv any
	switch *algo {
	case "ecdsa":
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			log.Fatalf("Failed to generate private key: %v", err)
		}
		priv = k
	case "ed25519":
		_, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			log.Fatalf("Failed to generate private key: %v", err)
		}
		priv = k
	default:
		log.Fatalf("Unknown algorithm %q", *algo)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		log.Fatalf("Failed to marshal private key: %v", err)
	}
	signer, err := client.ParseSigner(crypto.B64(der))
	if err != nil {
		log.Fatalf("Failed to load private key: %v", err)
	}
	pub, err := signer.PublicKey()
	if err != nil {
		log.Fatalf("Failed to derive public key: %v", err)
	}

	// Long-term exchange key published next to the signing key
	exchange, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("Failed to generate exchange key: %v", err)
	}
	exchangeDER, err := x509.MarshalPKIXPublicKey(exchange.PublicKey())
	if err != nil {
		log.Fatalf("Failed to marshal exchange key: %v", err)
	}

	// Print the keys in env format
	fmt.Printf("SIGNING_KEY=%s\n", crypto.B64(der))
	fmt.Printf("SIGNING_PUBLIC_KEY=%s\n", pub)
	fmt.Printf("EXCHANGE_PUBLIC_KEY=%s\n", crypto.B64(exchangeDER))

	if *sign {
		hs, err := signer.NewHandshake()
		if err != nil {
			log.Fatalf("Failed to sign ephemeral key: %v", err)
		}
		fmt.Printf("EPHEMERAL_PUBLIC_KEY=%s\n", hs.PublicKey)
		fmt.Printf("EPHEMERAL_SIGNATURE=%s\n", hs.Signature)
	}
}
