// Command keygen generates an Ed25519 license signing key pair, or
// derives the public key from an existing private key. The private key
// goes into the server environment; the public key ships inside the
// desktop application for offline verification.
package main

import (
	"flag"
	"fmt"
	"os"

	"qoredb/internal/license"
)

func main() {
	derive := flag.String("derive", "", "derive the public key from this base64 private key instead of generating a new pair")
	flag.Parse()

	if *derive != "" {
		pub, err := license.DerivePublicKey(*derive)
		if err != nil {
			fmt.Fprintf(os.Stderr, "derive public key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(pub)
		return
	}

	pub, priv, err := license.NewKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key pair: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s=%s\n", license.PrivateKeyEnvVar, priv)
	fmt.Printf("QOREDB_LICENSE_PUBLIC_KEY=%s\n", pub)
}
