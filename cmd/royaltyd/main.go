package main

import (
	"log"

	"royaltysync/cmd/internal/passphrase"
	"royaltysync/services/royaltyd"
)

func main() {
	prompt := func(envVar string) func() (string, error) {
		return passphrase.NewSource(envVar).Get
	}
	if err := royaltyd.Main(prompt); err != nil {
		log.Fatalf("royaltyd: %v", err)
	}
}
