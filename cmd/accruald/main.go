package main

import (
	"log"

	"stakeledger/services/accruald"
)

func main() {
	if err := accruald.Main(); err != nil {
		log.Fatalf("accruald: %v", err)
	}
}
