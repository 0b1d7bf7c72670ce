package main

import (
	"log"

	"github.com/austindbirch/payhook/cmd/payhookctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
