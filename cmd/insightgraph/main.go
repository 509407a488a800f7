package main

import (
	"log"

	"insightgraph/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}
