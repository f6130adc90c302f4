package main

import (
	"log"

	"github.com/BruksfildServices01/realty-crm/internal/commands"
)

func main() {
	if err := commands.New().Execute(); err != nil {
		log.Fatalf("error during command execution: %v", err)
	}
}
