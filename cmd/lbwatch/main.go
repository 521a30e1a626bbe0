package main

import (
	"context"
	"log"

	"github.com/MrSnakeDoc/lbwatch/internal/app"
)

func main() {
	a, err := app.New(context.Background())
	if err != nil {
		log.Fatalf("❌ lbwatch failed to start: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("❌ lbwatch stopped with an error: %v", err)
	}
}
