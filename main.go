package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"btc-borrow/cmd"
)

func main() {
	// .env is optional; configuration may come from the environment or the config file.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
