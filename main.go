package main

import (
	"github.com/joho/godotenv"

	"github.com/gpxbridge/cli"
)

func main() {
	// A .env file is optional; exported environment variables work the same way
	_ = godotenv.Load()

	cli.Execute()
}
