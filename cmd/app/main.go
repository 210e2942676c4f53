package main

import (
	"github.com/joho/godotenv"

	"gallerio/internal/cli"
)

func main() {
	_ = godotenv.Load()
	cli.Execute()
}
