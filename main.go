package main

import (
	"os"

	"github.com/joho/godotenv"

	"anomalyd/internal/cli"
)

func main() {
	_ = godotenv.Load()
	os.Exit(cli.Execute(os.Args[1:]))
}
