package main

import (
	"os"

	"github.com/sgaunet/s3bucketstats/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
