package main

import (
	"os"

	"github.com/leonardcser/shmkv/cmd/shmkv/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
