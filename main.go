package main

import (
	"log"

	"github.com/lokiorch/loki/cmd/loki"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	loki.Execute()
}
