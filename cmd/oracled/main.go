package main

import (
	"os"

	"github.com/GPTx-global/flightsurety/oracle/log"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
