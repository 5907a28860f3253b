// Command bankaccount serves and operates the event-sourced bank account
// service.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
