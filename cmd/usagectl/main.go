// usagectl is the operator command-line interface for the Wrenchly usage
// service.
//
// It talks to the configured usage store and database directly, using the
// same environment as the server.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
