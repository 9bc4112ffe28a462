package main

import (
	"github.com/brocaar/chirpstack-devaddr-cache/cmd/chirpstack-devaddr-cache/cmd"
)

var version string // set by the compiler

func main() {
	cmd.Execute(version)
}
