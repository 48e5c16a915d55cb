package main

import "github.com/ayo6706/custody-ledger/cmd/custody/cmd"

func main() {
	cmd.Execute()
}
