package main

import "github.com/jmehdipour/mail-outbox/cmd"

func main() {
	cmd.Execute()
}
