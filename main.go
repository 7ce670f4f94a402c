package main

import "github.com/jcdickinson/ferrisindex/cmd"

func main() {
	cmd.Execute()
}
