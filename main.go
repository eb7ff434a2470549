package main

import "github.com/D9292S/Quantum-Bank/cmd"

func main() {
	cmd.Execute()
}
