package main

import "github.com/SafeMPC/stealth-sap/cmd"

func main() {
	cmd.Execute()
}
