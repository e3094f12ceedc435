package main

import "github.com/taxlot/taxlot/cmd"

func main() {
	cmd.Execute()
}
