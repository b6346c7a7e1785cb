package main

import "cellgrid/cmd"

func main() {
	cmd.Execute()
}
