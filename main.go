package main

import (
	"soniqfm/cmd"
)

func main() {
	cmd.Execute()
}
