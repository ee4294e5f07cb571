package main

import (
	"github.com/akitasoftware/pcaptrack/cmd"
)

func main() {
	cmd.Execute()
}
