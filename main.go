package main

import "github.com/khanhnv2901/seca-compliance/cmd"

var execCmd = cmd.Execute

func main() {
	execCmd()
}
