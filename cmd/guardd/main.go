package main

import "github.com/jrsteele09/cognito-guard/cmd/guardd/cmd"

func main() {
	cmd.Execute()
}
