package main

import "github.com/nextlevelbuilder/gohive/cmd"

func main() {
	cmd.Execute()
}
