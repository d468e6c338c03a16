package main

import "github.com/ValentinKolb/varstore/cmd"

func main() {
	cmd.Execute()
}
