package main

import "github.com/ValentinKolb/dWatch/cmd"

func main() {
	cmd.Execute()
}
