package main

import "github.com/ValentinKolb/dOBJ/cmd"

func main() {
	cmd.Execute()
}
